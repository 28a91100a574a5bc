package crawler

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// document is a parsed page queried with either CSS or XPath selectors
type document struct {
	root *html.Node
	doc  *goquery.Document
}

func parseDocument(body string) (*document, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &document{root: root, doc: goquery.NewDocumentFromNode(root)}, nil
}

// isXPath reports whether a selector is an XPath expression
func isXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "(")
}

// query returns the nodes matching selector in document order. Invalid
// selectors match nothing.
func (d *document) query(selector string) []*html.Node {
	if strings.TrimSpace(selector) == "" {
		return nil
	}
	if isXPath(selector) {
		expr, err := xpath.Compile(selector)
		if err != nil {
			return nil
		}
		return htmlquery.QuerySelectorAll(d.root, expr)
	}
	return d.doc.Find(selector).Nodes
}

// nodeText returns the trimmed text content of n
func nodeText(n *html.Node) string {
	return strings.TrimSpace(htmlquery.InnerText(n))
}

// nodeAttr returns an attribute of n. htmlquery returns XPath attribute
// selections (//img/@src) as an element named after the attribute.
func nodeAttr(n *html.Node, name string) string {
	if n.Type == html.ElementNode {
		if v := htmlquery.SelectAttr(n, name); v != "" {
			return strings.TrimSpace(v)
		}
		if n.Data == name && len(n.Attr) == 0 {
			return nodeText(n)
		}
		return ""
	}
	return nodeText(n)
}

// textBlocks returns the outermost descendants of n that carry text, in
// document order. Nested text-bearing elements are covered by their
// ancestor and not returned again.
func textBlocks(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if text := collapse(nodeText(c)); text != "" {
				out = append(out, text)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolveURL makes href absolute against base. Already absolute URLs are
// returned unchanged.
func ResolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Scheme == "" {
		if strings.HasPrefix(href, "//") {
			return "https:" + href
		}
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
	}

	ref, err := url.Parse(href)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
	}
	return baseURL.ResolveReference(ref).String()
}
