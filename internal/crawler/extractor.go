package crawler

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/logger"
)

var (
	pricePattern = regexp.MustCompile(`(?i)\d[\d.,\s\x{00a0}]*\s*(€|eur|euro|lei|ron|\$|usd)`)
	sizePattern  = regexp.MustCompile(`(?i)\d[\d.,]*\s*(mp|m²|m2|sq)`)
)

const (
	minContentLength = 50
	minAddressLength = 10
	maxAddressLength = 200
	minImageURLLen   = 20
)

// Extractor pulls listing links and property fields out of HTML pages
// using the configured selector table.
type Extractor struct {
	selectors config.Selectors
	baseURL   string
	denyList  map[string]bool
	log       *logger.Logger
}

// NewExtractor creates an extractor for cfg's selectors and base URL
func NewExtractor(cfg *config.ScraperConfig, log *logger.Logger) *Extractor {
	deny := make(map[string]bool, len(cfg.ImageDenyList))
	for _, name := range cfg.ImageDenyList {
		deny[strings.ToLower(name)] = true
	}
	return &Extractor{
		selectors: cfg.Selectors,
		baseURL:   cfg.BaseURL,
		denyList:  deny,
		log:       log,
	}
}

// ExtractListing returns the absolute property URLs linked from a listing
// page, de-duplicated in document order.
func (e *Extractor) ExtractListing(body string) (urls []string) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("Listing extraction failed")
			urls = nil
		}
	}()

	doc, err := parseDocument(body)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to parse listing page")
		return nil
	}

	seen := make(map[string]bool)
	for _, n := range doc.query(e.selectors.PropertyListURLs) {
		href := nodeAttr(n, "href")
		if href == "" {
			continue
		}
		abs := ResolveURL(e.baseURL, href)
		if seen[abs] {
			continue
		}
		seen[abs] = true
		urls = append(urls, abs)
	}
	return urls
}

// ExtractProperty reads every configured field from a property page.
// It never fails: unparsable pages and missing nodes give empty fields.
func (e *Extractor) ExtractProperty(body, sourceURL string) (raw RawProperty) {
	raw.SourceURL = sourceURL
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("url", sourceURL).Msg("Property extraction failed")
			raw = RawProperty{SourceURL: sourceURL}
		}
	}()

	doc, err := parseDocument(body)
	if err != nil {
		e.log.Warn().Err(err).Str("url", sourceURL).Msg("Failed to parse property page")
		return raw
	}

	base := e.baseURL
	if base == "" {
		base = sourceURL
	}

	s := e.selectors
	raw.Title = collapse(e.first(doc, s.Title, nil))
	raw.Content = e.first(doc, s.Content, func(text string) bool {
		return utf8.RuneCountInString(text) > minContentLength
	})
	raw.Price = collapse(e.first(doc, s.Price, pricePattern.MatchString))
	raw.Size = collapse(e.first(doc, s.Size, sizePattern.MatchString))
	raw.Address = collapse(e.first(doc, s.Address, func(text string) bool {
		n := utf8.RuneCountInString(collapse(text))
		return n > minAddressLength && n < maxAddressLength
	}))
	raw.Latitude = collapse(e.first(doc, s.Latitude, nil))
	raw.Longitude = collapse(e.first(doc, s.Longitude, nil))
	raw.Phone = collapse(e.first(doc, s.Phone, nil))
	raw.Images = e.images(doc, base)
	raw.Specifications = e.specifications(doc)

	return raw
}

// first returns the text of the first matching node accepted by keep.
// A nil keep accepts any non-empty text.
func (e *Extractor) first(doc *document, selector string, keep func(string) bool) string {
	for _, n := range doc.query(selector) {
		text := nodeText(n)
		if text == "" {
			continue
		}
		if keep == nil || keep(text) {
			return text
		}
	}
	return ""
}

func (e *Extractor) images(doc *document, base string) []string {
	var images []string
	for _, n := range doc.query(e.selectors.Images) {
		src := nodeAttr(n, "src")
		if src == "" {
			src = nodeAttr(n, "data-src")
		}
		if src == "" {
			continue
		}
		abs := ResolveURL(base, src)
		if len(abs) <= minImageURLLen || e.denied(abs) {
			continue
		}
		images = append(images, abs)
	}
	return images
}

func (e *Extractor) denied(imageURL string) bool {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	return e.denyList[strings.ToLower(path.Base(p))]
}

// specifications pairs the first two text blocks of each attribute node
func (e *Extractor) specifications(doc *document) Specifications {
	var specs Specifications
	for _, n := range doc.query(e.selectors.Specifications) {
		blocks := textBlocks(n)
		if len(blocks) < 2 || blocks[0] == "" {
			continue
		}
		specs = specs.add(blocks[0], blocks[1])
	}
	return specs
}
