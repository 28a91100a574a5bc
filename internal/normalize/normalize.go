// Package normalize turns scraped text into canonical field values.
package normalize

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// a digit run with internal thousands/decimal separators, ending in a digit
	numberRun     = regexp.MustCompile(`\d(?:[\d.,\s\x{00a0}\x{202f}]*\d)?`)
	notCoordinate = regexp.MustCompile(`[^\d.\-]`)
	htmlTag       = regexp.MustCompile(`<[^>]*>`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// NormalizeNumeric extracts the first number in raw. With allowDecimal the
// last '.' or ',' is the decimal point and earlier separators are dropped;
// without it only the digits are kept. Returns "" when raw has no digits.
func NormalizeNumeric(raw string, allowDecimal bool) string {
	match := numberRun.FindString(raw)
	if match == "" {
		return ""
	}

	if !allowDecimal {
		return keepDigits(match)
	}

	number := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == ',':
			return '.'
		}
		return r
	}, match)

	i := strings.LastIndexByte(number, '.')
	if i < 0 {
		return number
	}
	return strings.ReplaceAll(number[:i], ".", "") + "." + number[i+1:]
}

// NormalizeCoordinate strips everything but digits, '.' and '-' and returns
// the parsed float in its shortest form, or "" when nothing parses.
func NormalizeCoordinate(raw string) string {
	cleaned := notCoordinate.ReplaceAllString(raw, "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CleanPrice returns the integer price
func CleanPrice(raw string) string { return NormalizeNumeric(raw, false) }

// CleanSize returns a surface, keeping decimals
func CleanSize(raw string) string { return NormalizeNumeric(raw, true) }

// CleanNumber returns an integer count (rooms, bathrooms, year)
func CleanNumber(raw string) string { return NormalizeNumeric(raw, false) }

// CleanText decodes entities, strips tags and collapses whitespace
func CleanText(raw string) string {
	text := html.UnescapeString(strings.TrimSpace(raw))
	text = htmlTag.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// CleanContent decodes entities and trims, keeping line breaks
func CleanContent(raw string) string {
	return strings.TrimSpace(html.UnescapeString(raw))
}

// Excerpt returns the first words of content when it is longer than
// minLength characters, otherwise "".
func Excerpt(content string, minLength, words int) string {
	if len([]rune(content)) <= minLength {
		return ""
	}
	fields := strings.Fields(htmlTag.ReplaceAllString(content, " "))
	if len(fields) <= words {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:words], " ") + "..."
}

// Label normalizes a specification label for matching: trimmed,
// diacritics removed, lower case.
func Label(label string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, strings.TrimSpace(label))
	if err != nil {
		result = strings.TrimSpace(label)
	}
	return strings.ToLower(result)
}

func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
