package mapper

import (
	"strings"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/internal/crawler"
	"github.com/gabrrrielll/real-estate-scraper/internal/normalize"
)

// MapSpecifications resolves raw attribute pairs onto target fields.
//
// Fields are tried in table order and each field's labels in their listed
// order; labels match after normalize.Label, exactly. The first matching
// label decides the field: if its value normalizes to "" the field stays
// unmapped. A raw label is consumed by at most one field.
func MapSpecifications(raw crawler.Specifications, table []config.SpecField) map[string]string {
	values := make(map[string]string, len(raw))
	for _, spec := range raw {
		key := normalize.Label(spec.Label)
		if _, seen := values[key]; !seen {
			values[key] = spec.Value
		}
	}

	mapped := make(map[string]string)
	used := make(map[string]bool)

	for _, field := range table {
		for _, label := range field.Labels {
			key := normalize.Label(label)
			value, found := values[key]
			if !found || used[key] {
				continue
			}

			if v := convert(value, field.Type); v != "" {
				mapped[field.Field] = v
				used[key] = true
			}
			break
		}
	}

	return mapped
}

func convert(value string, t config.ValueType) string {
	if t == config.ValueNumeric {
		return normalize.NormalizeNumeric(value, true)
	}
	return strings.TrimSpace(value)
}
