package scraper

import (
	"context"
	"strings"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

// Rotation picks categories round-robin. The position is inferred from the
// newest imported record, so nothing is persisted between runs.
type Rotation struct {
	categories []config.Category
	store      store.PropertyStore
}

// NewRotation creates a rotation over categories in declaration order
func NewRotation(categories []config.Category, propertyStore store.PropertyStore) *Rotation {
	return &Rotation{categories: categories, store: propertyStore}
}

// NextCategory returns the category after the one of the most recently
// imported record, wrapping around. Without imports, or when the record's
// category cannot be determined, the first category is returned.
func (r *Rotation) NextCategory(ctx context.Context) (config.Category, error) {
	if len(r.categories) == 0 {
		return config.Category{}, errors.NewConfiguration("no category URLs configured", nil)
	}

	h, err := r.store.FindMostRecentImported(ctx)
	if err != nil {
		return r.categories[0], err
	}
	if h == nil {
		return r.categories[0], nil
	}

	idx := r.IndexOf(h)
	if idx < 0 {
		return r.categories[0], nil
	}
	return r.categories[(idx+1)%len(r.categories)], nil
}

// After returns the category following key, wrapping around
func (r *Rotation) After(key string) config.Category {
	for i, c := range r.categories {
		if c.Key == key {
			return r.categories[(i+1)%len(r.categories)]
		}
	}
	return r.categories[0]
}

// CategoryOf returns the category h was imported under
func (r *Rotation) CategoryOf(h *store.Handle) (config.Category, bool) {
	idx := r.IndexOf(h)
	if idx < 0 {
		return config.Category{}, false
	}
	return r.categories[idx], true
}

// IndexOf locates the category of h: by its stored category key, then by
// its property type and status terms, then by the longest category URL
// prefixing its source URL. Returns -1 when nothing matches.
func (r *Rotation) IndexOf(h *store.Handle) int {
	if h.CategoryKey != "" {
		for i, c := range r.categories {
			if c.Key == h.CategoryKey {
				return i
			}
		}
	}

	for i, c := range r.categories {
		if c.TypeTermID == "" || !contains(h.Terms[mapper.TaxonomyType], c.TypeTermID) {
			continue
		}
		if c.StatusTermID != "" && !contains(h.Terms[mapper.TaxonomyStatus], c.StatusTermID) {
			continue
		}
		return i
	}

	best, bestLen := -1, 0
	for i, c := range r.categories {
		if c.URL != "" && strings.HasPrefix(h.SourceURL, c.URL) && len(c.URL) > bestLen {
			best, bestLen = i, len(c.URL)
		}
	}
	return best
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
