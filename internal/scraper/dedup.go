package scraper

import (
	"context"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/services/cache"
)

const importedMemoTTL = time.Hour

// Deduplicator decides whether a candidate URL was already imported. The
// store is authoritative; the cache only remembers positive answers so a
// run does not query the store twice for the same listing.
type Deduplicator struct {
	store store.PropertyStore
	cache cache.CacheService
	ttl   time.Duration
	log   *logger.Logger
}

// NewDeduplicator creates a deduplicator. cacheSvc may be nil.
func NewDeduplicator(propertyStore store.PropertyStore, cacheSvc cache.CacheService, log *logger.Logger) *Deduplicator {
	return &Deduplicator{store: propertyStore, cache: cacheSvc, ttl: importedMemoTTL, log: log}
}

// IsDuplicate reports whether a record with exactly this source URL exists
// in an active status. URLs are compared as given.
func (d *Deduplicator) IsDuplicate(ctx context.Context, sourceURL string) (bool, error) {
	if d.cache != nil {
		if _, err := d.cache.Get(memoKey(sourceURL)); err == nil {
			return true, nil
		}
	}

	h, err := d.store.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		return false, err
	}
	if h == nil {
		return false, nil
	}
	d.remember(sourceURL, h.ID)
	return true, nil
}

// Remember records a fresh import so later checks skip the store
func (d *Deduplicator) Remember(h *store.Handle) {
	if h != nil {
		d.remember(h.SourceURL, h.ID)
	}
}

// Forget drops the import marker of a deleted record
func (d *Deduplicator) Forget(sourceURL string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Delete(memoKey(sourceURL)); err != nil {
		d.log.Debug().Err(err).Str("url", sourceURL).Msg("Failed to drop import marker")
	}
}

func (d *Deduplicator) remember(sourceURL, id string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.Set(memoKey(sourceURL), []byte(id), d.ttl); err != nil {
		d.log.Debug().Err(err).Str("url", sourceURL).Msg("Failed to cache import marker")
	}
}

func memoKey(sourceURL string) string {
	return cache.Key("imported", sourceURL)
}
