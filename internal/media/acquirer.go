// Package media downloads listing images into the media store.
package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/helpers"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

const defaultExtension = "jpg"

var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "avif": true, "bmp": true,
}

// Acquirer turns image URLs into stored media ids
type Acquirer struct {
	getter    helpers.Getter
	store     store.MediaStore
	userAgent string
	marker    string
	log       *logger.Logger
}

// NewAcquirer creates an acquirer
func NewAcquirer(getter helpers.Getter, mediaStore store.MediaStore, cfg *config.ScraperConfig, log *logger.Logger) *Acquirer {
	return &Acquirer{
		getter:    getter,
		store:     mediaStore,
		userAgent: cfg.UserAgent,
		marker:    strings.ToLower(cfg.PlaceholderMarker),
		log:       log,
	}
}

// Acquire returns media ids in input order. Media already downloaded from
// the same URL is reused. Failed images are logged and skipped. A set made
// only of placeholders yields nothing.
func (a *Acquirer) Acquire(ctx context.Context, urls []string) []string {
	urls = dedupe(urls)
	if len(urls) == 0 || a.allPlaceholders(urls) {
		return nil
	}

	var ids []string
	for _, imageURL := range urls {
		id, err := a.acquireOne(ctx, imageURL)
		if err != nil {
			a.log.Warn().Err(err).Str("image_url", imageURL).Msg("Failed to acquire image")
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (a *Acquirer) allPlaceholders(urls []string) bool {
	if a.marker == "" {
		return false
	}
	for _, u := range urls {
		if !strings.Contains(strings.ToLower(u), a.marker) {
			return false
		}
	}
	return true
}

func (a *Acquirer) acquireOne(ctx context.Context, imageURL string) (string, error) {
	existing, err := a.store.FindMediaByOrigin(ctx, imageURL)
	if err != nil {
		return "", err
	}
	if existing != nil {
		a.log.Debug().Str("image_url", imageURL).Str("media_id", existing.ID).Msg("Reusing existing media")
		return existing.ID, nil
	}

	resp, err := a.getter.Get(ctx, imageURL, helpers.BrowserHeaders(a.userAgent))
	if err != nil {
		return "", errors.NewFetch(imageURL, "image download failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.NewFetch(imageURL, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}
	if len(resp.Body) == 0 {
		return "", errors.NewFetch(imageURL, "empty image body", nil)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(resp.Body)
	}

	m := &store.Media{
		ID:          uuid.NewString(),
		OriginURL:   imageURL,
		ContentType: contentType,
		Size:        int64(len(resp.Body)),
	}
	m.FileName = m.ID + "." + Extension(imageURL)

	if err := a.store.SaveMedia(ctx, m, resp.Body); err != nil {
		return "", err
	}
	a.log.Debug().Str("image_url", imageURL).Str("media_id", m.ID).Msg("Image stored")
	return m.ID, nil
}

// Extension returns the lowercase image extension of the URL path, or jpg
func Extension(imageURL string) string {
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if !allowedExtensions[ext] {
		return defaultExtension
	}
	return ext
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
