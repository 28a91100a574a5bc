package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/helpers"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
	"github.com/gabrrrielll/real-estate-scraper/services/cache"
)

// SleepFunc waits between attempts. It returns early with ctx's error.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher downloads pages with a bounded number of attempts
type Fetcher struct {
	getter    helpers.Getter
	attempts  int
	interval  time.Duration
	userAgent string
	blockTime time.Duration
	cacheSvc  cache.CacheService
	sleep     SleepFunc
	log       *logger.Logger
}

// NewFetcher creates a fetcher using cfg's retry settings. cacheSvc may be
// nil, which disables the rate-limit guard.
func NewFetcher(getter helpers.Getter, cfg *config.ScraperConfig, cacheSvc cache.CacheService, log *logger.Logger) *Fetcher {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Fetcher{
		getter:    getter,
		attempts:  attempts,
		interval:  cfg.RetryInterval,
		userAgent: cfg.UserAgent,
		blockTime: cfg.RateLimitBlock,
		cacheSvc:  cacheSvc,
		sleep:     Sleep,
		log:       log,
	}
}

// WithSleep replaces the wait between attempts
func (f *Fetcher) WithSleep(sleep SleepFunc) *Fetcher {
	f.sleep = sleep
	return f
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch returns the UTF-8 body of pageURL. Every failed attempt is logged
// and followed by the retry interval; after the last one a
// fetch_exhausted error wrapping the final cause is returned.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		body, err := f.attempt(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		f.log.Warn().
			Str("url", pageURL).
			Int("attempt", attempt).
			Int("max_attempts", f.attempts).
			Err(err).
			Msg("Fetch attempt failed")

		if attempt < f.attempts {
			if err := f.sleep(ctx, f.interval); err != nil {
				lastErr = err
				break
			}
		}
	}

	f.log.Error().
		Str("url", pageURL).
		Int("max_attempts", f.attempts).
		Err(lastErr).
		Msg("Fetch failed after all attempts")

	return "", errors.NewFetchExhausted(pageURL, f.attempts, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, pageURL string) (string, error) {
	key := rateLimitKey(pageURL)
	if f.blocked(key) {
		return "", errors.NewRateLimit(pageURL, f.blockTime)
	}

	resp, err := f.getter.Get(ctx, pageURL, helpers.BrowserHeaders(f.userAgent))
	if err != nil {
		return "", errors.NewFetch(pageURL, "request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		f.block(key, resp.Header.Get("Retry-After"))
		return "", errors.NewRateLimit(pageURL, f.blockTime)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", errors.NewFetch(pageURL, fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}

	body, err := helpers.ToUTF8(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", errors.NewFetch(pageURL, "decode body", err)
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.NewFetch(pageURL, "empty response body", nil)
	}
	return body, nil
}

func (f *Fetcher) blocked(key string) bool {
	if f.cacheSvc == nil || key == "" {
		return false
	}
	_, err := f.cacheSvc.Get(key)
	return err == nil
}

// block stops requests to the host for blockTime, or for Retry-After
// seconds when the server sends a longer value.
func (f *Fetcher) block(key, retryAfter string) {
	if f.cacheSvc == nil || key == "" {
		return
	}
	d := f.blockTime
	if secs, err := strconv.Atoi(retryAfter); err == nil && time.Duration(secs)*time.Second > d {
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return
	}
	if err := f.cacheSvc.Set(key, []byte(strconv.Itoa(int(d/time.Second))), d); err != nil {
		f.log.Warn().Err(err).Str("key", key).Msg("Failed to store rate limit block")
	}
}

func rateLimitKey(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return cache.Key("ratelimit", u.Host)
}
