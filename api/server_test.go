package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/internal/scraper"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
	"github.com/gabrrrielll/real-estate-scraper/services/lock"
	"github.com/gabrrrielll/real-estate-scraper/services/worker"
)

type fakeRuns struct {
	result scraper.RunResult
	err    error
	calls  int
}

func (f *fakeRuns) RunOnce(ctx context.Context) (scraper.RunResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeRuns) Status() worker.Status {
	return worker.Status{Interval: "1h0m0s"}
}

type fakeMaint struct {
	refreshURL string
	refreshErr error
	maxAge     time.Duration
	pruneErr   error
}

func (f *fakeMaint) RefreshOne(ctx context.Context, sourceURL string) (scraper.RefreshResult, error) {
	f.refreshURL = sourceURL
	if f.refreshErr != nil {
		return scraper.RefreshResult{}, f.refreshErr
	}
	return scraper.RefreshResult{
		Property: &mapper.Property{SourceURL: sourceURL, Title: "Apartament 2 camere"},
		Handle:   &store.Handle{ID: "p1", SourceURL: sourceURL},
		Created:  true,
	}, nil
}

func (f *fakeMaint) Prune(ctx context.Context, maxAge time.Duration) (store.PruneResult, error) {
	f.maxAge = maxAge
	f.pruneErr = ctx.Err()
	return store.PruneResult{Properties: 2, Media: 3}, nil
}

func newTestServer(runs *fakeRuns, maint *fakeMaint, locker lock.Locker, checks map[string]HealthCheck) http.Handler {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})
	return NewServer(runs, maint, locker, metrics, checks, logger.Nop()).Router()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRun(t *testing.T) {
	runs := &fakeRuns{result: scraper.RunResult{
		Success: true,
		Message: "Scraper completed successfully.",
		Stats:   scraper.Stats{TotalFound: 4, NewAdded: 1, DuplicatesSkipped: 3},
	}}
	h := newTestServer(runs, &fakeMaint{}, lock.NewMemoryLock(), nil)

	rec := do(t, h, http.MethodPost, "/api/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got scraper.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, 1, got.Stats.NewAdded)
	assert.Equal(t, 1, runs.calls)
}

func TestRunWhileLocked(t *testing.T) {
	runs := &fakeRuns{err: lock.ErrLocked}
	rec := do(t, newTestServer(runs, &fakeMaint{}, lock.NewMemoryLock(), nil), http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestRunRejectsGet(t *testing.T) {
	rec := do(t, newTestServer(&fakeRuns{}, &fakeMaint{}, lock.NewMemoryLock(), nil), http.MethodGet, "/api/run", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefresh(t *testing.T) {
	maint := &fakeMaint{}
	h := newTestServer(&fakeRuns{}, maint, lock.NewMemoryLock(), nil)

	rec := do(t, h, http.MethodPost, "/api/refresh", `{"url":"https://homezz.ro/anunt/1.html"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://homezz.ro/anunt/1.html", maint.refreshURL)

	var got scraper.RefreshResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Created)
	assert.Equal(t, "p1", got.Handle.ID)

	rec = do(t, h, http.MethodPost, "/api/refresh?url=https://homezz.ro/anunt/2.html", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://homezz.ro/anunt/2.html", maint.refreshURL)
}

func TestRefreshErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing URL", errors.NewConfiguration("no URL to refresh", nil), http.StatusBadRequest},
		{"no title", errors.NewExtraction("https://homezz.ro/x", "no title found"), http.StatusUnprocessableEntity},
		{"site down", errors.NewFetchExhausted("https://homezz.ro/x", 3, assert.AnError), http.StatusBadGateway},
		{"store failure", errors.NewPersistence("create", "insert failed", assert.AnError), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeRuns{}, &fakeMaint{refreshErr: tt.err}, lock.NewMemoryLock(), nil)
			rec := do(t, h, http.MethodPost, "/api/refresh", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRefreshInvalidBody(t *testing.T) {
	h := newTestServer(&fakeRuns{}, &fakeMaint{}, lock.NewMemoryLock(), nil)
	rec := do(t, h, http.MethodPost, "/api/refresh", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshWhileRunInProgress(t *testing.T) {
	locker := lock.NewMemoryLock()
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release(context.Background())

	maint := &fakeMaint{}
	rec := do(t, newTestServer(&fakeRuns{}, maint, locker, nil), http.MethodPost, "/api/refresh?url=https://homezz.ro/a", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, maint.refreshURL)
}

func TestPrune(t *testing.T) {
	maint := &fakeMaint{}
	h := newTestServer(&fakeRuns{}, maint, lock.NewMemoryLock(), nil)

	rec := do(t, h, http.MethodPost, "/api/prune", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30*24*time.Hour, maint.maxAge)
	assert.JSONEq(t, `{"properties":2,"media":3}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/prune?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7*24*time.Hour, maint.maxAge)

	rec = do(t, h, http.MethodPost, "/api/prune?days=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPruneOutlivesClientDisconnect(t *testing.T) {
	maint := &fakeMaint{}
	h := newTestServer(&fakeRuns{}, maint, lock.NewMemoryLock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/prune?days=3", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3*24*time.Hour, maint.maxAge)
	assert.NoError(t, maint.pruneErr)
}

func TestStatus(t *testing.T) {
	locker := lock.NewMemoryLock()
	h := newTestServer(&fakeRuns{}, &fakeMaint{}, locker, nil)

	rec := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
	assert.Contains(t, rec.Body.String(), `"interval":"1h0m0s"`)

	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release(context.Background())

	rec = do(t, h, http.MethodGet, "/api/status", "")
	assert.Contains(t, rec.Body.String(), `"running":true`)
}

func TestHealth(t *testing.T) {
	checks := map[string]HealthCheck{
		"store": func(ctx context.Context) error { return nil },
	}
	rec := do(t, newTestServer(&fakeRuns{}, &fakeMaint{}, lock.NewMemoryLock(), checks), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"store":"ok"}}`, rec.Body.String())

	checks["cache"] = func(ctx context.Context) error { return assert.AnError }
	rec = do(t, newTestServer(&fakeRuns{}, &fakeMaint{}, lock.NewMemoryLock(), checks), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestMetricsRoute(t *testing.T) {
	rec := do(t, newTestServer(&fakeRuns{}, &fakeMaint{}, lock.NewMemoryLock(), nil), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())
}
