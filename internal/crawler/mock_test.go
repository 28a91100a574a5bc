package crawler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/helpers"
	"github.com/gabrrrielll/real-estate-scraper/services/cache"
)

// MockCacheService implements a simple in-memory cache for testing
type MockCacheService struct {
	mu    sync.Mutex
	cache map[string][]byte
}

var _ cache.CacheService = (*MockCacheService)(nil)

func NewMockCacheService() *MockCacheService {
	return &MockCacheService{
		cache: make(map[string][]byte),
	}
}

func (m *MockCacheService) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.cache[key]; ok {
		return val, nil
	}
	return nil, &mockError{message: "cache miss"}
}

func (m *MockCacheService) Set(key string, value []byte, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = value
	return nil
}

func (m *MockCacheService) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

type mockError struct {
	message string
}

func (e *mockError) Error() string {
	return e.message
}

// scriptedGetter replays one response (or error) per call
type scriptedGetter struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
	headers   []http.Header
}

type scriptedResponse struct {
	resp *helpers.Response
	err  error
}

var _ helpers.Getter = (*scriptedGetter)(nil)

func (g *scriptedGetter) Get(ctx context.Context, url string, headers http.Header) (*helpers.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.headers = append(g.headers, headers)
	r := g.responses[len(g.responses)-1]
	if g.calls < len(g.responses) {
		r = g.responses[g.calls]
	}
	g.calls++
	return r.resp, r.err
}

func ok(body string) scriptedResponse {
	return scriptedResponse{resp: &helpers.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}}
}

func status(code int) scriptedResponse {
	return scriptedResponse{resp: &helpers.Response{StatusCode: code, Header: http.Header{}}}
}
