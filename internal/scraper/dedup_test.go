package scraper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/services/cache"
)

// countingStore counts FindBySourceURL calls
type countingStore struct {
	*store.MemoryStore
	finds int
}

func (s *countingStore) FindBySourceURL(ctx context.Context, sourceURL string) (*store.Handle, error) {
	s.finds++
	return s.MemoryStore.FindBySourceURL(ctx, sourceURL)
}

func TestIsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := &countingStore{MemoryStore: store.NewMemoryStore()}
	d := NewDeduplicator(s, cache.NewMemoryCache(), logger.Nop())

	dup, err := d.IsDuplicate(ctx, "https://homezz.ro/anunt/1.html")
	require.NoError(t, err)
	assert.False(t, dup)

	_, err = s.Create(ctx, store.Draft{Property: &mapper.Property{SourceURL: "https://homezz.ro/anunt/1.html"}, Status: "publish"})
	require.NoError(t, err)

	dup, err = d.IsDuplicate(ctx, "https://homezz.ro/anunt/1.html")
	require.NoError(t, err)
	assert.True(t, dup)

	// the positive answer is memoized
	dup, err = d.IsDuplicate(ctx, "https://homezz.ro/anunt/1.html")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 2, s.finds)
}

func TestIsDuplicateComparesURLsLiterally(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := NewDeduplicator(s, nil, logger.Nop())

	_, err := s.Create(ctx, store.Draft{Property: &mapper.Property{SourceURL: "https://homezz.ro/anunt/1.html"}, Status: "draft"})
	require.NoError(t, err)

	for _, variant := range []string{
		"https://homezz.ro/anunt/1.html/",
		"https://homezz.ro/anunt/1.html?ref=list",
		"https://HOMEZZ.ro/anunt/1.html",
	} {
		dup, err := d.IsDuplicate(ctx, variant)
		require.NoError(t, err)
		assert.False(t, dup, variant)
	}
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	s := &countingStore{MemoryStore: store.NewMemoryStore()}
	d := NewDeduplicator(s, cache.NewMemoryCache(), logger.Nop())

	d.Remember(&store.Handle{ID: "p1", SourceURL: "https://homezz.ro/anunt/2.html"})
	dup, err := d.IsDuplicate(ctx, "https://homezz.ro/anunt/2.html")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, 0, s.finds)
}
