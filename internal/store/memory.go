package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
)

// MemoryStore keeps everything in process memory. It backs dry runs and
// tests.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*Record
	media      map[string]*Media
	mediaBytes map[string][]byte
	terms      map[string]*Term
	now        func() time.Time
	lastCreate time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*Record),
		media:      make(map[string]*Media),
		mediaBytes: make(map[string][]byte),
		terms:      make(map[string]*Term),
		now:        time.Now,
	}
}

// WithClock replaces the time source
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) FindBySourceURL(ctx context.Context, sourceURL string) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.SourceURL == sourceURL && isActive(r.Status) {
			return r.handle(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Create(ctx context.Context, d Draft) (*Handle, error) {
	if d.Property == nil || d.Property.SourceURL == "" {
		return nil, errors.NewPersistence("memory", "property without source URL", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.SourceURL == d.Property.SourceURL {
			return nil, errors.NewPersistence(d.Property.SourceURL, "source URL already imported", nil)
		}
	}

	// creation times are strictly increasing so "most recent" is unambiguous
	now := s.now()
	if !now.After(s.lastCreate) {
		now = s.lastCreate.Add(time.Nanosecond)
	}
	s.lastCreate = now

	r := newRecord(uuid.NewString(), d, now)
	s.records[r.ID] = r
	return r.handle(), nil
}

func (s *MemoryStore) UpdateFields(ctx context.Context, h *Handle, p *mapper.Property) ([]MetaChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[h.ID]
	if !ok {
		return nil, errors.NewPersistence(h.ID, "property not found", nil)
	}
	return updateRecord(r, p, s.now()), nil
}

func (s *MemoryStore) AttachMedia(ctx context.Context, h *Handle, mediaIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[h.ID]
	if !ok {
		return errors.NewPersistence(h.ID, "property not found", nil)
	}
	r.MediaIDs = append([]string(nil), mediaIDs...)
	r.Thumbnail = ""
	if len(mediaIDs) > 0 {
		r.Thumbnail = mediaIDs[0]
	}
	r.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) FindMostRecentImported(ctx context.Context) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *Record
	for _, r := range s.records {
		if r.SourceURL == "" {
			continue
		}
		if newest == nil || r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	if newest == nil {
		return nil, nil
	}
	return newest.handle(), nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result PruneResult
	candidates := map[string]bool{}
	for id, r := range s.records {
		if r.SourceURL == "" || !r.CreatedAt.Before(cutoff) {
			continue
		}
		for _, m := range r.MediaIDs {
			candidates[m] = true
		}
		delete(s.records, id)
		result.Properties++
		result.SourceURLs = append(result.SourceURLs, r.SourceURL)
	}
	sort.Strings(result.SourceURLs)

	for _, r := range s.records {
		for _, m := range r.MediaIDs {
			delete(candidates, m)
		}
	}
	for id := range candidates {
		if _, ok := s.media[id]; ok {
			delete(s.media, id)
			delete(s.mediaBytes, id)
			result.Media++
		}
	}
	return result, nil
}

func (s *MemoryStore) GetOrCreateTerm(ctx context.Context, taxonomy, name string) (*Term, error) {
	slug := Slug(name)
	if slug == "" {
		return nil, errors.NewValidation(taxonomy, "empty term name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.terms {
		if t.Taxonomy == taxonomy && t.Slug == slug {
			term := *t
			return &term, nil
		}
	}
	t := &Term{ID: uuid.NewString(), Taxonomy: taxonomy, Name: name, Slug: slug}
	s.terms[t.ID] = t
	term := *t
	return &term, nil
}

func (s *MemoryStore) AssignTerms(ctx context.Context, h *Handle, taxonomy string, termIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[h.ID]
	if !ok {
		return errors.NewPersistence(h.ID, "property not found", nil)
	}
	if r.Terms == nil {
		r.Terms = map[string][]string{}
	}
	r.Terms[taxonomy] = append([]string(nil), termIDs...)
	return nil
}

func (s *MemoryStore) SetParent(ctx context.Context, termID, parentSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[termID]
	if !ok {
		return errors.NewPersistence(termID, "term not found", nil)
	}
	t.Parent = parentSlug
	return nil
}

func (s *MemoryStore) FindMediaByOrigin(ctx context.Context, originURL string) (*Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.media {
		if m.OriginURL == originURL {
			media := *m
			return &media, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SaveMedia(ctx context.Context, m *Media, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	media := *m
	s.media[m.ID] = &media
	s.mediaBytes[m.ID] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Record returns a copy of the stored record with this id
func (s *MemoryStore) Record(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Records returns copies of all records, oldest first
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Term returns a copy of the term with this id
func (s *MemoryStore) Term(id string) (Term, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.terms[id]
	if !ok {
		return Term{}, false
	}
	return *t, true
}

// MediaCount returns the number of stored media
func (s *MemoryStore) MediaCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.media)
}
