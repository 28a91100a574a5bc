// Package store persists imported properties, their media and taxonomy
// terms.
package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/internal/crawler"
	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/internal/normalize"
)

// ActiveStatuses are the record statuses that count as already imported
var ActiveStatuses = config.ActiveStatuses

// Handle identifies a persisted property
type Handle struct {
	ID          string
	SourceURL   string
	CategoryKey string
	Status      string
	Terms       map[string][]string
	CreatedAt   time.Time
}

// Draft is everything needed to create a property in one write
type Draft struct {
	Property    *mapper.Property
	CategoryKey string
	Status      string
	Terms       map[string][]string
	MediaIDs    []string
}

// Record is the stored property document
type Record struct {
	ID             string                 `bson:"_id" json:"id"`
	SourceURL      string                 `bson:"source_url" json:"source_url"`
	CategoryKey    string                 `bson:"category_key,omitempty" json:"category_key,omitempty"`
	Status         string                 `bson:"status" json:"status"`
	Title          string                 `bson:"title" json:"title"`
	Content        string                 `bson:"content,omitempty" json:"content,omitempty"`
	Excerpt        string                 `bson:"excerpt,omitempty" json:"excerpt,omitempty"`
	Meta           map[string]string      `bson:"meta" json:"meta"`
	Features       []mapper.Feature       `bson:"additional_features,omitempty" json:"additional_features,omitempty"`
	Specifications crawler.Specifications `bson:"specifications,omitempty" json:"specifications,omitempty"`
	Terms          map[string][]string    `bson:"terms,omitempty" json:"terms,omitempty"`
	MediaIDs       []string               `bson:"media_ids,omitempty" json:"media_ids,omitempty"`
	Thumbnail      string                 `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	CreatedAt      time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `bson:"updated_at" json:"updated_at"`
}

// Media is a stored image. Its bytes live next to the metadata.
type Media struct {
	ID          string    `bson:"_id" json:"id"`
	OriginURL   string    `bson:"origin_url" json:"origin_url"`
	FileName    string    `bson:"file_name" json:"file_name"`
	ContentType string    `bson:"content_type" json:"content_type"`
	Size        int64     `bson:"size" json:"size"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// Term is a taxonomy term such as a city or a property type
type Term struct {
	ID       string `bson:"_id" json:"id"`
	Taxonomy string `bson:"taxonomy" json:"taxonomy"`
	Name     string `bson:"name" json:"name"`
	Slug     string `bson:"slug" json:"slug"`
	Parent   string `bson:"parent,omitempty" json:"parent,omitempty"`
}

// MetaChange records one meta key changed by an update
type MetaChange struct {
	Key string `json:"key"`
	Old string `json:"old"`
	New string `json:"new"`
}

// PruneResult counts what DeleteOlderThan removed
type PruneResult struct {
	Properties int      `json:"properties"`
	Media      int      `json:"media"`
	SourceURLs []string `json:"-"`
}

// PropertyStore persists property records
type PropertyStore interface {
	// FindBySourceURL returns the record imported from sourceURL in an
	// active status, or nil when there is none.
	FindBySourceURL(ctx context.Context, sourceURL string) (*Handle, error)
	// Create writes the record with its meta, terms and media at once.
	Create(ctx context.Context, d Draft) (*Handle, error)
	// UpdateFields rewrites text fields, meta and features of h.
	UpdateFields(ctx context.Context, h *Handle, p *mapper.Property) ([]MetaChange, error)
	// AttachMedia replaces the gallery of h; the first id is the thumbnail.
	AttachMedia(ctx context.Context, h *Handle, mediaIDs []string) error
	// FindMostRecentImported returns the newest record carrying a source
	// URL, or nil.
	FindMostRecentImported(ctx context.Context) (*Handle, error)
	// DeleteOlderThan removes imported records created before cutoff
	// together with media no other record uses.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (PruneResult, error)
}

// TaxonomyStore manages taxonomy terms
type TaxonomyStore interface {
	GetOrCreateTerm(ctx context.Context, taxonomy, name string) (*Term, error)
	AssignTerms(ctx context.Context, h *Handle, taxonomy string, termIDs []string) error
	// SetParent links a term to its parent, e.g. a city to its state
	SetParent(ctx context.Context, termID, parentSlug string) error
}

// MediaStore keeps downloaded images, indexed by origin URL
type MediaStore interface {
	// FindMediaByOrigin returns the media downloaded from originURL, or nil.
	FindMediaByOrigin(ctx context.Context, originURL string) (*Media, error)
	SaveMedia(ctx context.Context, m *Media, data []byte) error
}

// Store is the full persistence collaborator of the scraper
type Store interface {
	PropertyStore
	TaxonomyStore
	MediaStore
	Close(ctx context.Context) error
}

// newRecord builds the document written by Create
func newRecord(id string, d Draft, now time.Time) *Record {
	p := d.Property
	r := &Record{
		ID:             id,
		SourceURL:      p.SourceURL,
		CategoryKey:    d.CategoryKey,
		Status:         d.Status,
		Title:          p.Title,
		Content:        p.Content,
		Excerpt:        p.Excerpt,
		Meta:           map[string]string{},
		Features:       p.AdditionalFeatures(),
		Specifications: p.Specifications,
		Terms:          copyTerms(d.Terms),
		MediaIDs:       append([]string(nil), d.MediaIDs...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyMeta(r.Meta, p.Meta())
	if len(r.MediaIDs) > 0 {
		r.Thumbnail = r.MediaIDs[0]
	}
	return r
}

// applyMeta writes fields into meta, deleting keys whose value is empty,
// and reports the keys whose value changed.
func applyMeta(meta map[string]string, fields []mapper.MetaField) []MetaChange {
	var changes []MetaChange
	for _, f := range fields {
		old, had := meta[f.Key]
		if f.Value == "" {
			if had {
				delete(meta, f.Key)
				changes = append(changes, MetaChange{Key: f.Key, Old: old})
			}
			continue
		}
		if old != f.Value || !had {
			meta[f.Key] = f.Value
			changes = append(changes, MetaChange{Key: f.Key, Old: old, New: f.Value})
		}
	}
	return changes
}

// updateRecord applies a refreshed property to r
func updateRecord(r *Record, p *mapper.Property, now time.Time) []MetaChange {
	if p.Title != "" {
		r.Title = p.Title
	}
	if p.Content != "" {
		r.Content = p.Content
		if p.Excerpt != "" {
			r.Excerpt = p.Excerpt
		}
	}
	if r.Meta == nil {
		r.Meta = map[string]string{}
	}
	changes := applyMeta(r.Meta, p.Meta())
	if features := p.AdditionalFeatures(); len(features) > 0 {
		r.Features = features
	}
	if len(p.Specifications) > 0 {
		r.Specifications = p.Specifications
	}
	r.UpdatedAt = now
	return changes
}

func (r *Record) handle() *Handle {
	return &Handle{
		ID:          r.ID,
		SourceURL:   r.SourceURL,
		CategoryKey: r.CategoryKey,
		Status:      r.Status,
		Terms:       copyTerms(r.Terms),
		CreatedAt:   r.CreatedAt,
	}
}

func isActive(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func copyTerms(terms map[string][]string) map[string][]string {
	if len(terms) == 0 {
		return nil
	}
	out := make(map[string][]string, len(terms))
	for k, v := range terms {
		out[k] = append([]string(nil), v...)
	}
	return out
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug turns a term name into its URL-safe key
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(normalize.Label(name), "-"), "-")
}
