// Package scraper runs the import pipeline: it picks a category, finds new
// listings on it, and extracts, normalizes and persists them.
package scraper

import (
	"context"
	"math"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/config"
	"github.com/gabrrrielll/real-estate-scraper/internal/crawler"
	"github.com/gabrrrielll/real-estate-scraper/internal/mapper"
	"github.com/gabrrrielll/real-estate-scraper/internal/store"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/pkg/errors"
	"github.com/gabrrrielll/real-estate-scraper/services/cache"
	"github.com/gabrrrielll/real-estate-scraper/services/publisher"
)

// PageFetcher returns the UTF-8 body of a page, retrying as configured
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// ImageAcquirer stores images and returns their media ids in order
type ImageAcquirer interface {
	Acquire(ctx context.Context, urls []string) []string
}

// Stats are the counters of one run
type Stats struct {
	TotalFound        int     `json:"total_found"`
	NewAdded          int     `json:"new_added"`
	DuplicatesSkipped int     `json:"duplicates_skipped"`
	Errors            int     `json:"errors"`
	ExecutionTime     float64 `json:"execution_time"`
}

// RunResult is what Run reports to its trigger
type RunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stats   Stats  `json:"stats"`
}

// RefreshResult describes a single re-extracted listing
type RefreshResult struct {
	Property *mapper.Property   `json:"property"`
	Handle   *store.Handle      `json:"handle"`
	Created  bool               `json:"created"`
	Changes  []store.MetaChange `json:"changes,omitempty"`
	MediaIDs []string           `json:"media_ids,omitempty"`
}

// Dependencies are the collaborators of a Scraper. Publisher, Recorder and
// Cache may be nil.
type Dependencies struct {
	Fetcher    PageFetcher
	Extractor  *crawler.Extractor
	Normalizer *mapper.Normalizer
	Acquirer   ImageAcquirer
	Store      store.Store
	Cache      cache.CacheService
	Publisher  publisher.Publisher
	Recorder   Recorder
	Logger     *logger.Logger
}

// Scraper is the import orchestrator
type Scraper struct {
	cfg        *config.ScraperConfig
	fetcher    PageFetcher
	extractor  *crawler.Extractor
	normalizer *mapper.Normalizer
	acquirer   ImageAcquirer
	store      store.Store
	dedup      *Deduplicator
	rotation   *Rotation
	events     emitter
	metrics    Recorder
	log        *logger.Logger
	now        func() time.Time
}

// New creates a scraper for one immutable configuration
func New(cfg *config.ScraperConfig, deps Dependencies) *Scraper {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Scraper{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		normalizer: deps.Normalizer,
		acquirer:   deps.Acquirer,
		store:      deps.Store,
		dedup:      NewDeduplicator(deps.Store, deps.Cache, log),
		rotation:   NewRotation(cfg.ActiveCategories(), deps.Store),
		events:     emitter{pub: deps.Publisher, log: log},
		metrics:    rec,
		log:        log,
		now:        time.Now,
	}
}

// Run executes one session. Each visit imports at most one new listing from
// a category; the session ends at the import cap or after every category
// was visited once in a row without a new import. Only a configuration
// error fails the run; everything else is counted and skipped.
func (s *Scraper) Run(ctx context.Context) RunResult {
	start := s.now()

	if err := s.cfg.Validate(); err != nil {
		s.log.Error().Err(err).Msg("Scraper failed")
		result := RunResult{Success: false, Message: "Scraper failed: " + err.Error()}
		s.metrics.RunFinished(false, s.now().Sub(start))
		s.events.emit(Event{Type: EventRunFinished, Run: &result})
		return result
	}

	categories := s.cfg.ActiveCategories()
	keys := make([]string, len(categories))
	for i, c := range categories {
		keys[i] = c.Key
	}
	s.log.Info().
		Strs("categories", keys).
		Int("max_ads_per_session", s.cfg.MaxAdsPerSession).
		Msg("Scraper started")

	var stats Stats
	cat, err := s.rotation.NextCategory(ctx)
	if err != nil {
		stats.Errors++
		s.log.Warn().Err(err).Msg("Could not infer rotation position, starting with the first category")
	}

	emptyVisits := 0
	for {
		if err := ctx.Err(); err != nil {
			s.log.Warn().Err(err).Msg("Run interrupted")
			break
		}

		if s.processCategory(ctx, cat, &stats) {
			emptyVisits = 0
		} else {
			emptyVisits++
		}

		if s.cfg.MaxAdsPerSession > 0 && stats.NewAdded >= s.cfg.MaxAdsPerSession {
			s.log.Info().Int("new_added", stats.NewAdded).Msg("Session import cap reached")
			break
		}
		if emptyVisits >= len(categories) {
			s.log.Info().Msg("No new properties in a full pass over the categories")
			break
		}
		cat = s.rotation.After(cat.Key)
	}

	elapsed := s.now().Sub(start)
	stats.ExecutionTime = math.Round(elapsed.Seconds()*100) / 100

	s.log.Info().
		Int("total_found", stats.TotalFound).
		Int("new_added", stats.NewAdded).
		Int("duplicates_skipped", stats.DuplicatesSkipped).
		Int("errors", stats.Errors).
		Float64("execution_time", stats.ExecutionTime).
		Msg("Scraper finished")

	result := RunResult{Success: true, Message: "Scraper completed successfully.", Stats: stats}
	s.metrics.RunFinished(true, elapsed)
	s.events.emit(Event{Type: EventRunFinished, Run: &result})
	return result
}

// processCategory checks up to PropertiesToCheck candidates of cat and
// stops at the first successful import
func (s *Scraper) processCategory(ctx context.Context, cat config.Category, stats *Stats) bool {
	log := s.log.WithField("category", cat.Key)
	log.Info().Str("url", cat.URL).Msg("Category started")

	imported := false
	defer func() {
		log.Info().Bool("imported", imported).Msg("Category finished")
	}()

	body, err := s.fetcher.Fetch(ctx, cat.URL)
	if err != nil {
		stats.Errors++
		s.metrics.PipelineError(cat.Key, "listing")
		log.Error().Err(err).Msg("Failed to fetch listing page")
		return false
	}

	candidates := s.extractor.ExtractListing(body)
	log.Info().Int("found", len(candidates)).Msg("Listing parsed")
	if len(candidates) > s.cfg.PropertiesToCheck {
		candidates = candidates[:s.cfg.PropertiesToCheck]
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return false
		}
		stats.TotalFound++
		s.metrics.CandidateExamined(cat.Key)
		plog := log.WithField("url", candidate)
		plog.Debug().Msg("Property started")

		dup, err := s.dedup.IsDuplicate(ctx, candidate)
		if err != nil {
			stats.Errors++
			s.metrics.PipelineError(cat.Key, "dedupe")
			plog.Error().Err(err).Msg("Duplicate check failed")
			continue
		}
		if dup {
			stats.DuplicatesSkipped++
			s.metrics.DuplicateSkipped(cat.Key)
			plog.Info().Msg("Duplicate found")
			continue
		}

		h, p, err := s.importProperty(ctx, cat, candidate)
		if err != nil {
			stats.Errors++
			s.metrics.PipelineError(cat.Key, stage(err))
			plog.Error().Err(err).Msg("Failed to import property")
			continue
		}

		stats.NewAdded++
		s.metrics.PropertyImported(cat.Key)
		plog.Info().Str("property_id", h.ID).Str("title", p.Title).Msg("Property created")
		imported = true
		return true
	}
	return false
}

// importProperty runs fetch, extract, normalize, image acquisition and a
// single create for one new listing
func (s *Scraper) importProperty(ctx context.Context, cat config.Category, sourceURL string) (*store.Handle, *mapper.Property, error) {
	p, err := s.extract(ctx, sourceURL)
	if err != nil {
		return nil, nil, err
	}

	mediaIDs := s.acquirer.Acquire(ctx, p.Images)

	terms, err := s.resolveTerms(ctx, cat, p)
	if err != nil {
		return nil, p, err
	}

	h, err := s.store.Create(ctx, store.Draft{
		Property:    p,
		CategoryKey: cat.Key,
		Status:      s.cfg.DefaultStatus,
		Terms:       terms,
		MediaIDs:    mediaIDs,
	})
	if err != nil {
		return nil, p, err
	}
	s.dedup.Remember(h)

	s.events.emit(Event{
		Type:       EventPropertyCreated,
		PropertyID: h.ID,
		SourceURL:  h.SourceURL,
		Category:   cat.Key,
		Title:      p.Title,
		Price:      p.Price,
		MediaCount: len(mediaIDs),
	})
	return h, p, nil
}

// extract fetches and normalizes one property page. A page without a title
// is an extraction error.
func (s *Scraper) extract(ctx context.Context, sourceURL string) (*mapper.Property, error) {
	body, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	raw := s.extractor.ExtractProperty(body, sourceURL)
	if raw.Title == "" {
		s.log.Warn().
			Str("url", sourceURL).
			Str("price", raw.Price).
			Int("images", len(raw.Images)).
			Msg("Property page yielded no title")
		return nil, errors.NewExtraction(sourceURL, "no title extracted")
	}

	return s.normalizer.Normalize(ctx, raw), nil
}

// resolveTerms builds the taxonomy assignment of a new record: type and
// status from the category, country, state and city from the geocoded
// address. Cities are linked to their state.
func (s *Scraper) resolveTerms(ctx context.Context, cat config.Category, p *mapper.Property) (map[string][]string, error) {
	terms := map[string][]string{}
	if cat.TypeTermID != "" {
		terms[mapper.TaxonomyType] = []string{cat.TypeTermID}
	}
	if cat.StatusTermID != "" {
		terms[mapper.TaxonomyStatus] = []string{cat.StatusTermID}
	}

	locations, err := s.locationTerms(ctx, p)
	if err != nil {
		return nil, err
	}
	for taxonomy, ids := range locations {
		terms[taxonomy] = ids
	}
	return terms, nil
}

func (s *Scraper) locationTerms(ctx context.Context, p *mapper.Property) (map[string][]string, error) {
	loc := p.Locations()
	terms := map[string][]string{}
	var city, state *store.Term

	for _, t := range []struct {
		taxonomy string
		name     string
		dst      **store.Term
	}{
		{mapper.TaxonomyCountry, loc.Country, nil},
		{mapper.TaxonomyState, loc.State, &state},
		{mapper.TaxonomyCity, loc.City, &city},
	} {
		if t.name == "" {
			continue
		}
		term, err := s.store.GetOrCreateTerm(ctx, t.taxonomy, t.name)
		if err != nil {
			return nil, err
		}
		terms[t.taxonomy] = []string{term.ID}
		if t.dst != nil {
			*t.dst = term
		}
	}

	if city != nil && state != nil && city.Parent != state.Slug {
		if err := s.store.SetParent(ctx, city.ID, state.Slug); err != nil {
			s.log.Warn().Err(err).Str("city", city.Name).Str("state", state.Name).Msg("Failed to link city to state")
		}
	}
	return terms, nil
}

// RefreshOne re-extracts a single listing and writes it over the existing
// record, or creates it when it was never imported. Duplicate checks,
// rotation and the session cap do not apply. An empty sourceURL uses the
// configured single test URL.
func (s *Scraper) RefreshOne(ctx context.Context, sourceURL string) (RefreshResult, error) {
	if sourceURL == "" {
		sourceURL = s.cfg.SingleTestURL
	}
	if sourceURL == "" {
		return RefreshResult{}, errors.NewConfiguration("no URL to refresh", nil)
	}
	log := s.log.WithField("url", sourceURL)
	log.Info().Msg("Refreshing property")

	p, err := s.extract(ctx, sourceURL)
	if err != nil {
		log.Error().Err(err).Msg("Refresh failed")
		return RefreshResult{}, err
	}
	mediaIDs := s.acquirer.Acquire(ctx, p.Images)
	result := RefreshResult{Property: p, MediaIDs: mediaIDs}

	h, err := s.store.FindBySourceURL(ctx, sourceURL)
	if err != nil {
		return result, err
	}

	if h == nil {
		cat, _ := s.rotation.CategoryOf(&store.Handle{SourceURL: sourceURL})
		terms, err := s.resolveTerms(ctx, cat, p)
		if err != nil {
			return result, err
		}
		h, err = s.store.Create(ctx, store.Draft{
			Property:    p,
			CategoryKey: cat.Key,
			Status:      s.cfg.DefaultStatus,
			Terms:       terms,
			MediaIDs:    mediaIDs,
		})
		if err != nil {
			return result, err
		}
		s.dedup.Remember(h)
		result.Handle, result.Created = h, true
		log.Info().Str("property_id", h.ID).Msg("Property created")
		s.events.emit(Event{Type: EventPropertyCreated, PropertyID: h.ID, SourceURL: sourceURL, Category: cat.Key, Title: p.Title, Price: p.Price, MediaCount: len(mediaIDs)})
		return result, nil
	}

	changes, err := s.store.UpdateFields(ctx, h, p)
	if err != nil {
		return result, err
	}
	result.Handle, result.Changes = h, changes

	if len(mediaIDs) > 0 {
		if err := s.store.AttachMedia(ctx, h, mediaIDs); err != nil {
			return result, err
		}
	}

	locations, err := s.locationTerms(ctx, p)
	if err != nil {
		return result, err
	}
	for taxonomy, ids := range locations {
		if err := s.store.AssignTerms(ctx, h, taxonomy, ids); err != nil {
			return result, err
		}
	}

	for _, c := range changes {
		log.Debug().Str("key", c.Key).Str("old", c.Old).Str("new", c.New).Msg("Meta changed")
	}
	log.Info().Str("property_id", h.ID).Int("changes", len(changes)).Int("media", len(mediaIDs)).Msg("Property refreshed")
	s.events.emit(Event{Type: EventPropertyRefreshed, PropertyID: h.ID, SourceURL: sourceURL, Category: h.CategoryKey, Title: p.Title, Price: p.Price, MediaCount: len(mediaIDs), Changes: len(changes)})
	return result, nil
}

// Prune deletes imported records older than maxAge with their unused media
func (s *Scraper) Prune(ctx context.Context, maxAge time.Duration) (store.PruneResult, error) {
	if maxAge <= 0 {
		return store.PruneResult{}, errors.NewValidation("prune", "max age must be positive")
	}
	cutoff := s.now().Add(-maxAge)
	result, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Time("cutoff", cutoff).Msg("Prune failed")
		return result, err
	}
	for _, url := range result.SourceURLs {
		s.dedup.Forget(url)
	}
	s.log.Info().
		Time("cutoff", cutoff).
		Int("properties", result.Properties).
		Int("media", result.Media).
		Msg("Old properties pruned")
	return result, nil
}

// stage names the pipeline step an error came from, for metrics
func stage(err error) string {
	switch {
	case errors.IsType(err, errors.ErrorTypeFetchExhausted), errors.IsType(err, errors.ErrorTypeFetch):
		return "fetch"
	case errors.IsType(err, errors.ErrorTypeExtraction):
		return "extract"
	case errors.IsType(err, errors.ErrorTypePersistence), errors.IsType(err, errors.ErrorTypeValidation):
		return "persist"
	default:
		return "other"
	}
}
