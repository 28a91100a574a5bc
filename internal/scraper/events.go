package scraper

import (
	"encoding/json"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/services/publisher"
)

// Event types published to the stream
const (
	EventPropertyCreated   = "property.created"
	EventPropertyRefreshed = "property.refreshed"
	EventRunFinished       = "run.finished"
)

// Event is the stream message describing one pipeline outcome
type Event struct {
	Type       string     `json:"type"`
	PropertyID string     `json:"property_id,omitempty"`
	SourceURL  string     `json:"source_url,omitempty"`
	Category   string     `json:"category,omitempty"`
	Title      string     `json:"title,omitempty"`
	Price      string     `json:"price,omitempty"`
	MediaCount int        `json:"media_count,omitempty"`
	Changes    int        `json:"changes,omitempty"`
	Run        *RunResult `json:"run,omitempty"`
	Time       time.Time  `json:"time"`
}

// Recorder receives pipeline counters. services/metrics implements it.
type Recorder interface {
	CandidateExamined(category string)
	PropertyImported(category string)
	DuplicateSkipped(category string)
	PipelineError(category, stage string)
	RunFinished(success bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) CandidateExamined(string)        {}
func (nopRecorder) PropertyImported(string)         {}
func (nopRecorder) DuplicateSkipped(string)         {}
func (nopRecorder) PipelineError(string, string)    {}
func (nopRecorder) RunFinished(bool, time.Duration) {}

// emitter publishes events, logging failures instead of returning them
type emitter struct {
	pub publisher.Publisher
	log *logger.Logger
}

func (e emitter) emit(ev Event) {
	if e.pub == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		e.log.Error().Err(err).Str("event", ev.Type).Msg("Failed to encode event")
		return
	}
	if err := e.pub.Publish(ev.Type, data); err != nil {
		e.log.Warn().Err(err).Str("event", ev.Type).Msg("Failed to publish event")
	}
}
