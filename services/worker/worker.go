package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/gabrrrielll/real-estate-scraper/internal/scraper"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/services/lock"
	"github.com/gabrrrielll/real-estate-scraper/services/publisher"
)

// Runner executes one scraper session
type Runner interface {
	Run(ctx context.Context) scraper.RunResult
}

// Worker triggers scraper runs on an interval or on demand. Every run holds
// the run lock, so only one executes at a time across processes.
type Worker struct {
	runner        Runner
	locker        lock.Locker
	publisher     publisher.Publisher
	logger        *logger.Logger
	crawlInterval time.Duration

	mu      sync.RWMutex
	last    *scraper.RunResult
	lastEnd time.Time
}

// Status describes the last finished run
type Status struct {
	LastRun      *scraper.RunResult `json:"last_run,omitempty"`
	LastFinished time.Time          `json:"last_finished,omitempty"`
	Interval     string             `json:"interval"`
}

// NewWorker creates a new worker. pub may be nil.
func NewWorker(
	runner Runner,
	locker lock.Locker,
	pub publisher.Publisher,
	log *logger.Logger,
	crawlInterval time.Duration,
) *Worker {
	return &Worker{
		runner:        runner,
		locker:        locker,
		publisher:     pub,
		logger:        log,
		crawlInterval: crawlInterval,
	}
}

// Start runs immediately and then every interval until ctx is done
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.crawlInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if stderrors.Is(err, lock.ErrLocked) {
				w.logger.Info().Msg("Previous run still in progress, skipping this tick")
			} else {
				w.logger.Error().Err(err).Msg("Scheduled run failed")
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs the scraper under the run lock. It returns lock.ErrLocked
// without running when another run holds the lock.
func (w *Worker) RunOnce(ctx context.Context) (scraper.RunResult, error) {
	release, err := w.locker.Acquire(ctx)
	if err != nil {
		return scraper.RunResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	start := time.Now()
	result := w.runner.Run(ctx)
	w.logger.Info().
		Bool("success", result.Success).
		Dur("elapsed", time.Since(start)).
		Msg("Run finished")

	if w.publisher != nil {
		if err := w.publisher.TrimStreams(); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to trim event streams")
		}
	}

	w.mu.Lock()
	w.last = &result
	w.lastEnd = time.Now()
	w.mu.Unlock()

	return result, nil
}

// Status returns the last run outcome
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return Status{LastRun: w.last, LastFinished: w.lastEnd, Interval: w.crawlInterval.String()}
}
