package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrrrielll/real-estate-scraper/internal/scraper"
	"github.com/gabrrrielll/real-estate-scraper/logger"
	"github.com/gabrrrielll/real-estate-scraper/services/lock"
	"github.com/gabrrrielll/real-estate-scraper/services/publisher"
)

// MockRunner counts runs and can block until released
type MockRunner struct {
	runs    atomic.Int32
	started chan struct{}
	proceed chan struct{}
	result  scraper.RunResult
}

var _ Runner = (*MockRunner)(nil)

func (m *MockRunner) Run(ctx context.Context) scraper.RunResult {
	m.runs.Add(1)
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.proceed != nil {
		<-m.proceed
	}
	return m.result
}

// MockPublisher implements the publisher.Publisher interface for testing
type MockPublisher struct {
	mu     sync.Mutex
	trims  int
	closed bool
}

var _ publisher.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(key string, message []byte) error { return nil }

func (m *MockPublisher) TrimStreams() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trims++
	return nil
}

func (m *MockPublisher) Close() error {
	m.closed = true
	return nil
}

func TestRunOnce(t *testing.T) {
	runner := &MockRunner{result: scraper.RunResult{Success: true, Stats: scraper.Stats{NewAdded: 2}}}
	pub := &MockPublisher{}
	w := NewWorker(runner, lock.NewMemoryLock(), pub, logger.Nop(), time.Hour)

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Stats.NewAdded)
	assert.Equal(t, 1, pub.trims)

	status := w.Status()
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 2, status.LastRun.Stats.NewAdded)
	assert.False(t, status.LastFinished.IsZero())
	assert.Equal(t, "1h0m0s", status.Interval)
}

func TestRunOnceIsSingleFlight(t *testing.T) {
	runner := &MockRunner{started: make(chan struct{}), proceed: make(chan struct{})}
	locker := lock.NewMemoryLock()
	w := NewWorker(runner, locker, nil, logger.Nop(), time.Hour)

	done := make(chan error)
	go func() {
		_, err := w.RunOnce(context.Background())
		done <- err
	}()
	<-runner.started

	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, lock.ErrLocked)

	close(runner.proceed)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), runner.runs.Load())

	held, err := locker.Held(context.Background())
	require.NoError(t, err)
	assert.False(t, held)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	runner := &MockRunner{}
	w := NewWorker(runner, lock.NewMemoryLock(), nil, logger.Nop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return runner.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestStartSkipsWhileLocked(t *testing.T) {
	runner := &MockRunner{}
	locker := lock.NewMemoryLock()
	release, err := locker.Acquire(context.Background())
	require.NoError(t, err)

	w := NewWorker(runner, locker, nil, logger.Nop(), 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	w.Start(ctx)

	assert.Equal(t, int32(0), runner.runs.Load())
	require.NoError(t, release(context.Background()))
}
