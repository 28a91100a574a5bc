// Package lock keeps scraper runs single-flight. Two runs against the same
// store could both pass the duplicate check for one listing.
package lock

import (
	"context"
	stderrors "errors"
	"sync"
)

// ErrLocked is returned by Acquire while another run holds the lock
var ErrLocked = stderrors.New("run already in progress")

// Release frees a held lock
type Release func(ctx context.Context) error

// Locker grants at most one holder at a time
type Locker interface {
	// Acquire takes the lock or returns ErrLocked
	Acquire(ctx context.Context) (Release, error)
	// Held reports whether someone holds the lock
	Held(ctx context.Context) (bool, error)
}

// MemoryLock is a process-local Locker for dry runs and tests
type MemoryLock struct {
	mu   sync.Mutex
	held bool
}

var _ Locker = (*MemoryLock)(nil)

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{}
}

func (l *MemoryLock) Acquire(ctx context.Context) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrLocked
	}
	l.held = true

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
		return nil
	}, nil
}

func (l *MemoryLock) Held(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held, nil
}
