// Package timedlock provides a mutex whose acquisition gives up after a bound.
package timedlock

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWait is the acquisition bound used by the relay and the delta sensor.
const DefaultWait = 3 * time.Millisecond

var ErrTimeout = errors.New("lock acquisition timed out")

type Mutex struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

func New(wait time.Duration) *Mutex {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Mutex{sem: semaphore.NewWeighted(1), wait: wait}
}

// Lock blocks for at most the configured wait. On ErrTimeout the caller does
// not hold the lock and must not call Unlock.
func (m *Mutex) Lock() error {
	if m.sem.TryAcquire(1) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.wait)
	defer cancel()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return ErrTimeout
	}
	return nil
}

func (m *Mutex) Unlock() {
	m.sem.Release(1)
}
