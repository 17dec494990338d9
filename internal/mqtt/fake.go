package mqtt

import (
	"sync"

	"github.com/thatsimonsguy/solar-pump-controller/internal/status"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	events   []PumpEvent
	statuses []status.System
	closed   bool

	// PublishError, if set, is returned by both publish methods.
	PublishError error
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

func (f *FakePublisher) PublishEvent(e PumpEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.events = append(f.events, e)
	return nil
}

func (f *FakePublisher) PublishStatus(doc status.System) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.statuses = append(f.statuses, doc)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) Events() []PumpEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PumpEvent(nil), f.events...)
}

func (f *FakePublisher) Statuses() []status.System {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]status.System(nil), f.statuses...)
}

func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
