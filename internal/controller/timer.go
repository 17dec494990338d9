package controller

import (
	"sync"
	"time"
)

// Timer is the one-shot safety alarm. Arm replaces any pending alarm;
// Disarm on an idle timer does nothing.
type Timer interface {
	Arm(d time.Duration)
	Disarm()
	Armed() bool
}

// safetyTimer wraps time.AfterFunc. Each Arm or Disarm starts a new
// generation so a callback that lost the race with Stop cannot fire. When fire
// reports the expiry could not be delivered it retries after retry.
type safetyTimer struct {
	mu    sync.Mutex
	t     *time.Timer
	gen   uint64
	armed bool
	fire  func() bool
	retry time.Duration
}

func newSafetyTimer(fire func() bool, retry time.Duration) *safetyTimer {
	return &safetyTimer{fire: fire, retry: retry}
}

func (s *safetyTimer) Arm(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	g := s.gen
	s.armed = true
	s.t = time.AfterFunc(d, func() { s.expire(g) })
}

func (s *safetyTimer) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *safetyTimer) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *safetyTimer) stopLocked() {
	if s.t != nil {
		s.t.Stop()
		s.t = nil
	}
	s.gen++
	s.armed = false
}

func (s *safetyTimer) expire(g uint64) {
	s.mu.Lock()
	if g != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.fire() {
		s.mu.Lock()
		if g == s.gen {
			s.armed = false
			s.t = nil
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if g == s.gen {
		s.t = time.AfterFunc(s.retry, func() { s.expire(g) })
	}
	s.mu.Unlock()
}
