// Package flow counts flow-meter pulses and groups them into cycles: a cycle
// starts once MinCyclePulses pulses arrive without a gap longer than
// CycleTimeout, and ends after CycleTimeout of silence.
package flow

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/gpio"
)

const (
	DefaultMinCyclePulses      = 5
	DefaultCycleTimeout        = 5 * time.Second
	DefaultNotificationTimeout = 10 * time.Millisecond
)

type NotificationType int

const (
	CycleStarted NotificationType = iota
	CycleEnded
)

func (t NotificationType) String() string {
	if t == CycleStarted {
		return "cycle_started"
	}
	return "cycle_ended"
}

type Notification struct {
	Type   NotificationType
	Sensor *Sensor
}

type Config struct {
	Pin                 int
	Debounce            time.Duration
	MinCyclePulses      uint64
	CycleTimeout        time.Duration
	Notifications       chan<- Notification
	NotificationTimeout time.Duration
}

type Cycle struct {
	Pulses   uint64
	Duration time.Duration
	Rate     float64 // pulses per second
}

type Totals struct {
	Pulses        uint64
	Duration      time.Duration
	Rate          float64
	Cycles        uint64
	PartialCycles uint64
}

type Data struct {
	CurrentRate  float64
	CurrentCycle Cycle
	Totals       Totals
	InCycle      bool
}

type Sensor struct {
	cfg   Config
	now   func() time.Time
	watch io.Closer

	mu            sync.Mutex
	active        bool // an episode of pulses is in progress
	started       bool // the episode has reached MinCyclePulses
	episodeStart  time.Time
	lastPulse     time.Time
	prevPulse     time.Time
	episodePulses uint64
	totals        Totals
	idle          *time.Timer
	closed        bool
}

// Open watches cfg.Pin on driver for rising edges.
func Open(cfg Config, driver gpio.Driver) (*Sensor, error) {
	s := newSensor(cfg)
	w, err := driver.Watch(cfg.Pin, cfg.Debounce, s.Pulse)
	if err != nil {
		return nil, fmt.Errorf("watch flow meter GPIO %d: %w", cfg.Pin, err)
	}
	s.watch = w

	log.Info().
		Int("pin", cfg.Pin).
		Uint64("min_cycle_pulses", s.cfg.MinCyclePulses).
		Dur("cycle_timeout", s.cfg.CycleTimeout).
		Msg("Flow sensor opened")
	return s, nil
}

func newSensor(cfg Config) *Sensor {
	if cfg.MinCyclePulses == 0 {
		cfg.MinCyclePulses = DefaultMinCyclePulses
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = DefaultNotificationTimeout
	}
	return &Sensor{cfg: cfg, now: time.Now}
}

// Pulse records one meter pulse observed at at.
func (s *Sensor) Pulse(at time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if !s.active {
		s.active = true
		s.started = false
		s.episodeStart = at
		s.lastPulse = time.Time{}
		s.episodePulses = 0
	}
	s.prevPulse = s.lastPulse
	s.lastPulse = at
	s.episodePulses++
	s.totals.Pulses++

	startedNow := false
	if !s.started && s.episodePulses >= s.cfg.MinCyclePulses {
		s.started = true
		s.totals.Cycles++
		startedNow = true
	}

	if s.idle == nil {
		s.idle = time.AfterFunc(s.cfg.CycleTimeout, s.checkIdle)
	} else {
		s.idle.Reset(s.cfg.CycleTimeout)
	}
	s.mu.Unlock()

	if startedNow {
		log.Info().Msg("Flow cycle started")
		s.notify(CycleStarted)
	}
}

func (s *Sensor) checkIdle() {
	s.mu.Lock()
	if !s.active || s.closed {
		s.mu.Unlock()
		return
	}
	if remaining := s.cfg.CycleTimeout - s.now().Sub(s.lastPulse); remaining > 0 {
		s.idle.Reset(remaining)
		s.mu.Unlock()
		return
	}
	ended := s.endEpisode()
	s.mu.Unlock()

	if ended {
		log.Info().Msg("Flow cycle ended")
		s.notify(CycleEnded)
	}
}

// endEpisode runs with mu held and reports whether a full cycle ended.
func (s *Sensor) endEpisode() bool {
	s.active = false
	if !s.started {
		s.totals.PartialCycles++
		return false
	}
	s.totals.Duration += s.lastPulse.Sub(s.episodeStart)
	s.started = false
	return true
}

func (s *Sensor) notify(t NotificationType) {
	if s.cfg.Notifications == nil {
		return
	}
	timer := time.NewTimer(s.cfg.NotificationTimeout)
	defer timer.Stop()

	select {
	case s.cfg.Notifications <- Notification{Type: t, Sensor: s}:
	case <-timer.C:
		log.Warn().Str("type", t.String()).Msg("Flow notification timed out; dropping")
	}
}

func (s *Sensor) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Data{Totals: s.totals, InCycle: s.active && s.started}
	if s.active {
		d.CurrentCycle.Pulses = s.episodePulses
		d.CurrentCycle.Duration = s.lastPulse.Sub(s.episodeStart)
		d.CurrentCycle.Rate = rate(d.CurrentCycle.Pulses, d.CurrentCycle.Duration)
		if !s.prevPulse.IsZero() {
			if gap := s.lastPulse.Sub(s.prevPulse); gap > 0 {
				d.CurrentRate = 1 / gap.Seconds()
			}
		}
		if d.InCycle {
			d.Totals.Duration += d.CurrentCycle.Duration
		}
	}
	d.Totals.Rate = rate(d.Totals.Pulses, d.Totals.Duration)
	return d
}

func rate(pulses uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(pulses) / d.Seconds()
}

func (s *Sensor) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.idle != nil {
		s.idle.Stop()
	}
	s.mu.Unlock()

	if s.watch != nil {
		return s.watch.Close()
	}
	return nil
}
