// Package relay drives the pump relay and accounts for the time it spends in
// each state.
package relay

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/gpio"
	"github.com/thatsimonsguy/solar-pump-controller/internal/timedlock"
)

type State int32

const (
	Off State = iota
	On
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseState accepts the lowercase names used by the HTTP API.
func ParseState(name string) (State, error) {
	switch name {
	case "off":
		return Off, nil
	case "on":
		return On, nil
	default:
		return Off, fmt.Errorf("unknown relay state %q", name)
	}
}

var (
	ErrConfig         = errors.New("relay configuration failed")
	ErrLockTimeout    = timedlock.ErrTimeout
	ErrAlreadyInState = errors.New("relay already in requested state")
	ErrDriver         = errors.New("relay driver write failed")
	ErrClosed         = errors.New("relay closed")
	ErrInvalidState   = errors.New("invalid relay state")
)

type Relay struct {
	pin int
	out gpio.Output
	mu  *timedlock.Mutex
	now func() time.Time

	state       atomic.Int32
	enteredAt   time.Time
	accumulated [2]time.Duration
	transitions uint64
	closed      bool
}

type Option func(*Relay)

// WithClock replaces time.Now for dwell accounting.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

func WithLockWait(d time.Duration) Option {
	return func(r *Relay) { r.mu = timedlock.New(d) }
}

// Open claims pin as an output and forces it OFF.
func Open(driver gpio.Driver, pin int, opts ...Option) (*Relay, error) {
	r := &Relay{
		pin: pin,
		mu:  timedlock.New(timedlock.DefaultWait),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	out, err := driver.Output(pin)
	if err != nil {
		return nil, fmt.Errorf("%w: request GPIO %d: %w", ErrConfig, pin, err)
	}
	if err := out.Set(false); err != nil {
		out.Close()
		return nil, fmt.Errorf("%w: drive GPIO %d low: %w", ErrConfig, pin, err)
	}

	r.out = out
	r.enteredAt = r.now()
	log.Info().Int("pin", pin).Msg("Relay opened")
	return r, nil
}

func (r *Relay) Pin() int {
	return r.pin
}

// State is a lock-free read of the current state.
func (r *Relay) State() State {
	return State(r.state.Load())
}

// SetState changes the physical output and the accounting together. When the
// pin write fails nothing is recorded.
func (r *Relay) SetState(s State) error {
	if s != Off && s != On {
		return fmt.Errorf("%w: %d", ErrInvalidState, int32(s))
	}
	if err := r.mu.Lock(); err != nil {
		return ErrLockTimeout
	}
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	cur := r.State()
	if cur == s {
		return ErrAlreadyInState
	}
	if err := r.out.Set(s == On); err != nil {
		return fmt.Errorf("%w: set GPIO %d %s: %w", ErrDriver, r.pin, s, err)
	}

	now := r.now()
	dwell := now.Sub(r.enteredAt)
	r.accumulated[cur] += dwell
	r.enteredAt = now
	r.transitions++
	r.state.Store(int32(s))

	log.Info().
		Int("pin", r.pin).
		Str("state", s.String()).
		Dur("previous_dwell", dwell).
		Uint64("transitions", r.transitions).
		Msg("Relay state changed")
	return nil
}

func (r *Relay) Snapshot() (Snapshot, error) {
	if err := r.mu.Lock(); err != nil {
		return Snapshot{}, ErrLockTimeout
	}
	defer r.mu.Unlock()

	return Snapshot{
		State:       r.State(),
		Dwell:       r.now().Sub(r.enteredAt),
		Accumulated: r.accumulated,
		Transitions: r.transitions,
	}, nil
}

// Close drives the pin low and releases it. Later SetState calls fail with
// ErrClosed.
func (r *Relay) Close() error {
	if err := r.mu.Lock(); err != nil {
		return ErrLockTimeout
	}
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.out.Set(false); err != nil {
		errs = append(errs, fmt.Errorf("%w: drive GPIO %d low: %w", ErrDriver, r.pin, err))
	} else {
		r.state.Store(int32(Off))
	}
	if err := r.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release GPIO %d: %w", r.pin, err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	log.Info().Int("pin", r.pin).Msg("Relay closed")
	return nil
}
