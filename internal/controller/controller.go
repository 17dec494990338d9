// Package controller runs the pump state machine: a high probe difference at
// the start of a flow cycle turns the pump on, a low difference turns it off
// again, and a safety alarm bounds every run.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
	"github.com/thatsimonsguy/solar-pump-controller/internal/temperature"
)

const (
	DefaultQueueSize    = 16
	DefaultSendTimeout  = 10 * time.Millisecond
	DefaultLockRetries  = 3
	DefaultRetryBackoff = time.Millisecond
	// DefaultCutoffRetry re-arms the safety alarm when the cutoff could not
	// reach the relay or the expiry could not be queued.
	DefaultCutoffRetry = 100 * time.Millisecond
)

type EventType int

const (
	FlowStarted EventType = iota
	TemperatureMeasured
	Timeout
)

func (t EventType) String() string {
	switch t {
	case FlowStarted:
		return "flow_started"
	case TemperatureMeasured:
		return "temperature_measured"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one inbound message. Delta is set for TemperatureMeasured only.
type Event struct {
	Type  EventType
	Delta float64
}

type Actuator interface {
	SetState(relay.State) error
	Snapshot() (relay.Snapshot, error)
}

type DeltaSource interface {
	Snapshot() (temperature.Data, error)
}

// Observer is told about every transition the controller makes. It is called
// from the control loop and must not block.
type Observer interface {
	PumpChanged(state relay.State, reason string)
}

// Notifier interface for sending notifications
type Notifier interface {
	Send(title, message string) error
}

type Controller struct {
	actuator  Actuator
	sensor    DeltaSource
	policy    model.PumpPolicy
	events    chan Event
	timer     Timer
	observers []Observer
	notifier  Notifier

	queueSize    int
	sendTimeout  time.Duration
	lockRetries  int
	retryBackoff time.Duration
	cutoffRetry  time.Duration
}

type Option func(*Controller)

func WithTimer(t Timer) Option {
	return func(c *Controller) { c.timer = t }
}

// WithObserver adds o to the observers told about transitions, in the order
// they were added.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithQueueSize(n int) Option {
	return func(c *Controller) { c.queueSize = n }
}

func WithSendTimeout(d time.Duration) Option {
	return func(c *Controller) { c.sendTimeout = d }
}

func WithLockRetries(n int, backoff time.Duration) Option {
	return func(c *Controller) {
		c.lockRetries = n
		c.retryBackoff = backoff
	}
}

func WithCutoffRetry(d time.Duration) Option {
	return func(c *Controller) { c.cutoffRetry = d }
}

func New(actuator Actuator, sensor DeltaSource, policy model.PumpPolicy, opts ...Option) (*Controller, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		actuator:     actuator,
		sensor:       sensor,
		policy:       policy,
		queueSize:    DefaultQueueSize,
		sendTimeout:  DefaultSendTimeout,
		lockRetries:  DefaultLockRetries,
		retryBackoff: DefaultRetryBackoff,
		cutoffRetry:  DefaultCutoffRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.queueSize <= 0 {
		c.queueSize = DefaultQueueSize
	}
	if c.lockRetries <= 0 {
		c.lockRetries = 1
	}
	c.events = make(chan Event, c.queueSize)
	if c.timer == nil {
		c.timer = newSafetyTimer(func() bool {
			return c.Post(Event{Type: Timeout})
		}, c.cutoffRetry)
	}
	return c, nil
}

func (c *Controller) Policy() model.PumpPolicy {
	return c.policy
}

// SafetyArmed reports whether a max-runtime alarm is pending.
func (c *Controller) SafetyArmed() bool {
	return c.timer.Armed()
}

// Post queues ev, waiting at most the send timeout. A full queue drops the
// event with a warning; Post reports whether it was queued.
func (c *Controller) Post(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
	}

	t := time.NewTimer(c.sendTimeout)
	defer t.Stop()
	select {
	case c.events <- ev:
		return true
	case <-t.C:
		log.Warn().Str("event", ev.Type.String()).Msg("Pump control queue full; dropping event")
		return false
	}
}

// Run processes events one at a time until ctx ends or the relay reports a
// driver fault, which is returned.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Float64("high_threshold", c.policy.HighThreshold).
		Float64("low_threshold", c.policy.LowThreshold).
		Dur("min_off", c.policy.MinOff).
		Dur("min_on", c.policy.MinOn).
		Dur("max_on", c.policy.MaxOn).
		Msg("Starting pump controller")

	for {
		select {
		case <-ctx.Done():
			c.timer.Disarm()
			return nil
		case ev := <-c.events:
			if err := c.handle(ev); err != nil {
				c.timer.Disarm()
				log.Error().Err(err).Str("event", ev.Type.String()).Msg("Pump controller stopping on relay fault")
				return err
			}
		}
	}
}

func (c *Controller) handle(ev Event) error {
	switch ev.Type {
	case FlowStarted:
		return c.onFlowStarted()
	case TemperatureMeasured:
		return c.onTemperatureMeasured(ev.Delta)
	case Timeout:
		return c.onTimeout()
	default:
		log.Warn().Int("event", int(ev.Type)).Msg("Ignoring unknown pump control event")
		return nil
	}
}

func (c *Controller) onFlowStarted() error {
	data, err := retryLocked(c, c.sensor.Snapshot)
	if err != nil {
		log.Warn().Err(err).Msg("Delta sensor unavailable; ignoring flow start")
		return nil
	}
	if data.Readings == 0 {
		log.Debug().Msg("No temperature reading yet; ignoring flow start")
		return nil
	}
	delta := data.Delta.Latest
	if delta < c.policy.HighThreshold {
		log.Debug().Float64("delta", delta).Msg("Flow started with low delta; pump stays off")
		return nil
	}

	snap, err := retryLocked(c, c.actuator.Snapshot)
	if err != nil {
		log.Warn().Err(err).Msg("Relay unavailable; ignoring flow start")
		return nil
	}
	if !canTurnOn(c.policy, snap) {
		log.Debug().
			Str("state", snap.State.String()).
			Dur("dwell", snap.Dwell).
			Msg("Pump not eligible to turn on")
		return nil
	}

	c.timer.Arm(c.policy.MaxOn)
	err = c.setState(relay.On)
	switch {
	case err == nil:
		log.Info().Float64("delta", delta).Dur("max_on", c.policy.MaxOn).Msg("Pump turned ON")
		c.observe(relay.On, "flow_started")
	case errors.Is(err, relay.ErrAlreadyInState):
		log.Debug().Msg("Pump already on")
	case errors.Is(err, relay.ErrLockTimeout):
		c.timer.Disarm()
		log.Warn().Err(err).Msg("Relay busy; pump left off")
	default:
		c.timer.Disarm()
		return fmt.Errorf("turn pump on: %w", err)
	}
	return nil
}

func (c *Controller) onTemperatureMeasured(delta float64) error {
	if delta > c.policy.LowThreshold {
		return nil
	}

	snap, err := retryLocked(c, c.actuator.Snapshot)
	if err != nil {
		log.Warn().Err(err).Float64("delta", delta).Msg("Relay unavailable; ignoring low delta")
		return nil
	}
	if !canTurnOff(c.policy, snap) {
		if snap.State == relay.On {
			log.Debug().Dur("dwell", snap.Dwell).Float64("delta", delta).Msg("Low delta before min on duration; pump stays on")
		}
		return nil
	}

	err = c.setState(relay.Off)
	switch {
	case err == nil:
		c.timer.Disarm()
		log.Info().Float64("delta", delta).Dur("ran_for", snap.Dwell).Msg("Pump turned OFF")
		c.observe(relay.Off, "low_delta")
	case errors.Is(err, relay.ErrAlreadyInState):
		c.timer.Disarm()
	case errors.Is(err, relay.ErrLockTimeout):
		log.Warn().Err(err).Msg("Relay busy; safety alarm remains armed")
	default:
		return fmt.Errorf("turn pump off: %w", err)
	}
	return nil
}

// onTimeout never consults the relay state before switching off.
func (c *Controller) onTimeout() error {
	err := c.setState(relay.Off)
	switch {
	case err == nil:
		log.Warn().Dur("max_on", c.policy.MaxOn).Msg("Pump reached max runtime; turned OFF")
		c.observe(relay.Off, "max_runtime")
		c.notify("[Pump Cutoff]", fmt.Sprintf("Pump ran for %s without a low temperature delta and was switched off", c.policy.MaxOn))
	case errors.Is(err, relay.ErrAlreadyInState):
		log.Debug().Msg("Safety alarm fired with pump already off")
	case errors.Is(err, relay.ErrLockTimeout):
		log.Warn().Err(err).Dur("retry", c.cutoffRetry).Msg("Relay busy at safety cutoff; retrying")
		c.timer.Arm(c.cutoffRetry)
	default:
		return fmt.Errorf("safety cutoff: %w", err)
	}
	return nil
}

func (c *Controller) setState(s relay.State) error {
	_, err := retryLocked(c, func() (struct{}, error) {
		return struct{}{}, c.actuator.SetState(s)
	})
	return err
}

// retryLocked retries fn while it reports lock contention.
func retryLocked[T any](c *Controller, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 0; attempt < c.lockRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.retryBackoff)
		}
		v, err = fn()
		if !errors.Is(err, relay.ErrLockTimeout) {
			return v, err
		}
	}
	return v, err
}

func (c *Controller) observe(s relay.State, reason string) {
	for _, o := range c.observers {
		o.PumpChanged(s, reason)
	}
}

func (c *Controller) notify(title, message string) {
	if c.notifier == nil {
		return
	}
	n := c.notifier
	go func() {
		if err := n.Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send pump notification")
		}
	}()
}
