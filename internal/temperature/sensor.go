// Package temperature samples a pair of 1-wire probes and keeps running
// statistics for each probe and for their absolute difference.
package temperature

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/onewire"
	"github.com/thatsimonsguy/solar-pump-controller/internal/timedlock"
)

const (
	// MinSamplePeriod is the conversion time of a DS18B20 at 12-bit resolution.
	MinSamplePeriod            = 750 * time.Millisecond
	DefaultSamplePeriod        = 10 * time.Second
	DefaultNotificationTimeout = time.Millisecond
	DefaultFaultAlertThreshold = 6
)

var (
	ErrInvalidConfig  = errors.New("invalid delta sensor configuration")
	ErrDeviceMismatch = errors.New("expected exactly two temperature probes")
	ErrReadFault      = errors.New("temperature read failed")
	ErrLockTimeout    = timedlock.ErrTimeout
)

// lowered in tests to keep worker loops fast
var minSamplePeriod = MinSamplePeriod

// Notifier interface for sending notifications
type Notifier interface {
	Send(title, message string) error
}

type Config struct {
	// SamplePeriod of zero selects DefaultSamplePeriod.
	SamplePeriod        time.Duration
	Notifications       chan<- Notification
	NotificationTimeout time.Duration
	LockWait            time.Duration

	// FaultAlertThreshold consecutive faults trigger one alert through
	// Notifier; the next good reading sends a recovery message.
	FaultAlertThreshold int
	Notifier            Notifier
}

// Notification is sent after every successful reading.
type Notification struct {
	Delta  float64
	Sensor *DeltaSensor
}

type Channel struct {
	Latest  float64
	Min     float64
	Max     float64
	Average float64
}

func (c *Channel) update(readings uint64, v float64) {
	c.Latest = v
	if readings == 0 {
		c.Min, c.Max = v, v
	} else {
		c.Min = math.Min(c.Min, v)
		c.Max = math.Max(c.Max, v)
	}
	c.Average += (v - c.Average) / float64(readings+1)
}

type Data struct {
	Probe1          Channel
	Probe2          Channel
	Delta           Channel
	Readings        uint64
	Faults          uint64
	LatestReadingAt time.Time
}

type DeltaSensor struct {
	cfg Config
	bus onewire.Bus
	ids []string
	mu  *timedlock.Mutex
	now func() time.Time

	data              Data
	consecutiveFaults int
	alerted           bool

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open validates cfg, verifies two probes are attached and starts the
// sampling worker.
func Open(cfg Config, bus onewire.Bus) (*DeltaSensor, error) {
	s, err := newDeltaSensor(cfg, bus)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)

	log.Info().
		Strs("probes", s.ids).
		Dur("sample_period", s.cfg.SamplePeriod).
		Msg("Temperature delta sensor started")
	return s, nil
}

func newDeltaSensor(cfg Config, bus onewire.Bus) (*DeltaSensor, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: no 1-wire bus", ErrInvalidConfig)
	}
	if cfg.SamplePeriod == 0 {
		cfg.SamplePeriod = DefaultSamplePeriod
	}
	if cfg.SamplePeriod < minSamplePeriod {
		return nil, fmt.Errorf("%w: sample period %s is below %s", ErrInvalidConfig, cfg.SamplePeriod, minSamplePeriod)
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = DefaultNotificationTimeout
	}
	if cfg.FaultAlertThreshold <= 0 {
		cfg.FaultAlertThreshold = DefaultFaultAlertThreshold
	}

	ids, err := bus.Scan()
	if err != nil {
		return nil, fmt.Errorf("%w: scan bus: %w", ErrInvalidConfig, err)
	}
	if len(ids) != 2 {
		return nil, fmt.Errorf("%w: found %d", ErrDeviceMismatch, len(ids))
	}

	return &DeltaSensor{
		cfg: cfg,
		bus: bus,
		ids: ids,
		mu:  timedlock.New(cfg.LockWait),
		now: time.Now,
	}, nil
}

// Probes returns the ids of the two probes in channel order.
func (s *DeltaSensor) Probes() []string {
	return append([]string(nil), s.ids...)
}

func (s *DeltaSensor) SamplePeriod() time.Duration {
	return s.cfg.SamplePeriod
}

func (s *DeltaSensor) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		delta, err := s.readOnce()
		if err == nil && s.cfg.Notifications != nil {
			s.notify(ctx, delta)
		}

		wait := s.cfg.SamplePeriod - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (s *DeltaSensor) notify(ctx context.Context, delta float64) {
	t := time.NewTimer(s.cfg.NotificationTimeout)
	defer t.Stop()

	select {
	case s.cfg.Notifications <- Notification{Delta: delta, Sensor: s}:
	case <-t.C:
		log.Warn().Float64("delta", delta).Msg("Temperature notification timed out; dropping")
	case <-ctx.Done():
	}
}

// readOnce performs one blocking dual-probe measurement outside the lock and
// then folds the result into the statistics.
func (s *DeltaSensor) readOnce() (float64, error) {
	temps, measureErr := s.bus.Measure(s.ids)
	if measureErr == nil && len(temps) != 2 {
		measureErr = fmt.Errorf("bus returned %d readings", len(temps))
	}

	if err := s.mu.Lock(); err != nil {
		log.Warn().Msg("Temperature statistics busy; reading discarded")
		return 0, ErrLockTimeout
	}
	defer s.mu.Unlock()

	if measureErr != nil {
		s.data.Faults++
		s.recordFault()
		log.Error().Err(measureErr).Uint64("faults", s.data.Faults).Msg("Failed to read temperature probes")
		return 0, fmt.Errorf("%w: %w", ErrReadFault, measureErr)
	}

	a, b := temps[0], temps[1]
	delta := math.Abs(a - b)
	n := s.data.Readings
	s.data.Probe1.update(n, a)
	s.data.Probe2.update(n, b)
	s.data.Delta.update(n, delta)
	s.data.Readings++
	s.data.LatestReadingAt = s.now()
	s.recordGood()

	log.Debug().
		Float64("probe1", a).
		Float64("probe2", b).
		Float64("delta", delta).
		Uint64("readings", s.data.Readings).
		Msg("Temperature reading accepted")
	return delta, nil
}

// recordFault and recordGood run with the lock held.
func (s *DeltaSensor) recordFault() {
	s.consecutiveFaults++
	if s.consecutiveFaults < s.cfg.FaultAlertThreshold || s.alerted {
		return
	}
	s.alerted = true
	s.send("[Probe Fault]", fmt.Sprintf("Temperature probes failed %d consecutive reads; pump control is holding its last decision", s.consecutiveFaults))
}

func (s *DeltaSensor) recordGood() {
	s.consecutiveFaults = 0
	if !s.alerted {
		return
	}
	s.alerted = false
	s.send("[Probe Recovered]", fmt.Sprintf("Temperature probes reading again (delta %.2f°C)", s.data.Delta.Latest))
}

func (s *DeltaSensor) send(title, message string) {
	if s.cfg.Notifier == nil {
		return
	}
	n := s.cfg.Notifier
	go func() {
		if err := n.Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send probe notification")
		}
	}()
}

func (s *DeltaSensor) Snapshot() (Data, error) {
	if err := s.mu.Lock(); err != nil {
		return Data{}, ErrLockTimeout
	}
	defer s.mu.Unlock()
	return s.data, nil
}

// Reset zeroes every statistic, including the fault counter.
func (s *DeltaSensor) Reset() error {
	if err := s.mu.Lock(); err != nil {
		return ErrLockTimeout
	}
	defer s.mu.Unlock()

	s.data = Data{}
	s.consecutiveFaults = 0
	s.alerted = false
	log.Info().Msg("Temperature statistics reset")
	return nil
}

// Close stops the worker and waits for it to exit.
func (s *DeltaSensor) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
		log.Info().Msg("Temperature delta sensor stopped")
	})
	return nil
}
