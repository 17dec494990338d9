package onewire

import (
	"errors"
	"sync"
	"time"
)

var ErrFakeExhausted = errors.New("no scripted reading")

// FakeReading is one scripted Measure result.
type FakeReading struct {
	Temps []float64
	Err   error
}

// FakeBus replays scripted readings. Once the script is exhausted the last
// reading repeats; with an empty script Measure returns ErrFakeExhausted.
// Delay stands in for the probe conversion time.
type FakeBus struct {
	mu       sync.Mutex
	IDs      []string
	ScanErr  error
	Delay    time.Duration
	readings []FakeReading
	measured int
	starts   []time.Time
}

func NewFakeBus(ids ...string) *FakeBus {
	return &FakeBus{IDs: ids}
}

func (b *FakeBus) Script(readings ...FakeReading) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readings = append(b.readings, readings...)
}

// Scan implements Bus.
func (b *FakeBus) Scan() ([]string, error) {
	if b.ScanErr != nil {
		return nil, b.ScanErr
	}
	return append([]string(nil), b.IDs...), nil
}

// Measure implements Bus.
func (b *FakeBus) Measure(ids []string) ([]float64, error) {
	r, delay, err := b.next()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]float64(nil), r.Temps...), nil
}

func (b *FakeBus) next() (FakeReading, time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts = append(b.starts, time.Now())
	if len(b.readings) == 0 {
		return FakeReading{}, b.Delay, ErrFakeExhausted
	}

	i := b.measured
	if i >= len(b.readings) {
		i = len(b.readings) - 1
	}
	b.measured++
	return b.readings[i], b.Delay, nil
}

// Starts reports when each Measure call began.
func (b *FakeBus) Starts() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Time(nil), b.starts...)
}

// Measured reports how many times Measure was called.
func (b *FakeBus) Measured() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.measured
}
