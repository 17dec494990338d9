package temperature

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/thatsimonsguy/solar-pump-controller/internal/onewire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *MockNotifier) Send(title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, title+": "+message)
	return nil
}

func (m *MockNotifier) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func fastSampling(t *testing.T) {
	t.Helper()
	orig := minSamplePeriod
	minSamplePeriod = time.Millisecond
	t.Cleanup(func() { minSamplePeriod = orig })
}

func reading(a, b float64) onewire.FakeReading {
	return onewire.FakeReading{Temps: []float64{a, b}}
}

func fault() onewire.FakeReading {
	return onewire.FakeReading{Err: onewire.ErrCRC}
}

func TestOpen_Validation(t *testing.T) {
	bus := onewire.NewFakeBus("28-a", "28-b")

	_, err := Open(Config{SamplePeriod: 500 * time.Millisecond}, bus)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := newDeltaSensor(Config{}, bus)
	require.NoError(t, err)
	assert.Equal(t, DefaultSamplePeriod, s.SamplePeriod())
	assert.Equal(t, DefaultNotificationTimeout, s.cfg.NotificationTimeout)
	assert.Equal(t, []string{"28-a", "28-b"}, s.Probes())
}

func TestOpen_DeviceMismatch(t *testing.T) {
	_, err := Open(Config{}, onewire.NewFakeBus("28-a"))
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	_, err = Open(Config{}, onewire.NewFakeBus("28-a", "28-b", "28-c"))
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	bus := onewire.NewFakeBus()
	bus.ScanErr = errors.New("no master")
	_, err = Open(Config{}, bus)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReadOnce_Scenario(t *testing.T) {
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(20, 14), reading(21, 15), fault())
	s, err := newDeltaSensor(Config{}, bus)
	require.NoError(t, err)

	d, err := s.readOnce()
	require.NoError(t, err)
	assert.InDelta(t, 6.0, d, 1e-9)
	_, err = s.readOnce()
	require.NoError(t, err)
	_, err = s.readOnce()
	assert.ErrorIs(t, err, ErrReadFault)

	data, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), data.Readings)
	assert.Equal(t, uint64(1), data.Faults)
	assert.InDelta(t, 6.0, data.Delta.Latest, 1e-9)
	assert.InDelta(t, 6.0, data.Delta.Average, 1e-9)
	assert.InDelta(t, 6.0, data.Delta.Min, 1e-9)
	assert.InDelta(t, 6.0, data.Delta.Max, 1e-9)
	assert.InDelta(t, 20.5, data.Probe1.Average, 1e-9)
	assert.InDelta(t, 14.0, data.Probe2.Min, 1e-9)
	assert.InDelta(t, 15.0, data.Probe2.Max, 1e-9)
	assert.False(t, data.LatestReadingAt.IsZero())
}

func TestReadOnce_DeltaIsAbsolute(t *testing.T) {
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(10, 17.5))
	s, err := newDeltaSensor(Config{}, bus)
	require.NoError(t, err)

	d, err := s.readOnce()
	require.NoError(t, err)
	assert.InDelta(t, 7.5, d, 1e-9)
}

func TestReadOnce_LockTimeoutDiscardsReading(t *testing.T) {
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(20, 14))
	s, err := newDeltaSensor(Config{}, bus)
	require.NoError(t, err)

	require.NoError(t, s.mu.Lock())
	_, err = s.readOnce()
	assert.ErrorIs(t, err, ErrLockTimeout)
	_, err = s.Snapshot()
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, s.Reset(), ErrLockTimeout)
	s.mu.Unlock()

	data, err := s.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, data.Readings)
	assert.Zero(t, data.Faults)
}

func TestReset(t *testing.T) {
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(20, 14), fault(), reading(30, 10))
	s, err := newDeltaSensor(Config{}, bus)
	require.NoError(t, err)

	s.readOnce()
	s.readOnce()
	require.NoError(t, s.Reset())

	data, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, Data{}, data)

	_, err = s.readOnce()
	require.NoError(t, err)
	data, err = s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), data.Readings)
	assert.InDelta(t, 20.0, data.Delta.Min, 1e-9, "min reseeded after reset")
}

func TestFaultAlertAndRecovery(t *testing.T) {
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(fault(), fault(), fault(), reading(25, 20))
	notifier := &MockNotifier{}
	s, err := newDeltaSensor(Config{FaultAlertThreshold: 2, Notifier: notifier}, bus)
	require.NoError(t, err)

	s.readOnce()
	assert.Empty(t, notifier.Calls())
	s.readOnce()
	s.readOnce()
	require.Eventually(t, func() bool { return len(notifier.Calls()) == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, notifier.Calls()[0], "[Probe Fault]")

	s.readOnce()
	require.Eventually(t, func() bool { return len(notifier.Calls()) == 2 }, time.Second, time.Millisecond)
	assert.Contains(t, notifier.Calls()[1], "[Probe Recovered]")
}

func TestWorker_Notifies(t *testing.T) {
	fastSampling(t)
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(40, 32))
	ch := make(chan Notification, 4)

	s, err := Open(Config{SamplePeriod: 5 * time.Millisecond, Notifications: ch}, bus)
	require.NoError(t, err)
	defer s.Close()

	select {
	case n := <-ch:
		assert.InDelta(t, 8.0, n.Delta, 1e-9)
		assert.Same(t, s, n.Sensor)
	case <-time.After(time.Second):
		t.Fatal("no notification from worker")
	}
}

func TestWorker_DropsWhenConsumerStalls(t *testing.T) {
	fastSampling(t)
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(40, 32))
	ch := make(chan Notification)

	s, err := Open(Config{SamplePeriod: 2 * time.Millisecond, Notifications: ch}, bus)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := s.Snapshot()
		return err == nil && data.Readings >= 3
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close())
}

func TestWorker_NoNotificationOnFault(t *testing.T) {
	fastSampling(t)
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(fault())
	ch := make(chan Notification, 1)

	s, err := Open(Config{SamplePeriod: 2 * time.Millisecond, Notifications: ch}, bus)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return bus.Measured() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close())
	assert.Empty(t, ch)
}

func TestWorker_PeriodSpacesReadingStarts(t *testing.T) {
	fastSampling(t)
	const (
		period = 50 * time.Millisecond
		delay  = 30 * time.Millisecond
	)
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(40, 32))
	bus.Delay = delay

	s, err := Open(Config{SamplePeriod: period}, bus)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(bus.Starts()) >= 6 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	starts := bus.Starts()[:6]
	avg := starts[len(starts)-1].Sub(starts[0]) / time.Duration(len(starts)-1)
	assert.GreaterOrEqual(t, avg, period-5*time.Millisecond)
	assert.Less(t, avg, period+delay/2, "read time must not be added on top of the period")
}

func TestClose_StopsWorker(t *testing.T) {
	fastSampling(t)
	bus := onewire.NewFakeBus("28-a", "28-b")
	bus.Script(reading(1, 2))

	s, err := Open(Config{SamplePeriod: time.Millisecond}, bus)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	n := bus.Measured()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, bus.Measured())
	assert.NoError(t, s.Close())
}

func TestStatisticsRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pairs := rapid.SliceOfN(rapid.SliceOfN(rapid.Float64Range(-40, 125), 2, 2), 1, 50).Draw(t, "pairs")
		faultAt := rapid.IntRange(-1, len(pairs)-1).Draw(t, "faultAt")

		bus := onewire.NewFakeBus("28-a", "28-b")
		var script []onewire.FakeReading
		for i, p := range pairs {
			if i == faultAt {
				script = append(script, fault())
			}
			script = append(script, reading(p[0], p[1]))
		}
		bus.Script(script...)

		s, err := newDeltaSensor(Config{}, bus)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		for range script {
			s.readOnce()
		}

		data, _ := s.Snapshot()
		if data.Readings != uint64(len(pairs)) {
			t.Fatalf("readings %d != %d", data.Readings, len(pairs))
		}
		wantFaults := uint64(0)
		if faultAt >= 0 {
			wantFaults = 1
		}
		if data.Faults != wantFaults {
			t.Fatalf("faults %d != %d", data.Faults, wantFaults)
		}

		var sum, lo, hi float64
		for i, p := range pairs {
			v := p[0]
			sum += v
			if i == 0 || v < lo {
				lo = v
			}
			if i == 0 || v > hi {
				hi = v
			}
		}
		mean := sum / float64(len(pairs))
		if diff := data.Probe1.Average - mean; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("average %f != mean %f", data.Probe1.Average, mean)
		}
		if data.Probe1.Min != lo || data.Probe1.Max != hi {
			t.Fatalf("min/max %f/%f != %f/%f", data.Probe1.Min, data.Probe1.Max, lo, hi)
		}
		if data.Delta.Min < 0 {
			t.Fatalf("negative delta %f", data.Delta.Min)
		}
	})
}
