package status

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/solar-pump-controller/internal/flow"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
	"github.com/thatsimonsguy/solar-pump-controller/internal/temperature"
)

func TestFromRelay(t *testing.T) {
	snap := relay.Snapshot{
		State:       relay.On,
		Dwell:       30 * time.Second,
		Accumulated: [2]time.Duration{90 * time.Second, 0},
		Transitions: 1,
	}

	got := FromRelay(snap)
	assert.Equal(t, "on", got.State)
	assert.Equal(t, 30.0, got.CurrentDuration)
	assert.Equal(t, StateAttrs{Count: 1, TotalDuration: 90, AverageDuration: 90, FractionOfTime: 0.75}, got.Off)
	assert.Equal(t, StateAttrs{Count: 0, TotalDuration: 30, AverageDuration: 0, FractionOfTime: 0.25}, got.On)
}

func TestTemperatureJSONKeys(t *testing.T) {
	d := temperature.Data{
		Delta:    temperature.Channel{Latest: 6, Min: 5, Max: 7, Average: 6},
		Readings: 3,
		Faults:   1,
	}

	raw, err := json.Marshal(FromTemperature(d))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "1")
	assert.Contains(t, doc, "2")
	assert.Contains(t, doc, "delta")
	assert.NotContains(t, doc, "latest_reading_timestamp", "no reading yet")
	assert.Equal(t, 6.0, doc["delta"].(map[string]any)["latest"])
}

func TestFromFlow(t *testing.T) {
	d := flow.Data{
		CurrentRate:  2,
		InCycle:      true,
		CurrentCycle: flow.Cycle{Pulses: 10, Duration: 5 * time.Second, Rate: 2},
		Totals:       flow.Totals{Pulses: 110, Duration: 55 * time.Second, Rate: 2, Cycles: 4, PartialCycles: 1},
	}

	got := FromFlow(d)
	assert.Equal(t, 5.0, got.CurrentCycle.Duration)
	assert.Equal(t, 55.0, got.Totals.Duration)
	assert.Equal(t, uint64(1), got.Totals.PartialCycles)
}

type stubRelay struct {
	snap relay.Snapshot
	err  error
}

func (s stubRelay) Snapshot() (relay.Snapshot, error) { return s.snap, s.err }

type stubTemperature struct {
	data temperature.Data
	err  error
}

func (s stubTemperature) Snapshot() (temperature.Data, error) { return s.data, s.err }

func TestCollectJoinsErrors(t *testing.T) {
	doc, err := Collect(Sources{
		Relay:       stubRelay{err: relay.ErrLockTimeout},
		Temperature: stubTemperature{data: temperature.Data{Readings: 2}},
	})

	assert.ErrorIs(t, err, relay.ErrLockTimeout)
	assert.Nil(t, doc.Relay)
	require.NotNil(t, doc.Temperature)
	assert.Equal(t, uint64(2), doc.Temperature.Readings)
	assert.Nil(t, doc.Flow)
	assert.Nil(t, doc.Controller)
}
