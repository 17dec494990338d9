// Package status renders component snapshots as the JSON documents served by
// the HTTP API and published over MQTT. Durations are in seconds.
package status

import (
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/solar-pump-controller/internal/flow"
	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
	"github.com/thatsimonsguy/solar-pump-controller/internal/temperature"
)

type StateAttrs struct {
	Count           uint64  `json:"count"`
	TotalDuration   float64 `json:"total_duration"`
	AverageDuration float64 `json:"average_duration"`
	FractionOfTime  float64 `json:"fraction_of_time"`
}

type Relay struct {
	State           string     `json:"state"`
	CurrentDuration float64    `json:"current_duration"`
	Transitions     uint64     `json:"transitions"`
	Off             StateAttrs `json:"off"`
	On              StateAttrs `json:"on"`
}

type Channel struct {
	Latest  float64 `json:"latest"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

type Temperature struct {
	Readings               uint64     `json:"readings"`
	Faults                 uint64     `json:"faults"`
	LatestReadingTimestamp *time.Time `json:"latest_reading_timestamp,omitempty"`
	Probe1                 Channel    `json:"1"`
	Probe2                 Channel    `json:"2"`
	Delta                  Channel    `json:"delta"`
}

type Cycle struct {
	Pulses   uint64  `json:"pulses"`
	Duration float64 `json:"duration"`
	Rate     float64 `json:"rate"`
}

type Totals struct {
	Pulses        uint64  `json:"pulses"`
	Duration      float64 `json:"duration"`
	Rate          float64 `json:"rate"`
	Cycles        uint64  `json:"cycles"`
	PartialCycles uint64  `json:"partial_cycles"`
}

type Flow struct {
	CurrentRate  float64 `json:"current_rate"`
	InCycle      bool    `json:"in_cycle"`
	CurrentCycle Cycle   `json:"current_cycle"`
	Totals       Totals  `json:"totals"`
}

type Policy struct {
	HighThreshold float64 `json:"high_threshold"`
	LowThreshold  float64 `json:"low_threshold"`
	MinOff        float64 `json:"min_off"`
	MinOn         float64 `json:"min_on"`
	MaxOn         float64 `json:"max_on"`
}

type Controller struct {
	Policy      Policy `json:"policy"`
	SafetyArmed bool   `json:"safety_armed"`
}

// System is the combined document; a nil section means that component's
// lock was busy when the document was built.
type System struct {
	Relay       *Relay       `json:"relay,omitempty"`
	Temperature *Temperature `json:"temperature,omitempty"`
	Flow        *Flow        `json:"flow,omitempty"`
	Controller  *Controller  `json:"controller,omitempty"`
}

func FromRelay(s relay.Snapshot) Relay {
	return Relay{
		State:           s.State.String(),
		CurrentDuration: s.Dwell.Seconds(),
		Transitions:     s.Transitions,
		Off:             FromRelayState(s, relay.Off),
		On:              FromRelayState(s, relay.On),
	}
}

func FromRelayState(s relay.Snapshot, state relay.State) StateAttrs {
	return StateAttrs{
		Count:           s.Visits(state),
		TotalDuration:   s.TotalTime(state).Seconds(),
		AverageDuration: s.AverageTime(state).Seconds(),
		FractionOfTime:  s.Fraction(state),
	}
}

func FromChannel(c temperature.Channel) Channel {
	return Channel{Latest: c.Latest, Min: c.Min, Max: c.Max, Average: c.Average}
}

func FromTemperature(d temperature.Data) Temperature {
	t := Temperature{
		Readings: d.Readings,
		Faults:   d.Faults,
		Probe1:   FromChannel(d.Probe1),
		Probe2:   FromChannel(d.Probe2),
		Delta:    FromChannel(d.Delta),
	}
	if !d.LatestReadingAt.IsZero() {
		ts := d.LatestReadingAt
		t.LatestReadingTimestamp = &ts
	}
	return t
}

func FromFlowCycle(c flow.Cycle) Cycle {
	return Cycle{Pulses: c.Pulses, Duration: c.Duration.Seconds(), Rate: c.Rate}
}

func FromFlowTotals(t flow.Totals) Totals {
	return Totals{
		Pulses:        t.Pulses,
		Duration:      t.Duration.Seconds(),
		Rate:          t.Rate,
		Cycles:        t.Cycles,
		PartialCycles: t.PartialCycles,
	}
}

func FromFlow(d flow.Data) Flow {
	return Flow{
		CurrentRate:  d.CurrentRate,
		InCycle:      d.InCycle,
		CurrentCycle: FromFlowCycle(d.CurrentCycle),
		Totals:       FromFlowTotals(d.Totals),
	}
}

func FromPolicy(p model.PumpPolicy) Policy {
	return Policy{
		HighThreshold: p.HighThreshold,
		LowThreshold:  p.LowThreshold,
		MinOff:        p.MinOff.Seconds(),
		MinOn:         p.MinOn.Seconds(),
		MaxOn:         p.MaxOn.Seconds(),
	}
}

type RelaySource interface {
	Snapshot() (relay.Snapshot, error)
}

type TemperatureSource interface {
	Snapshot() (temperature.Data, error)
}

type FlowSource interface {
	Snapshot() flow.Data
}

type ControllerSource interface {
	Policy() model.PumpPolicy
	SafetyArmed() bool
}

// Sources are the components a System document is built from. Flow and
// Controller may be nil.
type Sources struct {
	Relay       RelaySource
	Temperature TemperatureSource
	Flow        FlowSource
	Controller  ControllerSource
}

// Collect snapshots every source. A source whose snapshot fails is left out
// and its error is joined into the returned error.
func Collect(src Sources) (System, error) {
	var (
		doc  System
		errs []error
	)

	if snap, err := src.Relay.Snapshot(); err != nil {
		errs = append(errs, fmt.Errorf("relay: %w", err))
	} else {
		v := FromRelay(snap)
		doc.Relay = &v
	}

	if data, err := src.Temperature.Snapshot(); err != nil {
		errs = append(errs, fmt.Errorf("temperature: %w", err))
	} else {
		v := FromTemperature(data)
		doc.Temperature = &v
	}

	if src.Flow != nil {
		v := FromFlow(src.Flow.Snapshot())
		doc.Flow = &v
	}

	if src.Controller != nil {
		doc.Controller = &Controller{
			Policy:      FromPolicy(src.Controller.Policy()),
			SafetyArmed: src.Controller.SafetyArmed(),
		}
	}

	return doc, errors.Join(errs...)
}
