// Package telemetry periodically samples the pump components and reports
// them as Datadog gauges and an MQTT status document.
package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/status"
)

type Metrics interface {
	Gauge(name string, value float64, tags ...string)
}

type StatusPublisher interface {
	PublishStatus(doc status.System) error
}

type Reporter struct {
	sources   status.Sources
	interval  time.Duration
	metrics   Metrics
	publisher StatusPublisher
}

// NewReporter builds a reporter. metrics and publisher may be nil.
func NewReporter(src status.Sources, interval time.Duration, metrics Metrics, publisher StatusPublisher) *Reporter {
	return &Reporter{
		sources:   src,
		interval:  interval,
		metrics:   metrics,
		publisher: publisher,
	}
}

// Run reports once immediately and then every interval until ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Report()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}

func (r *Reporter) Report() {
	doc, err := status.Collect(r.sources)
	if err != nil {
		log.Debug().Err(err).Msg("Telemetry sample incomplete")
	}

	if r.metrics != nil {
		r.emit(doc)
	}
	if r.publisher != nil {
		if err := r.publisher.PublishStatus(doc); err != nil {
			log.Warn().Err(err).Msg("Failed to publish status")
		}
	}
}

func (r *Reporter) emit(doc status.System) {
	if rl := doc.Relay; rl != nil {
		on := 0.0
		if rl.State == "on" {
			on = 1
		}
		r.metrics.Gauge("pump.on", on)
		r.metrics.Gauge("pump.current_duration", rl.CurrentDuration)
		r.metrics.Gauge("pump.fraction_on", rl.On.FractionOfTime)
		r.metrics.Gauge("pump.transitions", float64(rl.Transitions))
	}

	if t := doc.Temperature; t != nil && t.Readings > 0 {
		r.metrics.Gauge("temperature.latest", t.Probe1.Latest, "probe:1")
		r.metrics.Gauge("temperature.latest", t.Probe2.Latest, "probe:2")
		r.metrics.Gauge("temperature.delta", t.Delta.Latest)
	}
	if t := doc.Temperature; t != nil {
		r.metrics.Gauge("temperature.faults", float64(t.Faults))
	}

	if f := doc.Flow; f != nil {
		r.metrics.Gauge("flow.rate", f.CurrentRate)
		r.metrics.Gauge("flow.cycles", float64(f.Totals.Cycles))
		r.metrics.Gauge("flow.pulses", float64(f.Totals.Pulses))
	}

	if c := doc.Controller; c != nil {
		armed := 0.0
		if c.SafetyArmed {
			armed = 1
		}
		r.metrics.Gauge("pump.safety_armed", armed)
	}
}
