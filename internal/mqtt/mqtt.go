// Package mqtt publishes pump transitions and periodic status documents.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
	"github.com/thatsimonsguy/solar-pump-controller/internal/status"
)

// Topics are relative to the configured prefix.
const (
	TopicEvents = "pump/events"
	TopicStatus = "pump/status"
	TopicSystem = "pump/system"
)

type Publisher interface {
	PublishEvent(event PumpEvent) error
	PublishStatus(doc status.System) error
	Close() error
}

type PumpEvent struct {
	Timestamp time.Time
	State     relay.State
	Reason    string
}

type eventPayload struct {
	Pump struct {
		Timestamp string `json:"timestamp"`
		State     string `json:"state"`
		Reason    string `json:"reason"`
	} `json:"pump"`
}

func FormatEventPayload(e PumpEvent) ([]byte, error) {
	var p eventPayload
	p.Pump.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	p.Pump.State = e.State.String()
	p.Pump.Reason = e.Reason
	return json.Marshal(p)
}

func FormatStatusPayload(doc status.System) ([]byte, error) {
	return json.Marshal(doc)
}

type systemPayload struct {
	System struct {
		Timestamp string `json:"timestamp,omitempty"`
		Event     string `json:"event"`
	} `json:"system"`
}

func formatSystemPayload(event string, at time.Time) []byte {
	var p systemPayload
	p.System.Event = event
	if !at.IsZero() {
		p.System.Timestamp = at.UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(p)
	return b
}

const observerBuffer = 16

// Observer forwards controller transitions to a Publisher. PumpChanged never
// blocks; Run performs the publishing.
type Observer struct {
	pub    Publisher
	now    func() time.Time
	events chan PumpEvent
}

func NewObserver(pub Publisher) *Observer {
	return &Observer{
		pub:    pub,
		now:    time.Now,
		events: make(chan PumpEvent, observerBuffer),
	}
}

func (o *Observer) PumpChanged(state relay.State, reason string) {
	select {
	case o.events <- PumpEvent{Timestamp: o.now(), State: state, Reason: reason}:
	default:
		log.Warn().Str("state", state.String()).Msg("MQTT event queue full; dropping pump event")
	}
}

func (o *Observer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-o.events:
			if err := o.pub.PublishEvent(e); err != nil {
				log.Warn().Err(err).Str("state", e.State.String()).Msg("Failed to publish pump event")
			}
		}
	}
}
