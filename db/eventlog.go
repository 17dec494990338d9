package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
)

const (
	eventLogBuffer = 32
	eventLogKeep   = 1000
)

type pumpEvent struct {
	state  relay.State
	reason string
	at     time.Time
}

// EventLog records pump transitions in the pump_events table. PumpChanged
// only queues; Run does the writes.
type EventLog struct {
	db     *sql.DB
	now    func() time.Time
	events chan pumpEvent
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{
		db:     db,
		now:    time.Now,
		events: make(chan pumpEvent, eventLogBuffer),
	}
}

func (l *EventLog) PumpChanged(state relay.State, reason string) {
	select {
	case l.events <- pumpEvent{state: state, reason: reason, at: l.now()}:
	default:
		log.Warn().Str("state", state.String()).Str("reason", reason).Msg("Pump event log full; dropping event")
	}
}

// Run writes queued events until ctx ends, then drains what is left.
func (l *EventLog) Run(ctx context.Context) error {
	for {
		select {
		case e := <-l.events:
			l.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-l.events:
					l.write(e)
				default:
					return nil
				}
			}
		}
	}
}

func (l *EventLog) write(e pumpEvent) {
	if err := RecordPumpEvent(l.db, e.state.String(), e.reason, e.at); err != nil {
		log.Error().Err(err).Msg("Failed to record pump event")
		return
	}
	if err := PrunePumpEvents(l.db, eventLogKeep); err != nil {
		log.Warn().Err(err).Msg("Failed to prune pump events")
	}
}
