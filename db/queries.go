package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
)

// PumpEvent is one recorded pump transition.
type PumpEvent struct {
	State  string
	Reason string
	At     time.Time
}

// GetSettings retrieves the stored pump policy.
func GetSettings(db *sql.DB) (model.PumpPolicy, error) {
	return getSettings(db.QueryRow(`SELECT high_threshold, low_threshold, min_off_seconds, min_on_seconds, max_on_seconds FROM settings WHERE id = 1`))
}

func getSettings(row *sql.Row) (model.PumpPolicy, error) {
	var (
		p                    model.PumpPolicy
		minOff, minOn, maxOn int64
	)
	if err := row.Scan(&p.HighThreshold, &p.LowThreshold, &minOff, &minOn, &maxOn); err != nil {
		return model.PumpPolicy{}, fmt.Errorf("failed to get settings: %w", err)
	}
	p.MinOff = time.Duration(minOff) * time.Second
	p.MinOn = time.Duration(minOn) * time.Second
	p.MaxOn = time.Duration(maxOn) * time.Second
	return p, nil
}

// GetSettingsUpdatedAt reports when the settings row last changed.
func GetSettingsUpdatedAt(db *sql.DB) (time.Time, error) {
	var ts string
	if err := db.QueryRow(`SELECT updated_at FROM settings WHERE id = 1`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("failed to get settings timestamp: %w", err)
	}
	return time.Parse(time.RFC3339, ts)
}

// RecentPumpEvents returns up to limit transitions, newest first.
func RecentPumpEvents(db *sql.DB, limit int) ([]PumpEvent, error) {
	rows, err := db.Query(`SELECT state, reason, at FROM pump_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pump events: %w", err)
	}
	defer rows.Close()

	var events []PumpEvent
	for rows.Next() {
		var (
			e  PumpEvent
			at string
		)
		if err := rows.Scan(&e.State, &e.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan pump event: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pump event time %q: %w", at, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
