package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction. Rolling back a
// committed transaction is a no-op.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// UpdateThresholds changes the hysteresis thresholds. The result must still
// be a valid policy.
func UpdateThresholds(db *sql.DB, high, low float64) error {
	return updateSettings(db, func(p *model.PumpPolicy) {
		p.HighThreshold = high
		p.LowThreshold = low
	})
}

// UpdateDurations changes the dwell limits.
func UpdateDurations(db *sql.DB, minOff, minOn, maxOn time.Duration) error {
	return updateSettings(db, func(p *model.PumpPolicy) {
		p.MinOff = minOff
		p.MinOn = minOn
		p.MaxOn = maxOn
	})
}

func updateSettings(db *sql.DB, change func(*model.PumpPolicy)) error {
	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	defer RollbackTransaction(tx)

	policy, err := getSettings(tx.QueryRow(`SELECT high_threshold, low_threshold, min_off_seconds, min_on_seconds, max_on_seconds FROM settings WHERE id = 1`))
	if err != nil {
		return err
	}
	change(&policy)
	if err := policy.Validate(); err != nil {
		return err
	}

	_, err = tx.Exec(`UPDATE settings SET high_threshold = ?, low_threshold = ?, min_off_seconds = ?, min_on_seconds = ?, max_on_seconds = ?, updated_at = ? WHERE id = 1`,
		policy.HighThreshold, policy.LowThreshold, seconds(policy.MinOff), seconds(policy.MinOn), seconds(policy.MaxOn), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return CommitTransaction(tx)
}

// RecordPumpEvent appends a pump transition to the history table.
func RecordPumpEvent(db *sql.DB, state, reason string, at time.Time) error {
	_, err := db.Exec(`INSERT INTO pump_events (state, reason, at) VALUES (?, ?, ?)`, state, reason, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record pump event: %w", err)
	}
	return nil
}

// PrunePumpEvents keeps only the newest keep rows.
func PrunePumpEvents(db *sql.DB, keep int) error {
	_, err := db.Exec(`DELETE FROM pump_events WHERE id NOT IN (SELECT id FROM pump_events ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("prune pump events: %w", err)
	}
	return nil
}
