package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK(id=1),
	high_threshold REAL NOT NULL,
	low_threshold REAL NOT NULL,
	min_off_seconds INTEGER NOT NULL,
	min_on_seconds INTEGER NOT NULL,
	max_on_seconds INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pump_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	state TEXT NOT NULL,
	reason TEXT NOT NULL,
	at TEXT NOT NULL
);
`

// Open opens the sqlite database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; sqlite serialises anyway and :memory: is per-connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return conn, nil
}

// SeedSettings stores policy as the initial settings row. An existing row is
// left alone so edits made with the debug tool survive restarts.
func SeedSettings(db *sql.DB, policy model.PumpPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	tx, err := StartTransaction(db)
	if err != nil {
		return err
	}
	defer RollbackTransaction(tx)

	res, err := tx.Exec(`INSERT OR IGNORE INTO settings (id, high_threshold, low_threshold, min_off_seconds, min_on_seconds, max_on_seconds, updated_at) VALUES (1, ?, ?, ?, ?, ?, ?)`,
		policy.HighThreshold, policy.LowThreshold, seconds(policy.MinOff), seconds(policy.MinOn), seconds(policy.MaxOn), time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	if err := CommitTransaction(tx); err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		log.Info().Msg("Pump settings seeded from config")
	}
	return nil
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
