package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
)

func setupTestDB(t *testing.T) *sql.DB {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSeedAndGetSettings(t *testing.T) {
	conn := setupTestDB(t)

	require.NoError(t, SeedSettings(conn, model.DefaultPumpPolicy()))

	got, err := GetSettings(conn)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPumpPolicy(), got)
}

func TestSeedSettingsKeepsExistingRow(t *testing.T) {
	conn := setupTestDB(t)
	require.NoError(t, SeedSettings(conn, model.DefaultPumpPolicy()))
	require.NoError(t, UpdateThresholds(conn, 8, 2))

	require.NoError(t, SeedSettings(conn, model.DefaultPumpPolicy()))

	got, err := GetSettings(conn)
	require.NoError(t, err)
	assert.Equal(t, 8.0, got.HighThreshold)
	assert.Equal(t, 2.0, got.LowThreshold)
}

func TestSeedSettingsRejectsInvalidPolicy(t *testing.T) {
	conn := setupTestDB(t)
	p := model.DefaultPumpPolicy()
	p.LowThreshold = p.HighThreshold

	err := SeedSettings(conn, p)
	assert.ErrorIs(t, err, model.ErrInvalidPolicy)

	_, err = GetSettings(conn)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestUpdateThresholdsValidates(t *testing.T) {
	conn := setupTestDB(t)
	require.NoError(t, SeedSettings(conn, model.DefaultPumpPolicy()))

	err := UpdateThresholds(conn, 2, 4)
	assert.ErrorIs(t, err, model.ErrInvalidPolicy)

	got, err := GetSettings(conn)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPumpPolicy(), got, "rejected update must not be written")
}

func TestUpdateDurations(t *testing.T) {
	conn := setupTestDB(t)
	require.NoError(t, SeedSettings(conn, model.DefaultPumpPolicy()))

	require.NoError(t, UpdateDurations(conn, 2*time.Minute, 90*time.Second, 15*time.Minute))

	got, err := GetSettings(conn)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, got.MinOff)
	assert.Equal(t, 90*time.Second, got.MinOn)
	assert.Equal(t, 15*time.Minute, got.MaxOn)

	err = UpdateDurations(conn, 0, 10*time.Minute, 5*time.Minute)
	assert.ErrorIs(t, err, model.ErrInvalidPolicy)
}

func TestPumpEventsNewestFirstAndPruned(t *testing.T) {
	conn := setupTestDB(t)
	base := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		state := "on"
		if i%2 == 1 {
			state = "off"
		}
		require.NoError(t, RecordPumpEvent(conn, state, "test", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, PrunePumpEvents(conn, 3))

	events, err := RecentPumpEvents(conn, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, base.Add(4*time.Minute), events[0].At)
	assert.Equal(t, "on", events[0].State)
	assert.Equal(t, base.Add(2*time.Minute), events[2].At)
}

func TestEventLogRun(t *testing.T) {
	conn := setupTestDB(t)
	l := NewEventLog(conn)

	l.PumpChanged(relay.On, "flow_started")
	l.PumpChanged(relay.Off, "low_delta")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	events, err := RecentPumpEvents(conn, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "off", events[0].State)
	assert.Equal(t, "low_delta", events[0].Reason)
	assert.Equal(t, "flow_started", events[1].Reason)
}

func TestCLIHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	conn, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, SeedSettings(conn, model.DefaultPumpPolicy()))
	require.NoError(t, conn.Close())

	require.NoError(t, SetThresholdsCLI(path, 7.5, 2.5))
	require.NoError(t, SetDurationsCLI(path, time.Minute, time.Minute, 20*time.Minute))

	var out strings.Builder
	require.NoError(t, ShowSettingsCLI(path, &out))
	assert.Contains(t, out.String(), "high_threshold: 7.50")
	assert.Contains(t, out.String(), "max_on:         20m0s")
}
