package db

import (
	"fmt"
	"io"
	"time"
)

func ShowSettingsCLI(dbPath string, w io.Writer) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	p, err := GetSettings(conn)
	if err != nil {
		return err
	}
	updated, err := GetSettingsUpdatedAt(conn)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "high_threshold: %.2f\n", p.HighThreshold)
	fmt.Fprintf(w, "low_threshold:  %.2f\n", p.LowThreshold)
	fmt.Fprintf(w, "min_off:        %s\n", p.MinOff)
	fmt.Fprintf(w, "min_on:         %s\n", p.MinOn)
	fmt.Fprintf(w, "max_on:         %s\n", p.MaxOn)
	fmt.Fprintf(w, "updated_at:     %s\n", updated.Format(time.RFC3339))

	events, err := RecentPumpEvents(conn, 10)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Fprintln(w, "recent pump events:")
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s  %-3s  %s\n", e.At.Local().Format(time.RFC3339), e.State, e.Reason)
	}
	return nil
}

func SetThresholdsCLI(dbPath string, high, low float64) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateThresholds(conn, high, low)
}

func SetDurationsCLI(dbPath string, minOff, minOn, maxOn time.Duration) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return UpdateDurations(conn, minOff, minOn, maxOn)
}
