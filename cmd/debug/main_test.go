package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/solar-pump-controller/db"
	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/pinctrl"
)

func seededDB(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "pump.db")
	conn, err := db.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SeedSettings(conn, model.DefaultPumpPolicy()))
	require.NoError(t, conn.Close())
	return path
}

func run(t *testing.T, args ...string) (int, string) {
	var out strings.Builder
	code := DebugCLI(args, &out)
	return code, out.String()
}

func TestSetAndShowSettings(t *testing.T) {
	path := seededDB(t)

	code, out := run(t, "-db", path, "-cmd", "set-thresholds", "-high", "7", "-low", "2")
	require.Equal(t, 0, code, out)

	code, out = run(t, "-db", path, "-cmd", "set-durations", "-min-off", "5m", "-min-on", "2m", "-max-on", "20m")
	require.Equal(t, 0, code, out)

	code, out = run(t, "-db", path, "-cmd", "show")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "high_threshold: 7.00")
	assert.Contains(t, out, "min_off:        5m0s")
}

func TestInvalidThresholdsFail(t *testing.T) {
	path := seededDB(t)

	code, out := run(t, "-db", path, "-cmd", "set-thresholds", "-high", "2", "-low", "7")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "invalid pump policy")
}

func TestUnknownCommand(t *testing.T) {
	code, out := run(t, "-cmd", "explode")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Invalid command")
}

func TestHelp(t *testing.T) {
	code, out := run(t)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Usage of solar-pump-debug")
}

func TestInstallService(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	config := `{
		"relay_pin": 17,
		"flow_pin": 27,
		"boot_script_path": "` + filepath.Join(dir, "boot.sh") + `",
		"os_service_path": "` + filepath.Join(dir, "boot.service") + `",
		"main_service_path": "` + filepath.Join(dir, "main.service") + `"
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	code, out := run(t, "-cmd", "install-service", "-config-file", configPath)
	require.Equal(t, 0, code, out)

	script, err := os.ReadFile(filepath.Join(dir, "boot.sh"))
	require.NoError(t, err)
	assert.Contains(t, string(script), "pinctrl set 17 op pn dl")
	assert.FileExists(t, filepath.Join(dir, "main.service"))
}

func TestInstallServiceBadConfig(t *testing.T) {
	code, out := run(t, "-cmd", "install-service", "-config-file", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Failed to load config file")
}

func TestShowPins(t *testing.T) {
	readAllPins = func() (map[int]pinctrl.PinState, error) {
		return map[int]pinctrl.PinState{
			27: {Pin: 27, Mode: "ip", Pull: "pd", Level: "lo", Comment: "GPIO27"},
			17: {Pin: 17, Mode: "op", Pull: "pn", Drive: "dl", Level: "lo", Comment: "GPIO17"},
		}, nil
	}
	t.Cleanup(func() { readAllPins = pinctrl.ReadAllPins })

	code, out := run(t, "-cmd", "pins")
	require.Equal(t, 0, code, out)
	assert.Less(t, strings.Index(out, "17:"), strings.Index(out, "27:"))
	assert.Contains(t, out, "17: op pn dl lo GPIO17")
}
