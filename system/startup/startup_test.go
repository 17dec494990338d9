package startup

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Defaults()
	relay, flow := 17, 27
	cfg.RelayPin, cfg.FlowPin = &relay, &flow
	cfg.BootScriptPath = filepath.Join(dir, "solar-pump-boot.sh")
	cfg.OSServicePath = filepath.Join(dir, "solar-pump-boot.service")
	cfg.MainServicePath = filepath.Join(dir, "solar-pump-controller.service")
	return cfg
}

func TestBootScriptDrivesRelayLow(t *testing.T) {
	script := BootScript(testConfig(t))

	assert.Contains(t, script, "#!/bin/bash\n")
	assert.Contains(t, script, "pinctrl set 17 op pn dl\n")
	assert.Contains(t, script, "pinctrl set 27 ip pd\n")
}

func TestWriteBootScriptIsExecutable(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, WriteBootScript(cfg))

	info, err := os.Stat(cfg.BootScriptPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100)
}

func TestInstallServices(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, InstallBootService(cfg))
	require.NoError(t, InstallControllerService(cfg, ServiceOptions{
		User:       "pi",
		WorkingDir: "/opt/solar-pump",
		Binary:     "/opt/solar-pump/solar-pump-controller",
		ConfigFile: "/opt/solar-pump/config.json",
	}))

	boot, err := os.ReadFile(cfg.OSServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(boot), "ExecStart="+cfg.BootScriptPath)
	assert.Contains(t, string(boot), "Type=oneshot")

	main, err := os.ReadFile(cfg.MainServicePath)
	require.NoError(t, err)
	assert.Contains(t, string(main), "Requires=solar-pump-boot.service")
	assert.Contains(t, string(main), "ExecStart=/opt/solar-pump/solar-pump-controller -config-file /opt/solar-pump/config.json")
}

func TestRunBootScript(t *testing.T) {
	cfg := testConfig(t)
	var gotArgs []string
	execCommand = func(name string, args ...string) *exec.Cmd {
		gotArgs = append([]string{name}, args...)
		return exec.Command("true")
	}
	t.Cleanup(func() { execCommand = exec.Command })

	require.NoError(t, RunBootScript(cfg))
	assert.Equal(t, []string{"/bin/bash", cfg.BootScriptPath}, gotArgs)
}
