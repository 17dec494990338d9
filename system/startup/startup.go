package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
)

// ServiceOptions describe how systemd runs the controller binary.
type ServiceOptions struct {
	User       string
	WorkingDir string
	Binary     string
	ConfigFile string
}

// BootScript returns a script that puts the pump relay pin into a known OFF
// state and pulls the flow meter input down before the controller starts.
func BootScript(cfg config.Config) string {
	lines := []string{"#!/bin/bash", "", "# Solar pump GPIO pin configuration at boot", ""}
	if cfg.RelayPin != nil {
		lines = append(lines, "# pump relay", fmt.Sprintf("pinctrl set %d op pn dl", *cfg.RelayPin), "")
	}
	if cfg.FlowPin != nil {
		lines = append(lines, "# flow meter", fmt.Sprintf("pinctrl set %d ip pd", *cfg.FlowPin), "")
	}
	return strings.Join(lines, "\n") + "\n"
}

func WriteBootScript(cfg config.Config) error {
	return writeFile(cfg.BootScriptPath, BootScript(cfg), 0755)
}

func InstallBootService(cfg config.Config) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Configure solar pump GPIO pins at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.BootScriptPath)

	return writeFile(cfg.OSServicePath, unitContents, 0644)
}

// InstallControllerService writes the unit for the controller itself. It
// requires the boot unit so the relay pin is low before the controller runs.
func InstallControllerService(cfg config.Config, opts ServiceOptions) error {
	bootUnitName := filepath.Base(cfg.OSServicePath)

	unit := fmt.Sprintf(`[Unit]
Description=Solar pump controller
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s -config-file %s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, bootUnitName, bootUnitName, opts.User, opts.WorkingDir, opts.Binary, opts.ConfigFile)

	return writeFile(cfg.MainServicePath, unit, 0644)
}

var execCommand = exec.Command

func RunBootScript(cfg config.Config) error {
	cmd := execCommand("/bin/bash", cfg.BootScriptPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func writeFile(path, contents string, perm os.FileMode) error {
	if err := os.WriteFile(path, []byte(contents), perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
