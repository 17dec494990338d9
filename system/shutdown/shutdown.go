package shutdown

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
	"github.com/thatsimonsguy/solar-pump-controller/internal/pinctrl"
)

// ExitFunc terminates the process; tests replace it.
var ExitFunc = os.Exit

var driveLow = pinctrl.DriveLow

// CloseOnExit closes c just before ExitFunc terminates the process, after the
// last shutdown log line. Closers run in reverse registration order.
func CloseOnExit(c io.Closer) {
	exit := ExitFunc
	ExitFunc = func(code int) {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource at exit")
		}
		exit(code)
	}
}

type Notifier interface {
	Send(title, message string) error
}

// Shutdown releases the device environment, which forces the relay OFF, then
// pins the relay line low with pinctrl so it stays off after the process is
// gone, and exits with code.
func Shutdown(cfg config.Config, devices io.Closer, code int) {
	if devices != nil {
		if err := devices.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release devices cleanly")
		}
	}

	if !cfg.SafeMode && cfg.RelayPin != nil {
		if err := driveLow(*cfg.RelayPin); err != nil {
			log.Error().Err(err).Int("pin", *cfg.RelayPin).Msg("Failed to drive relay pin low")
		} else {
			log.Info().Int("pin", *cfg.RelayPin).Msg("Pump relay deactivated")
		}
	}

	ExitFunc(code)
}

// ShutdownWithError logs err, tells the notifier when there is one, and shuts
// down with exit code 1.
func ShutdownWithError(cfg config.Config, devices io.Closer, notifier Notifier, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	if notifier != nil {
		if sendErr := notifier.Send("[Controller Shutdown]", msg+": "+err.Error()); sendErr != nil {
			log.Warn().Err(sendErr).Msg("Failed to send shutdown notification")
		}
	}
	Shutdown(cfg, devices, 1)
}
