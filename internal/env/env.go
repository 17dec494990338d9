// Package env owns the process-wide device context: the settings database,
// the GPIO chip and the three pump components built on it.
package env

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/db"
	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
	"github.com/thatsimonsguy/solar-pump-controller/internal/flow"
	"github.com/thatsimonsguy/solar-pump-controller/internal/gpio"
	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/onewire"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
	"github.com/thatsimonsguy/solar-pump-controller/internal/temperature"
)

const notificationBuffer = 4

var ErrAlreadyOpen = errors.New("device environment already open")

var opened atomic.Bool

var validateStartupPin = gpio.ValidateStartupPin

// Devices are the hardware backends the components are built on.
type Devices struct {
	Driver gpio.Driver
	Bus    onewire.Bus
}

type Env struct {
	Cfg    config.Config
	DB     *sql.DB
	Policy model.PumpPolicy

	Driver gpio.Driver
	Relay  *relay.Relay
	Sensor *temperature.DeltaSensor
	Flow   *flow.Sensor

	TemperatureEvents <-chan temperature.Notification
	FlowEvents        <-chan flow.Notification

	closeOnce sync.Once
	closeErr  error
}

// Open builds the hardware devices described by cfg and then the
// environment on top of them. Safe mode swaps the GPIO chip for an in-memory
// driver.
func Open(cfg config.Config, notifier temperature.Notifier) (*Env, error) {
	var driver gpio.Driver
	if cfg.SafeMode {
		log.Warn().Msg("Safe mode: GPIO writes are simulated")
		driver = gpio.NewFakeDriver()
	} else {
		if cfg.ValidateStartupPins {
			if err := validateStartupPin(*cfg.RelayPin); err != nil {
				return nil, fmt.Errorf("%w: %w", relay.ErrConfig, err)
			}
		}
		chip, err := gpio.NewChipDriver(cfg.GPIOChip)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", relay.ErrConfig, err)
		}
		driver = chip
	}

	e, err := OpenWith(cfg, Devices{
		Driver: driver,
		Bus:    onewire.NewSysfs(cfg.W1DevicesPath, cfg.W1Bus),
	}, notifier)
	if err != nil {
		driver.Close()
		return nil, err
	}
	return e, nil
}

// OpenWith builds the environment on caller-supplied devices. Only one
// environment may be open at a time. On failure everything opened so far is
// closed again, except devices.Driver which stays with the caller.
func OpenWith(cfg config.Config, devices Devices, notifier temperature.Notifier) (*Env, error) {
	if !opened.CompareAndSwap(false, true) {
		return nil, ErrAlreadyOpen
	}

	e := &Env{Cfg: cfg}
	var err error
	defer func() {
		if err != nil {
			e.release()
			opened.Store(false)
		}
	}()

	if e.DB, err = openDB(cfg.DBPath); err != nil {
		return nil, err
	}
	if err = db.SeedSettings(e.DB, cfg.Policy()); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	if e.Policy, err = db.GetSettings(e.DB); err != nil {
		return nil, err
	}

	if e.Relay, err = relay.Open(devices.Driver, *cfg.RelayPin); err != nil {
		return nil, err
	}

	tempEvents := make(chan temperature.Notification, notificationBuffer)
	e.Sensor, err = temperature.Open(temperature.Config{
		SamplePeriod:  cfg.SamplePeriod(),
		Notifications: tempEvents,
		Notifier:      notifier,
	}, devices.Bus)
	if err != nil {
		return nil, err
	}
	e.TemperatureEvents = tempEvents

	flowEvents := make(chan flow.Notification, notificationBuffer)
	e.Flow, err = flow.Open(flow.Config{
		Pin:            *cfg.FlowPin,
		Debounce:       cfg.FlowDebounce(),
		MinCyclePulses: cfg.FlowMinCyclePulses,
		CycleTimeout:   cfg.FlowCycleTimeout(),
		Notifications:  flowEvents,
	}, devices.Driver)
	if err != nil {
		return nil, err
	}
	e.FlowEvents = flowEvents

	e.Driver = devices.Driver
	log.Info().
		Int("relay_pin", e.Relay.Pin()).
		Int("flow_pin", *cfg.FlowPin).
		Strs("probes", e.Sensor.Probes()).
		Msg("Device environment open")
	return e, nil
}

func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return db.Open(path)
}

// Close stops the flow watcher and the sensor worker, forces the relay OFF
// and releases the GPIO chip and the database, in that order.
func (e *Env) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.release()
		opened.Store(false)
		log.Info().Msg("Device environment closed")
	})
	return e.closeErr
}

func (e *Env) release() error {
	var errs []error
	if e.Flow != nil {
		errs = append(errs, e.Flow.Close())
	}
	if e.Sensor != nil {
		errs = append(errs, e.Sensor.Close())
	}
	if e.Relay != nil {
		errs = append(errs, e.Relay.Close())
	}
	if e.Driver != nil {
		errs = append(errs, e.Driver.Close())
	}
	if e.DB != nil {
		errs = append(errs, e.DB.Close())
	}
	return errors.Join(errs...)
}
