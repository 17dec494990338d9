// Package onewire reads DS18x20 temperature probes through the Linux w1
// subsystem (w1-gpio overlay, sysfs interface).
package onewire

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const DefaultDevicesPath = "/sys/bus/w1/devices"

var (
	ErrCRC       = errors.New("probe CRC check failed")
	ErrMalformed = errors.New("malformed probe output")
)

// Bus enumerates probes and performs a blocking conversion of a set of them.
type Bus interface {
	Scan() ([]string, error)
	// Measure returns one Celsius reading per id, in order. Any probe failure
	// fails the whole measurement.
	Measure(ids []string) ([]float64, error)
}

// Sysfs is a Bus backed by a w1 bus master directory, e.g.
// /sys/bus/w1/devices/w1_bus_master1.
type Sysfs struct {
	DevicesPath string
	Master      string
}

func NewSysfs(devicesPath, master string) *Sysfs {
	if devicesPath == "" {
		devicesPath = DefaultDevicesPath
	}
	if master == "" {
		master = "w1_bus_master1"
	}
	return &Sysfs{DevicesPath: devicesPath, Master: master}
}

// Scan lists the thermometer family devices attached to the master.
func (s *Sysfs) Scan() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.DevicesPath, s.Master, "w1_master_slaves"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.Master, err)
	}

	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if isThermometer(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Measure reads each probe's w1_slave file. The kernel driver performs the
// conversion on read, which blocks for up to 750ms per probe.
func (s *Sysfs) Measure(ids []string) ([]float64, error) {
	temps := make([]float64, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(filepath.Join(s.DevicesPath, id, "w1_slave"))
		if err != nil {
			return nil, fmt.Errorf("read probe %s: %w", id, err)
		}
		c, err := ParseSlave(string(data))
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", id, err)
		}
		temps = append(temps, c)
	}
	return temps, nil
}

// ParseSlave decodes w1_slave contents into degrees Celsius:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseSlave(contents string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(contents), "\n")
	if len(lines) < 2 {
		return 0, ErrMalformed
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrCRC
	}

	_, raw, ok := strings.Cut(lines[1], "t=")
	if !ok {
		return 0, ErrMalformed
	}
	milli, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return float64(milli) / 1000.0, nil
}

func isThermometer(id string) bool {
	for _, family := range []string{"10-", "22-", "28-", "3b-", "42-"} {
		if strings.HasPrefix(id, family) {
			return true
		}
	}
	return false
}
