// Package pinctrl wraps the Raspberry Pi `pinctrl` utility. It is used outside
// the gpiocdev line requests: before the relay line is claimed at startup and
// after it is released at shutdown.
package pinctrl

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

type PinState struct {
	Pin     int
	Mode    string // "ip", "op", "no", "a0".."a5"
	Pull    string // "pu", "pd", "pn"
	Drive   string // "dh", "dl" or empty for inputs
	Level   string // "hi", "lo", "--"
	Comment string
}

func (p PinState) IsOutput() bool {
	return p.Mode == "op"
}

func (p PinState) High() bool {
	return p.Level == "hi"
}

var pinLineRegex = regexp.MustCompile(`^\s*(\d+):\s+(\S+)\s+(.*?)\s*\|\s+(\S+)\s+//\s+(.*GPIO(\d+).*)$`)

// runCommand is swapped out in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// ReadAllPins runs `pinctrl get` and indexes the result by GPIO number.
func ReadAllPins() (map[int]PinState, error) {
	out, err := runCommand("pinctrl", "get")
	if err != nil {
		return nil, fmt.Errorf("pinctrl get: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return parseGetOutput(bytes.NewReader(out)), nil
}

func ReadPin(pin int) (*PinState, error) {
	out, err := runCommand("pinctrl", "get", strconv.Itoa(pin))
	if err != nil {
		return nil, fmt.Errorf("pinctrl get %d: %w (output: %s)", pin, err, strings.TrimSpace(string(out)))
	}
	state, ok := parseGetOutput(bytes.NewReader(out))[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d not found in pinctrl output", pin)
	}
	return &state, nil
}

// ReadLevel is a fast read of a pin's logic level via `pinctrl lev`.
func ReadLevel(pin int) (bool, error) {
	out, err := runCommand("pinctrl", "lev", strconv.Itoa(pin))
	if err != nil {
		return false, fmt.Errorf("failed to read level for pin %d: %w", pin, err)
	}
	return parseLevel(string(out))
}

// SetPin applies pinctrl set options, e.g. SetPin(17, "op", "pn", "dl").
func SetPin(pin int, opts ...string) error {
	args := append([]string{"set", strconv.Itoa(pin)}, opts...)
	out, err := runCommand("pinctrl", args...)
	if err != nil {
		return fmt.Errorf("pinctrl set %d failed: %w (output: %s)", pin, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DriveLow configures pin as an output without pull and drives it low.
func DriveLow(pin int) error {
	return SetPin(pin, "op", "pn", "dl")
}

func parseGetOutput(r io.Reader) map[int]PinState {
	result := make(map[int]PinState)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		matches := pinLineRegex.FindStringSubmatch(scanner.Text())
		if len(matches) != 7 {
			continue
		}

		index, _ := strconv.Atoi(matches[1])
		state := PinState{
			Pin:     index,
			Mode:    matches[2],
			Level:   matches[4],
			Comment: matches[5],
		}
		for _, opt := range strings.Fields(matches[3]) {
			switch {
			case state.Pull == "" && (opt == "pu" || opt == "pd" || opt == "pn"):
				state.Pull = opt
			case state.Drive == "" && (opt == "dh" || opt == "dl"):
				state.Drive = opt
			}
		}
		result[state.Pin] = state
	}
	return result
}

func parseLevel(out string) (bool, error) {
	trimmed := strings.TrimSpace(out)
	switch trimmed {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected output from pinctrl lev: %q", trimmed)
	}
}
