// Package gpio abstracts the GPIO lines the controller touches: one output
// line for the pump relay and one edge-triggered input for the flow meter.
// The chip implementation uses the Linux GPIO character device; the fake
// implementation backs safe mode and tests.
package gpio

import (
	"fmt"
	"io"
	"time"

	"github.com/thatsimonsguy/solar-pump-controller/internal/pinctrl"
)

// Output is a requested output line.
type Output interface {
	Set(on bool) error
	Close() error
}

// Driver hands out lines on a single GPIO chip.
type Driver interface {
	// Output requests pin as an output, initially low.
	Output(pin int) (Output, error)

	// Watch requests pin as a pulled-down input and calls onEdge for every
	// rising edge. debounce of zero disables kernel debouncing.
	Watch(pin int, debounce time.Duration, onEdge func(at time.Time)) (io.Closer, error)

	Close() error
}

var readPin = pinctrl.ReadPin

// ValidateStartupPin refuses to continue when the relay pin is already
// configured as an output and driven high before the controller claimed it.
func ValidateStartupPin(pin int) error {
	state, err := readPin(pin)
	if err != nil {
		return fmt.Errorf("failed to read pin state for GPIO %d: %w", pin, err)
	}
	if state.IsOutput() && state.High() {
		return fmt.Errorf("pin %d is in wrong state at startup (expected low, got %s/%s)", pin, state.Drive, state.Level)
	}
	return nil
}
