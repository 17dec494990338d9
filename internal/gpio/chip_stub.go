//go:build !linux

package gpio

import (
	"errors"
	"io"
	"time"
)

// ChipDriver is not available on non-Linux platforms.
type ChipDriver struct{}

func NewChipDriver(name string) (*ChipDriver, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (d *ChipDriver) Output(pin int) (Output, error) {
	return nil, errors.New("gpio: not supported")
}

func (d *ChipDriver) Watch(pin int, debounce time.Duration, onEdge func(at time.Time)) (io.Closer, error) {
	return nil, errors.New("gpio: not supported")
}

func (d *ChipDriver) Close() error {
	return nil
}
