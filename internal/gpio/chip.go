//go:build linux

package gpio

import (
	"fmt"
	"io"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ChipDriver requests lines from a GPIO character device such as gpiochip0.
type ChipDriver struct {
	chip *gpiocdev.Chip
}

func NewChipDriver(name string) (*ChipDriver, error) {
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}
	return &ChipDriver{chip: chip}, nil
}

func (d *ChipDriver) Output(pin int) (Output, error) {
	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}
	return &chipOutput{line: line}, nil
}

func (d *ChipDriver) Watch(pin int, debounce time.Duration, onEdge func(at time.Time)) (io.Closer, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) {
			onEdge(time.Now())
		}),
	}
	if debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(debounce))
	}

	line, err := d.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request input pin %d: %w", pin, err)
	}
	return line, nil
}

func (d *ChipDriver) Close() error {
	return d.chip.Close()
}

type chipOutput struct {
	line *gpiocdev.Line
}

func (o *chipOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return o.line.SetValue(v)
}

// Close leaves the line driven low before releasing it.
func (o *chipOutput) Close() error {
	var errs []error
	if err := o.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive low: %w", err))
	}
	if err := o.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
