package model

import (
	"errors"
	"fmt"
	"time"
)

// PumpPolicy holds the hysteresis thresholds (°C of probe difference) and
// dwell limits the pump controller enforces.
type PumpPolicy struct {
	HighThreshold float64       `json:"high_threshold"`
	LowThreshold  float64       `json:"low_threshold"`
	MinOff        time.Duration `json:"min_off"`
	MinOn         time.Duration `json:"min_on"`
	MaxOn         time.Duration `json:"max_on"`
}

func DefaultPumpPolicy() PumpPolicy {
	return PumpPolicy{
		HighThreshold: 6,
		LowThreshold:  3,
		MinOff:        180 * time.Second,
		MinOn:         60 * time.Second,
		MaxOn:         600 * time.Second,
	}
}

var ErrInvalidPolicy = errors.New("invalid pump policy")

func (p PumpPolicy) Validate() error {
	switch {
	case p.LowThreshold >= p.HighThreshold:
		return fmt.Errorf("%w: low threshold %.2f must be below high threshold %.2f", ErrInvalidPolicy, p.LowThreshold, p.HighThreshold)
	case p.LowThreshold < 0:
		return fmt.Errorf("%w: low threshold %.2f is negative", ErrInvalidPolicy, p.LowThreshold)
	case p.MinOff < 0 || p.MinOn < 0:
		return fmt.Errorf("%w: dwell times must not be negative", ErrInvalidPolicy)
	case p.MaxOn <= 0:
		return fmt.Errorf("%w: max on duration must be positive", ErrInvalidPolicy)
	case p.MaxOn < p.MinOn:
		return fmt.Errorf("%w: max on duration %s is shorter than min on duration %s", ErrInvalidPolicy, p.MaxOn, p.MinOn)
	}
	return nil
}
