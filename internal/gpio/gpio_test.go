package gpio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/solar-pump-controller/internal/pinctrl"
)

func mockReadPin(t *testing.T, state *pinctrl.PinState, err error) {
	t.Helper()
	orig := readPin
	readPin = func(pin int) (*pinctrl.PinState, error) {
		if err != nil {
			return nil, err
		}
		s := *state
		s.Pin = pin
		return &s, nil
	}
	t.Cleanup(func() { readPin = orig })
}

func TestValidateStartupPin_Valid(t *testing.T) {
	mockReadPin(t, &pinctrl.PinState{Mode: "op", Drive: "dl", Level: "lo"}, nil)
	assert.NoError(t, ValidateStartupPin(17))
}

func TestValidateStartupPin_InputIsFine(t *testing.T) {
	mockReadPin(t, &pinctrl.PinState{Mode: "ip", Pull: "pd", Level: "hi"}, nil)
	assert.NoError(t, ValidateStartupPin(17))
}

func TestValidateStartupPin_DrivenHigh(t *testing.T) {
	mockReadPin(t, &pinctrl.PinState{Mode: "op", Drive: "dh", Level: "hi"}, nil)
	assert.Error(t, ValidateStartupPin(17))
}

func TestValidateStartupPin_ReadFailure(t *testing.T) {
	mockReadPin(t, nil, errors.New("pinctrl missing"))
	assert.Error(t, ValidateStartupPin(17))
}

func TestFakeDriver_Output(t *testing.T) {
	d := NewFakeDriver()
	out, err := d.Output(17)
	require.NoError(t, err)

	_, err = d.Output(17)
	assert.Error(t, err, "pin cannot be requested twice")

	require.NoError(t, out.Set(true))
	assert.True(t, d.OutputFor(17).Value())
	assert.Equal(t, 1, d.OutputFor(17).Writes())

	require.NoError(t, out.Close())
	assert.False(t, d.OutputFor(17).Value())
	assert.Error(t, out.Set(true))
}

func TestFakeDriver_FailWrites(t *testing.T) {
	d := NewFakeDriver()
	out, err := d.Output(17)
	require.NoError(t, err)

	boom := errors.New("boom")
	d.OutputFor(17).FailWrites(boom)
	assert.ErrorIs(t, out.Set(true), boom)
	assert.False(t, d.OutputFor(17).Value())

	d.OutputFor(17).FailWrites(nil)
	assert.NoError(t, out.Set(true))
}

func TestFakeDriver_Watch(t *testing.T) {
	d := NewFakeDriver()
	var edges []time.Time
	c, err := d.Watch(27, 0, func(at time.Time) { edges = append(edges, at) })
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, d.Edge(27, now))
	assert.False(t, d.Edge(5, now))
	assert.Equal(t, []time.Time{now}, edges)

	require.NoError(t, c.Close())
	assert.False(t, d.Edge(27, now))
}
