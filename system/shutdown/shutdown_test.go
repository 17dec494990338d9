package shutdown

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/solar-pump-controller/internal/config"
)

type closer struct{ closed int }

func (c *closer) Close() error {
	c.closed++
	return nil
}

type MockNotifier struct {
	sent []string
}

func (m *MockNotifier) Send(title, message string) error {
	m.sent = append(m.sent, title+" "+message)
	return nil
}

func stub(t *testing.T) (exitCode *int, lowered *[]int) {
	code := -1
	var pins []int
	prevExit, prevDrive := ExitFunc, driveLow
	ExitFunc = func(c int) { code = c }
	driveLow = func(pin int) error {
		pins = append(pins, pin)
		return nil
	}
	t.Cleanup(func() {
		ExitFunc = prevExit
		driveLow = prevDrive
	})
	return &code, &pins
}

func testConfig() config.Config {
	cfg := config.Defaults()
	pin := 17
	cfg.RelayPin = &pin
	return cfg
}

func TestShutdownReleasesDevicesAndDrivesPinLow(t *testing.T) {
	code, pins := stub(t)
	devices := &closer{}

	Shutdown(testConfig(), devices, 0)

	assert.Equal(t, 1, devices.closed)
	assert.Equal(t, []int{17}, *pins)
	assert.Equal(t, 0, *code)
}

func TestShutdownSafeModeLeavesPinsAlone(t *testing.T) {
	code, pins := stub(t)
	cfg := testConfig()
	cfg.SafeMode = true

	Shutdown(cfg, nil, 0)

	assert.Empty(t, *pins)
	assert.Equal(t, 0, *code)
}

type namedCloser struct {
	name  string
	order *[]string
}

func (c namedCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestCloseOnExitRunsAfterDevicesInReverseOrder(t *testing.T) {
	code, _ := stub(t)
	var order []string

	CloseOnExit(namedCloser{name: "log file", order: &order})
	CloseOnExit(namedCloser{name: "metrics", order: &order})

	Shutdown(testConfig(), namedCloser{name: "devices", order: &order}, 0)

	assert.Equal(t, []string{"devices", "metrics", "log file"}, order)
	assert.Equal(t, 0, *code)
}

func TestShutdownWithErrorNotifies(t *testing.T) {
	code, pins := stub(t)
	notifier := &MockNotifier{}

	ShutdownWithError(testConfig(), &closer{}, notifier, errors.New("relay driver write failed"), "Pump controller failed")

	assert.Equal(t, []string{"[Controller Shutdown] Pump controller failed: relay driver write failed"}, notifier.sent)
	assert.Equal(t, []int{17}, *pins)
	assert.Equal(t, 1, *code)
}
