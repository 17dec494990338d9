package gpio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// FakeDriver records line activity in memory. It backs safe mode, where the
// controller runs its full logic without touching hardware, and tests.
type FakeDriver struct {
	mu       sync.Mutex
	outputs  map[int]*FakeOutput
	watchers map[int]func(time.Time)
	closed   bool

	// OutputError, if set, is returned by Output.
	OutputError error
	// WatchError, if set, is returned by Watch.
	WatchError error
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		outputs:  make(map[int]*FakeOutput),
		watchers: make(map[int]func(time.Time)),
	}
}

func (d *FakeDriver) Output(pin int) (Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OutputError != nil {
		return nil, d.OutputError
	}
	if o, ok := d.outputs[pin]; ok && !o.Closed() {
		return nil, fmt.Errorf("pin %d already requested", pin)
	}
	o := &FakeOutput{}
	d.outputs[pin] = o
	return o, nil
}

func (d *FakeDriver) Watch(pin int, debounce time.Duration, onEdge func(at time.Time)) (io.Closer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.WatchError != nil {
		return nil, d.WatchError
	}
	if _, ok := d.watchers[pin]; ok {
		return nil, fmt.Errorf("pin %d already requested", pin)
	}
	d.watchers[pin] = onEdge
	return closerFunc(func() error {
		d.mu.Lock()
		delete(d.watchers, pin)
		d.mu.Unlock()
		return nil
	}), nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *FakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// OutputFor returns the output requested for pin, or nil.
func (d *FakeDriver) OutputFor(pin int) *FakeOutput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs[pin]
}

// Edge delivers a rising edge on pin to its watcher. It reports false when
// nothing watches the pin.
func (d *FakeDriver) Edge(pin int, at time.Time) bool {
	d.mu.Lock()
	onEdge, ok := d.watchers[pin]
	d.mu.Unlock()
	if !ok {
		return false
	}
	onEdge(at)
	return true
}

// FakeOutput is an in-memory output line.
type FakeOutput struct {
	mu     sync.Mutex
	value  bool
	writes int
	closed bool
	setErr error
}

func (o *FakeOutput) Set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("line closed")
	}
	if o.setErr != nil {
		return o.setErr
	}
	o.value = on
	o.writes++
	return nil
}

func (o *FakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = false
	o.closed = true
	return nil
}

// FailWrites makes subsequent Set calls return err; nil restores normal writes.
func (o *FakeOutput) FailWrites(err error) {
	o.mu.Lock()
	o.setErr = err
	o.mu.Unlock()
}

func (o *FakeOutput) Value() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

func (o *FakeOutput) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

func (o *FakeOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
