package controller

import (
	"context"

	"github.com/thatsimonsguy/solar-pump-controller/internal/flow"
	"github.com/thatsimonsguy/solar-pump-controller/internal/temperature"
)

// ForwardFlow turns flow cycle starts into FlowStarted events until ctx ends
// or in is closed.
func ForwardFlow(ctx context.Context, in <-chan flow.Notification, c *Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-in:
			if !ok {
				return nil
			}
			if n.Type == flow.CycleStarted {
				c.Post(Event{Type: FlowStarted})
			}
		}
	}
}

// ForwardTemperature turns delta readings into TemperatureMeasured events.
func ForwardTemperature(ctx context.Context, in <-chan temperature.Notification, c *Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-in:
			if !ok {
				return nil
			}
			c.Post(Event{Type: TemperatureMeasured, Delta: n.Delta})
		}
	}
}
