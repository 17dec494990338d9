package controller

import (
	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
)

// canTurnOn reports whether the pump has rested long enough. A relay that has
// never switched has no rest period to honor.
func canTurnOn(p model.PumpPolicy, snap relay.Snapshot) bool {
	return snap.State == relay.Off && (snap.Transitions == 0 || snap.Dwell >= p.MinOff)
}

func canTurnOff(p model.PumpPolicy, snap relay.Snapshot) bool {
	return snap.State == relay.On && snap.Dwell >= p.MinOn
}
