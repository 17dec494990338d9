package relay

import "time"

// Snapshot is a consistent copy of the relay statistics. Accumulated only
// covers completed visits; Dwell is the time spent in State so far.
type Snapshot struct {
	State       State
	Dwell       time.Duration
	Accumulated [2]time.Duration
	Transitions uint64
}

// Visits counts completed round trips attributed to state: OFF is credited
// with the initial visit plus one per OFF->ON->OFF pair, ON only with whole
// pairs. An ON visit still in progress is not counted.
func (s Snapshot) Visits(state State) uint64 {
	if state == Off {
		return s.Transitions/2 + 1
	}
	return s.Transitions / 2
}

// TotalTime includes the in-progress visit when state is active.
func (s Snapshot) TotalTime(state State) time.Duration {
	if state != Off && state != On {
		return 0
	}
	t := s.Accumulated[state]
	if s.State == state {
		t += s.Dwell
	}
	return t
}

func (s Snapshot) AverageTime(state State) time.Duration {
	visits := s.Visits(state)
	if visits == 0 {
		return 0
	}
	return s.TotalTime(state) / time.Duration(visits)
}

// Fraction is the share of observed time spent in state, or 0 before any time
// has been observed.
func (s Snapshot) Fraction(state State) float64 {
	total := s.TotalTime(Off) + s.TotalTime(On)
	if total <= 0 {
		return 0
	}
	return float64(s.TotalTime(state)) / float64(total)
}
