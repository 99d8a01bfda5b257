package feed

import "barfeed/internal/market"

// State is owned by the Controller and only mutated on its tick goroutine.
type State struct {
	Resolution  int64
	Bin         string
	Opentime    int64
	Initialized bool
}

func newState(res market.Resolution) State {
	return State{Resolution: res.Millis, Bin: res.Bin}
}

// Advance moves Opentime to the next boundary.
func (s *State) Advance() { s.Opentime += s.Resolution }

// LagAt is how far now is past the close of the bar being served; <= 0 means on time.
func (s State) LagAt(now int64) int64 { return now - (s.Opentime + s.Resolution) }
