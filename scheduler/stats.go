package scheduler

import (
	"image"
	"sync/atomic"
)

// State is the scheduler's position in its Idle/Detecting cycle.
type State int

const (
	Idle State = iota
	Detecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Superseded uint64 `json:"superseded"`
	Dispatched uint64 `json:"dispatched"`
	Succeeded  uint64 `json:"succeeded"`
	Failed     uint64 `json:"failed"`
	Stale      uint64 `json:"stale"`
	Discarded  uint64 `json:"discarded"`
	CodesRead  uint64 `json:"codesRead"`

	State  string          `json:"state"`
	Region image.Rectangle `json:"region"`
}

type counters struct {
	submitted  atomic.Uint64
	superseded atomic.Uint64
	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	stale      atomic.Uint64
	discarded  atomic.Uint64
	codesRead  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted:  c.submitted.Load(),
		Superseded: c.superseded.Load(),
		Dispatched: c.dispatched.Load(),
		Succeeded:  c.succeeded.Load(),
		Failed:     c.failed.Load(),
		Stale:      c.stale.Load(),
		Discarded:  c.discarded.Load(),
		CodesRead:  c.codesRead.Load(),
	}
}
