// Package adaptive decides when a job's worker count should grow or
// shrink based on observed per-worker throughput and an optional
// server rate hint. It never touches sockets or files: the transfer
// engine applies the Decisions this package returns.
package adaptive

import (
	"sort"

	"project-tachyon/internal/planner"
)

// Thresholds are the empirical knobs driving scale-up/scale-down
// decisions. The spec calls these best-effort values (straggler ratio
// 25%, hint ratio 0.9) and suggests a reimplementation expose them as
// configuration — Controller takes them as New's thresholds argument.
type Thresholds struct {
	// StragglerRatio: a worker below this fraction of the median
	// worker's throughput, for StragglerTicks consecutive ticks, is
	// removed.
	StragglerRatio float64
	// StragglerTicks: consecutive slow ticks required before removal.
	StragglerTicks int
	// HintRatio: scale up once median throughput exceeds this fraction
	// of the server's advertised per-connection rate hint.
	HintRatio float64
	// PlateauTolerance: throughput within this fraction of the previous
	// tick's is considered "plateaued".
	PlateauTolerance float64
	// MinSplitRemaining: never create a segment with fewer remaining
	// bytes than this by splitting.
	MinSplitRemaining int64
}

// DefaultThresholds returns the spec's empirical defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StragglerRatio:    0.25,
		StragglerTicks:    2,
		HintRatio:         0.9,
		PlateauTolerance:  0.05,
		MinSplitRemaining: 1 << 20, // 1 MiB
	}
}

// Action is what the controller decided to do this tick.
type Action int

const (
	ActionNone Action = iota
	ActionRemoveWorker
	ActionAddWorker
)

// Decision is the controller's verdict for one tick.
type Decision struct {
	Action Action
	// RemoveIndex is the segment index to drop (its remaining bytes are
	// merged into a neighbor) when Action == ActionRemoveWorker.
	RemoveIndex int
	// SplitIndex is the segment index to split in half when Action ==
	// ActionAddWorker.
	SplitIndex int
}

// Controller tracks per-segment throughput history for one job and
// produces scale decisions on each 5-second tick.
type Controller struct {
	thresholds       Thresholds
	requestedWorkers int
	rateHint         float64 // bytes/sec per connection; 0 = none

	stragglerStreak map[int]int
	prevMedian      float64
	haveReading     bool
}

// New creates a controller bounded to [1, requestedWorkers] active
// workers, with an optional per-connection rateHint parsed from the
// source URL's `rate=` query parameter (0 disables the hint check).
func New(requestedWorkers int, rateHint float64, thresholds Thresholds) *Controller {
	if requestedWorkers < 1 {
		requestedWorkers = 1
	}
	return &Controller{
		thresholds:       thresholds,
		requestedWorkers: requestedWorkers,
		rateHint:         rateHint,
		stragglerStreak:  make(map[int]int),
	}
}

// Tick evaluates one adaptive control period.
//
//   - activeWorkers is the current count of in-flight segment workers.
//   - throughput maps segment index -> recent bytes/sec for every
//     currently in-flight segment (completed segments are absent).
//   - segments is the full ordered segment list (used to find the
//     largest remaining segment to split).
func (c *Controller) Tick(activeWorkers int, throughput map[int]float64, segments []planner.Segment) Decision {
	if len(throughput) == 0 {
		return Decision{Action: ActionNone}
	}

	median := medianOf(throughput)

	// Straggler detection: track consecutive low-throughput ticks.
	slowestIdx := -1
	var slowestRatio = 1.0
	for idx, bps := range throughput {
		ratio := 1.0
		if median > 0 {
			ratio = bps / median
		}
		if ratio < c.thresholds.StragglerRatio {
			c.stragglerStreak[idx]++
		} else {
			c.stragglerStreak[idx] = 0
		}
		if c.stragglerStreak[idx] >= c.thresholds.StragglerTicks && ratio < slowestRatio {
			slowestRatio = ratio
			slowestIdx = idx
		}
	}

	if slowestIdx >= 0 && activeWorkers > 1 {
		delete(c.stragglerStreak, slowestIdx)
		c.prevMedian = median
		c.haveReading = true
		return Decision{Action: ActionRemoveWorker, RemoveIndex: slowestIdx}
	}

	scaleUp := false
	if c.rateHint > 0 && median > c.thresholds.HintRatio*c.rateHint {
		scaleUp = true
	}
	if c.haveReading && c.prevMedian > 0 && activeWorkers < c.requestedWorkers {
		delta := absFloat(median-c.prevMedian) / c.prevMedian
		if delta <= c.thresholds.PlateauTolerance {
			scaleUp = true
		}
	}

	c.prevMedian = median
	c.haveReading = true

	if scaleUp && activeWorkers < c.requestedWorkers {
		if idx, ok := largestSplittable(segments, c.thresholds.MinSplitRemaining); ok {
			return Decision{Action: ActionAddWorker, SplitIndex: idx}
		}
	}

	return Decision{Action: ActionNone}
}

func medianOf(m map[int]float64) float64 {
	vals := make([]float64, 0, len(m))
	for _, v := range m {
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	n := len(vals)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// largestSplittable finds the segment with the most remaining bytes
// whose half would still be at least minRemaining bytes.
func largestSplittable(segments []planner.Segment, minRemaining int64) (int, bool) {
	best := -1
	var bestRemaining int64
	for i, s := range segments {
		rem := s.Remaining()
		if rem <= 0 {
			continue
		}
		if rem/2 < minRemaining {
			continue
		}
		if rem > bestRemaining {
			bestRemaining = rem
			best = i
		}
	}
	return best, best >= 0
}
