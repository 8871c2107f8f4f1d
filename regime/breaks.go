// Package regime implements the regime-detection engines for the JGB
// repricing framework: structural break detection, rolling permutation
// entropy, GARCH volatility modelling, Markov-switching regression, a
// multivariate Gaussian HMM, and the ensemble that fuses them into a single
// regime probability.
package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"jgb-regime-go/timeseries"
)

// ErrNotConverged marks a fit that exhausted its iteration budget with
// finite results. Callers should treat it as a warning, not a failure.
var ErrNotConverged = errors.New("estimation did not converge")

// CostModel selects the segment cost used by break detection.
type CostModel string

const (
	// CostNormal is a Gaussian-likelihood cost, sensitive to both mean and
	// variance shifts.
	CostNormal CostModel = "normal"
	// CostL2 is a squared-deviation cost, sensitive to mean shifts only.
	CostL2 CostModel = "l2"
)

// BreakDetector finds structural change points in a scalar series.
type BreakDetector struct {
	// MinSize is the minimum number of observations per segment.
	MinSize int
	// Model selects the segment cost. Defaults to CostNormal.
	Model CostModel
	// Penalty is the PELT penalty per breakpoint. Zero means the
	// data-driven BIC-style default log(n) * variance.
	Penalty float64

	Logger *zap.Logger
}

// NewBreakDetector returns a detector with the default minimum segment
// length of 60 observations (~3 months of daily data).
func NewBreakDetector() *BreakDetector {
	return &BreakDetector{MinSize: 60, Model: CostNormal}
}

func (d *BreakDetector) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *BreakDetector) minSize() int {
	if d.MinSize <= 0 {
		return 60
	}
	return d.MinSize
}

// DetectPELT detects breakpoints by minimising a penalised segmentation cost
// with the PELT dynamic program. It returns the breakpoint dates in order,
// excluding the terminal index.
func (d *BreakDetector) DetectPELT(s timeseries.Series) ([]time.Time, error) {
	clean := s.DropNaN()
	n := clean.Len()
	minSize := d.minSize()
	if n < 2*minSize {
		return nil, fmt.Errorf("%w: %d observations, need >= %d for min_size=%d",
			timeseries.ErrInsufficientData, n, 2*minSize, minSize)
	}

	cost := newSegmentCost(clean.Values, d.model())
	penalty := d.Penalty
	if penalty <= 0 {
		penalty = math.Log(float64(n)) * clean.Variance()
		d.logger().Info("using data-driven PELT penalty",
			zap.Float64("penalty", penalty))
	}

	// PELT recursion. f[t] is the optimal cost of segmenting [0, t) plus
	// one penalty per segment; prev[t] is the last change point before t.
	f := make([]float64, n+1)
	prev := make([]int, n+1)
	for i := range f {
		f[i] = math.Inf(1)
	}
	f[0] = -penalty
	candidates := []int{0}

	for t := minSize; t <= n; t++ {
		best := math.Inf(1)
		bestS := 0
		for _, s0 := range candidates {
			if t-s0 < minSize {
				continue
			}
			c := f[s0] + cost.of(s0, t) + penalty
			if c < best {
				best = c
				bestS = s0
			}
		}
		f[t] = best
		prev[t] = bestS

		// Prune candidates that can never be optimal again.
		pruned := candidates[:0]
		for _, s0 := range candidates {
			if t-s0 < minSize || f[s0]+cost.of(s0, t) <= f[t] {
				pruned = append(pruned, s0)
			}
		}
		candidates = append(pruned, t-minSize+1)
	}

	var idx []int
	for t := n; t > 0; t = prev[t] {
		if prev[t] == 0 {
			break
		}
		idx = append(idx, prev[t])
	}
	// Reverse into ascending order.
	for i, j := 0, len(idx)-1; i < j; i, j = i+1, j-1 {
		idx[i], idx[j] = idx[j], idx[i]
	}

	dates := make([]time.Time, len(idx))
	for i, bp := range idx {
		dates[i] = clean.Dates[bp]
	}
	d.logger().Info("PELT break detection complete",
		zap.Int("breakpoints", len(dates)), zap.Times("dates", dates))
	return dates, nil
}

// DetectBinseg detects exactly nBkps breakpoints via greedy binary
// segmentation: the series is recursively split at the point of greatest
// cost reduction.
func (d *BreakDetector) DetectBinseg(s timeseries.Series, nBkps int) ([]time.Time, error) {
	if nBkps < 1 {
		return nil, fmt.Errorf("nBkps must be >= 1, got %d", nBkps)
	}
	clean := s.DropNaN()
	n := clean.Len()
	minSize := d.minSize()
	if n < (nBkps+1)*minSize {
		return nil, fmt.Errorf("%w: %d observations cannot hold %d breaks with min_size=%d",
			timeseries.ErrInsufficientData, n, nBkps, minSize)
	}

	cost := newSegmentCost(clean.Values, d.model())

	type segment struct{ lo, hi int }
	segments := []segment{{0, n}}
	var breaks []int

	for len(breaks) < nBkps {
		bestGain := math.Inf(-1)
		bestSeg := -1
		bestSplit := -1
		for si, seg := range segments {
			whole := cost.of(seg.lo, seg.hi)
			for m := seg.lo + minSize; m <= seg.hi-minSize; m++ {
				gain := whole - cost.of(seg.lo, m) - cost.of(m, seg.hi)
				if gain > bestGain {
					bestGain = gain
					bestSeg = si
					bestSplit = m
				}
			}
		}
		if bestSeg < 0 {
			return nil, fmt.Errorf("%w: no admissible split for break %d of %d",
				timeseries.ErrInsufficientData, len(breaks)+1, nBkps)
		}
		seg := segments[bestSeg]
		segments[bestSeg] = segment{seg.lo, bestSplit}
		segments = append(segments, segment{bestSplit, seg.hi})
		breaks = append(breaks, bestSplit)
	}

	sort.Ints(breaks)
	dates := make([]time.Time, len(breaks))
	for i, bp := range breaks {
		dates[i] = clean.Dates[bp]
	}
	d.logger().Info("binary segmentation complete",
		zap.Int("breakpoints", len(dates)), zap.Times("dates", dates))
	return dates, nil
}

func (d *BreakDetector) model() CostModel {
	if d.Model == "" {
		return CostNormal
	}
	return d.Model
}

// segmentCost evaluates segment costs in O(1) from prefix sums.
type segmentCost struct {
	model CostModel
	cum   []float64
	cumSq []float64
}

func newSegmentCost(values []float64, model CostModel) *segmentCost {
	c := &segmentCost{
		model: model,
		cum:   make([]float64, len(values)+1),
		cumSq: make([]float64, len(values)+1),
	}
	for i, v := range values {
		c.cum[i+1] = c.cum[i] + v
		c.cumSq[i+1] = c.cumSq[i] + v*v
	}
	return c
}

// of returns the cost of the half-open segment [lo, hi).
func (c *segmentCost) of(lo, hi int) float64 {
	n := float64(hi - lo)
	sum := c.cum[hi] - c.cum[lo]
	sumSq := c.cumSq[hi] - c.cumSq[lo]
	ss := sumSq - sum*sum/n
	if ss < 0 {
		ss = 0
	}
	switch c.model {
	case CostL2:
		return ss
	default:
		// Gaussian likelihood cost with a variance floor guarding
		// near-constant segments.
		v := ss / n
		if v < 1e-12 {
			v = 1e-12
		}
		return n * math.Log(v)
	}
}
