package timeseries

import (
	"fmt"
	"math"
	"sort"
)

// Discretize converts the non-NaN observations of a series into nBins
// categorical levels in [0, nBins-1] using equal-frequency (quantile) bins.
// When ties collapse the quantile edges it falls back to equal-width bins and
// reports usedFallback=true so callers can log the degradation.
func Discretize(s Series, nBins int) (codes []int, usedFallback bool, err error) {
	if nBins < 2 {
		return nil, false, fmt.Errorf("nBins must be >= 2, got %d", nBins)
	}
	clean := s.DropNaN()
	if clean.Len() < nBins {
		return nil, false, fmt.Errorf("%w: %d observations for %d bins",
			ErrInsufficientData, clean.Len(), nBins)
	}

	edges, ok := quantileEdges(clean.Values, nBins)
	if !ok {
		edges = widthEdges(clean.Values, nBins)
		usedFallback = true
	}

	codes = make([]int, clean.Len())
	for i, v := range clean.Values {
		codes[i] = bucket(v, edges)
	}
	return codes, usedFallback, nil
}

// quantileEdges returns nBins-1 interior edges from empirical quantiles, or
// ok=false when ties make the edges non-distinct.
func quantileEdges(values []float64, nBins int) ([]float64, bool) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	edges := make([]float64, 0, nBins-1)
	for k := 1; k < nBins; k++ {
		q := float64(k) / float64(nBins)
		pos := q * float64(len(sorted)-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		var edge float64
		if lo == hi {
			edge = sorted[lo]
		} else {
			w := pos - float64(lo)
			edge = sorted[lo]*(1-w) + sorted[hi]*w
		}
		edges = append(edges, edge)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			return nil, false
		}
	}
	return edges, true
}

// widthEdges returns nBins-1 interior edges splitting [min, max] evenly.
func widthEdges(values []float64, nBins int) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	edges := make([]float64, nBins-1)
	step := (hi - lo) / float64(nBins)
	for k := 1; k < nBins; k++ {
		edges[k-1] = lo + step*float64(k)
	}
	return edges
}

func bucket(v float64, edges []float64) int {
	for i, e := range edges {
		if v <= e {
			return i
		}
	}
	return len(edges)
}
