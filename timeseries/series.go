// Package timeseries provides the date-indexed series and panel types shared
// by the regime and spillover engines, plus the rolling statistics and
// discretization helpers they build on.
package timeseries

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData is returned when a computation's minimum-sample
	// requirement is not met.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrMissingValues is returned by computations that require dense input.
	ErrMissingValues = errors.New("series contains missing values")
)

// Series is an ordered sequence of (date, value) observations with strictly
// increasing dates. Missing observations are represented as NaN.
type Series struct {
	Name   string
	Dates  []time.Time
	Values []float64
}

// NewSeries builds a Series after validating the date index.
func NewSeries(name string, dates []time.Time, values []float64) (Series, error) {
	if len(dates) != len(values) {
		return Series{}, fmt.Errorf("dates (%d) and values (%d) length mismatch", len(dates), len(values))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return Series{}, fmt.Errorf("dates must be strictly increasing: %v !> %v at %d",
				dates[i], dates[i-1], i)
		}
	}
	return Series{Name: name, Dates: dates, Values: values}, nil
}

// Len returns the number of observations, including NaN ones.
func (s Series) Len() int { return len(s.Values) }

// Last returns the final observation. It panics on an empty series.
func (s Series) Last() (time.Time, float64) {
	n := s.Len()
	return s.Dates[n-1], s.Values[n-1]
}

// HasNaN reports whether any observation is missing.
func (s Series) HasNaN() bool {
	for _, v := range s.Values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// ValidCount returns the number of non-NaN observations.
func (s Series) ValidCount() int {
	n := 0
	for _, v := range s.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// DropNaN returns a copy without missing observations.
func (s Series) DropNaN() Series {
	dates := make([]time.Time, 0, len(s.Values))
	values := make([]float64, 0, len(s.Values))
	for i, v := range s.Values {
		if !math.IsNaN(v) {
			dates = append(dates, s.Dates[i])
			values = append(values, v)
		}
	}
	return Series{Name: s.Name, Dates: dates, Values: values}
}

// Diff returns first differences. The first observation is NaN so the result
// stays aligned with the input index.
func (s Series) Diff() Series {
	values := make([]float64, len(s.Values))
	if len(values) > 0 {
		values[0] = math.NaN()
	}
	for i := 1; i < len(s.Values); i++ {
		values[i] = s.Values[i] - s.Values[i-1]
	}
	return Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: values}
}

// LogReturns returns log differences, NaN where either endpoint is missing
// or non-positive.
func (s Series) LogReturns() Series {
	values := make([]float64, len(s.Values))
	if len(values) > 0 {
		values[0] = math.NaN()
	}
	for i := 1; i < len(s.Values); i++ {
		prev, cur := s.Values[i-1], s.Values[i]
		if prev > 0 && cur > 0 {
			values[i] = math.Log(cur / prev)
		} else {
			values[i] = math.NaN()
		}
	}
	return Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: values}
}

// Scale returns a copy with every value multiplied by factor.
func (s Series) Scale(factor float64) Series {
	values := make([]float64, len(s.Values))
	for i, v := range s.Values {
		values[i] = v * factor
	}
	return Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: values}
}

// Clone returns a deep copy.
func (s Series) Clone() Series {
	return Series{
		Name:   s.Name,
		Dates:  append([]time.Time(nil), s.Dates...),
		Values: append([]float64(nil), s.Values...),
	}
}

// Mean returns the mean over non-NaN observations.
func (s Series) Mean() float64 {
	clean := s.DropNaN()
	if clean.Len() == 0 {
		return math.NaN()
	}
	return stat.Mean(clean.Values, nil)
}

// Variance returns the population variance over non-NaN observations.
func (s Series) Variance() float64 {
	clean := s.DropNaN()
	if clean.Len() == 0 {
		return math.NaN()
	}
	mean := stat.Mean(clean.Values, nil)
	ss := 0.0
	for _, v := range clean.Values {
		d := v - mean
		ss += d * d
	}
	return ss / float64(clean.Len())
}

// RollingMean computes a trailing rolling mean. Entries with fewer than
// minPeriods valid observations in the window are NaN.
func (s Series) RollingMean(window, minPeriods int) Series {
	return s.rollingStat(window, minPeriods, func(vals []float64) float64 {
		return stat.Mean(vals, nil)
	})
}

// RollingStd computes a trailing rolling sample standard deviation.
func (s Series) RollingStd(window, minPeriods int) Series {
	return s.rollingStat(window, minPeriods, func(vals []float64) float64 {
		if len(vals) < 2 {
			return math.NaN()
		}
		return stat.StdDev(vals, nil)
	})
}

func (s Series) rollingStat(window, minPeriods int, fn func([]float64) float64) Series {
	if minPeriods <= 0 {
		minPeriods = window
	}
	out := make([]float64, len(s.Values))
	buf := make([]float64, 0, window)
	for i := range s.Values {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		buf = buf[:0]
		for j := lo; j <= i; j++ {
			if !math.IsNaN(s.Values[j]) {
				buf = append(buf, s.Values[j])
			}
		}
		if len(buf) < minPeriods {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(buf)
	}
	return Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: out}
}

// NormalizeUnit min-max normalizes the non-NaN observations to [0, 1].
// A constant series maps to the neutral value 0.5.
func (s Series) NormalizeUnit() Series {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range s.Values {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(s.Values))
	for i, v := range s.Values {
		switch {
		case math.IsNaN(v):
			out[i] = math.NaN()
		case hi == lo:
			out[i] = 0.5
		default:
			out[i] = (v - lo) / (hi - lo)
		}
	}
	return Series{Name: s.Name, Dates: append([]time.Time(nil), s.Dates...), Values: out}
}

// IndexOf returns the position of date in the index, or -1.
func (s Series) IndexOf(date time.Time) int {
	lo, hi := 0, len(s.Dates)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.Dates[mid].Before(date) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(s.Dates) && s.Dates[lo].Equal(date) {
		return lo
	}
	return -1
}
