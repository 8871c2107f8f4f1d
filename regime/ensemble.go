package regime

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"jgb-regime-go/timeseries"
)

// Weights assigns ensemble weight to each detector family. They are
// renormalised to sum to one when combined.
type Weights struct {
	Markov  float64 `yaml:"markov"`
	HMM     float64 `yaml:"hmm"`
	Entropy float64 `yaml:"entropy"`
	GARCH   float64 `yaml:"garch"`
}

// DefaultWeights gives each detector a quarter of the vote.
func DefaultWeights() Weights {
	return Weights{Markov: 0.25, HMM: 0.25, Entropy: 0.25, GARCH: 0.25}
}

// DetectorSignal is one detector's output normalised onto a shared index.
type DetectorSignal struct {
	Name   string
	Series timeseries.Series
	Weight float64
}

// BreakpointsToSignal converts a list of breakpoint dates into a binary
// series over the given index, alternating regime labels starting at zero
// and flipping at each breakpoint.
func BreakpointsToSignal(name string, dates []time.Time, bkps []time.Time) timeseries.Series {
	vals := make([]float64, len(dates))
	state := 0.0
	next := 0
	for i, dt := range dates {
		for next < len(bkps) && !dt.Before(bkps[next]) {
			state = 1 - state
			next++
		}
		vals[i] = state
	}
	return timeseries.Series{Name: name, Dates: dates, Values: vals}
}

// CombineSignals min-max normalises each detector signal onto [0, 1] and
// takes a NaN-aware weighted average per date. Dates where every signal is
// missing stay NaN; weights of the signals present are renormalised per row.
// The combined series is clipped to [0, 1].
func CombineSignals(signals []DetectorSignal, logger *zap.Logger) (timeseries.Series, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(signals) == 0 {
		return timeseries.Series{}, fmt.Errorf("ensemble: no detector signals")
	}
	totalW := 0.0
	for _, sig := range signals {
		if sig.Weight < 0 {
			return timeseries.Series{}, fmt.Errorf("ensemble: negative weight for %q", sig.Name)
		}
		totalW += sig.Weight
	}
	if totalW <= 0 {
		return timeseries.Series{}, fmt.Errorf("ensemble: weights sum to zero")
	}
	if math.Abs(totalW-1) > 1e-9 {
		logger.Warn("ensemble weights do not sum to one; renormalising",
			zap.Float64("sum", totalW))
	}

	// Union of all signal dates, in order.
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, sig := range signals {
		for _, dt := range sig.Series.Dates {
			if _, ok := seen[dt]; !ok {
				seen[dt] = struct{}{}
				dates = append(dates, dt)
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	type normalised struct {
		byDate map[time.Time]float64
		weight float64
	}
	cols := make([]normalised, 0, len(signals))
	for _, sig := range signals {
		unit := sig.Series.NormalizeUnit()
		byDate := make(map[time.Time]float64, unit.Len())
		for i, dt := range unit.Dates {
			byDate[dt] = unit.Values[i]
		}
		cols = append(cols, normalised{byDate: byDate, weight: sig.Weight / totalW})
	}

	vals := make([]float64, len(dates))
	for i, dt := range dates {
		num, den := 0.0, 0.0
		for _, col := range cols {
			v, ok := col.byDate[dt]
			if !ok || math.IsNaN(v) {
				continue
			}
			num += col.weight * v
			den += col.weight
		}
		if den == 0 {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = math.Min(1, math.Max(0, num/den))
	}

	return timeseries.Series{Name: "ensemble_regime_prob", Dates: dates, Values: vals}, nil
}

// EventDetection records whether a single policy event was picked up by the
// ensemble and with what lead or lag.
type EventDetection struct {
	Event PolicyEvent
	// Detected is true when the ensemble crossed the spike threshold
	// within the validation window around the event.
	Detected bool
	// PeakProb is the maximum ensemble probability within the window.
	PeakProb float64
	// LeadLagDays is the offset in trading days from the event to the
	// peak; negative means the ensemble led the event.
	LeadLagDays int
}

// ValidationReport summarises ensemble performance against policy events.
type ValidationReport struct {
	// DetectionRate is detected events over in-sample events.
	DetectionRate float64
	// AvgLeadLag averages LeadLagDays over detected events.
	AvgLeadLag float64
	NInSample  int
	NDetected  int
	Details    []EventDetection
}

// ValidateEnsembleVsBOJ checks the ensemble probability against policy
// events: an event counts as detected when the probability exceeds the spike
// threshold within windowDays trading days either side of the event date.
// Events outside the sample period are skipped.
func ValidateEnsembleVsBOJ(ensemble timeseries.Series, events []PolicyEvent, windowDays int, spikeThreshold float64) (*ValidationReport, error) {
	if ensemble.Len() == 0 {
		return nil, fmt.Errorf("ensemble: %w: empty ensemble series", timeseries.ErrInsufficientData)
	}
	if windowDays <= 0 {
		windowDays = 10
	}
	if spikeThreshold <= 0 {
		spikeThreshold = 0.6
	}

	report := &ValidationReport{}
	first, last := ensemble.Dates[0], ensemble.Dates[len(ensemble.Dates)-1]
	for _, ev := range events {
		if ev.Date.Before(first) || ev.Date.After(last) {
			continue
		}
		report.NInSample++

		// Nearest trading-day index at or after the event date.
		center := sort.Search(len(ensemble.Dates), func(i int) bool {
			return !ensemble.Dates[i].Before(ev.Date)
		})
		if center == len(ensemble.Dates) {
			center = len(ensemble.Dates) - 1
		}
		lo := center - windowDays
		if lo < 0 {
			lo = 0
		}
		hi := center + windowDays
		if hi >= len(ensemble.Dates) {
			hi = len(ensemble.Dates) - 1
		}

		det := EventDetection{Event: ev, PeakProb: math.NaN()}
		peakIdx := -1
		for i := lo; i <= hi; i++ {
			v := ensemble.Values[i]
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(det.PeakProb) || v > det.PeakProb {
				det.PeakProb = v
				peakIdx = i
			}
		}
		if peakIdx >= 0 && det.PeakProb >= spikeThreshold {
			det.Detected = true
			det.LeadLagDays = peakIdx - center
			report.NDetected++
		}
		report.Details = append(report.Details, det)
	}

	if report.NInSample > 0 {
		report.DetectionRate = float64(report.NDetected) / float64(report.NInSample)
	}
	if report.NDetected > 0 {
		sum := 0.0
		for _, det := range report.Details {
			if det.Detected {
				sum += float64(det.LeadLagDays)
			}
		}
		report.AvgLeadLag = sum / float64(report.NDetected)
	}
	return report, nil
}
