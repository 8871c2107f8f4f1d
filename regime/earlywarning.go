package regime

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"jgb-regime-go/timeseries"
)

// Warning severities, ordered by composite score thresholds.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Warning is a dated alert emitted when the composite score crosses a
// severity threshold.
type Warning struct {
	Date     time.Time
	Severity string
	Score    float64
	Message  string
}

// EarlyWarningConfig parameterises the composite early-warning system.
type EarlyWarningConfig struct {
	// EntropyWindow and EntropyBaseline size the entropy divergence
	// z-score: recent window against the trailing baseline.
	EntropyWindow   int
	EntropyBaseline int
	// CarryWindow and CarryMinPeriods size the carry stress z-score.
	CarryWindow     int
	CarryMinPeriods int
	// SpilloverThreshold marks an elevated spillover index; intensity
	// doubles the excess over the threshold.
	SpilloverThreshold float64
	// Score weights; renormalised when they do not sum to one.
	WeightEntropy   float64
	WeightCarry     float64
	WeightSpillover float64
	// ScoreWindow and ScoreMinPeriods size the rolling min-max scaling
	// onto a 0-100 score.
	ScoreWindow     int
	ScoreMinPeriods int
	// CooldownDays suppresses repeat warnings at the same severity.
	CooldownDays int

	Logger *zap.Logger
}

// DefaultEarlyWarningConfig mirrors the thresholds used operationally.
func DefaultEarlyWarningConfig() EarlyWarningConfig {
	return EarlyWarningConfig{
		EntropyWindow:      30,
		EntropyBaseline:    60,
		CarryWindow:        252,
		CarryMinPeriods:    60,
		SpilloverThreshold: 0.5,
		WeightEntropy:      0.4,
		WeightCarry:        0.3,
		WeightSpillover:    0.3,
		ScoreWindow:        252,
		ScoreMinPeriods:    30,
		CooldownDays:       5,
	}
}

// EntropyDivergence measures how far recent permutation entropy has drifted
// from its trailing baseline, as an absolute z-score.
func EntropyDivergence(entropy timeseries.Series, window, baseline int) (timeseries.Series, error) {
	if window <= 1 || baseline <= 1 {
		return timeseries.Series{}, fmt.Errorf("earlywarning: window %d and baseline %d must exceed 1", window, baseline)
	}
	if entropy.Len() < window+baseline {
		return timeseries.Series{}, fmt.Errorf("earlywarning: %w: %d observations, need >= %d",
			timeseries.ErrInsufficientData, entropy.Len(), window+baseline)
	}
	recent := entropy.RollingMean(window, window)
	baseMean := entropy.RollingMean(baseline, baseline)
	baseStd := entropy.RollingStd(baseline, baseline)

	vals := make([]float64, entropy.Len())
	for i := range vals {
		m, sd, r := baseMean.Values[i], baseStd.Values[i], recent.Values[i]
		if math.IsNaN(m) || math.IsNaN(sd) || math.IsNaN(r) || sd == 0 {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = math.Abs((r - m) / sd)
	}
	return timeseries.Series{Name: "entropy_divergence", Dates: entropy.Dates, Values: vals}, nil
}

// CarryStressIndicator is the absolute z-score of the carry-to-vol ratio
// against its rolling history; compressed or inverted carry shows up as
// stress.
func CarryStressIndicator(carryToVol timeseries.Series, window, minPeriods int) (timeseries.Series, error) {
	if window <= 1 {
		return timeseries.Series{}, fmt.Errorf("earlywarning: window %d must exceed 1", window)
	}
	if carryToVol.ValidCount() < minPeriods {
		return timeseries.Series{}, fmt.Errorf("earlywarning: %w: %d valid observations, need >= %d",
			timeseries.ErrInsufficientData, carryToVol.ValidCount(), minPeriods)
	}
	mean := carryToVol.RollingMean(window, minPeriods)
	std := carryToVol.RollingStd(window, minPeriods)
	vals := make([]float64, carryToVol.Len())
	for i := range vals {
		m, sd, v := mean.Values[i], std.Values[i], carryToVol.Values[i]
		if math.IsNaN(m) || math.IsNaN(sd) || math.IsNaN(v) || sd == 0 {
			vals[i] = math.NaN()
			continue
		}
		vals[i] = math.Abs((v - m) / sd)
	}
	return timeseries.Series{Name: "carry_stress", Dates: carryToVol.Dates, Values: vals}, nil
}

// SpilloverIntensity maps a total spillover index, expressed as a fraction,
// onto a stress reading: zero below the threshold, twice the excess above.
func SpilloverIntensity(spillover timeseries.Series, threshold float64) timeseries.Series {
	vals := make([]float64, spillover.Len())
	for i, v := range spillover.Values {
		if math.IsNaN(v) {
			vals[i] = math.NaN()
			continue
		}
		if v > threshold {
			vals[i] = 2 * (v - threshold)
		}
	}
	return timeseries.Series{Name: "spillover_intensity", Dates: spillover.Dates, Values: vals}
}

// CompositeWarningScore combines the three stress indicators into a 0-100
// score. Each indicator is min-max scaled over a rolling window before
// weighting; indicators missing on a date are dropped and the weights of
// those present renormalised.
func CompositeWarningScore(entropyDiv, carryStress, spilloverIntensity timeseries.Series, cfg EarlyWarningConfig, logger *zap.Logger) (timeseries.Series, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	totalW := cfg.WeightEntropy + cfg.WeightCarry + cfg.WeightSpillover
	if totalW <= 0 {
		return timeseries.Series{}, fmt.Errorf("earlywarning: weights sum to zero")
	}
	if math.Abs(totalW-1) > 1e-9 {
		logger.Warn("early warning weights do not sum to one; renormalising",
			zap.Float64("sum", totalW))
	}

	signals := []DetectorSignal{
		{Name: "entropy", Series: rollingMinMax(entropyDiv, cfg.ScoreWindow, cfg.ScoreMinPeriods), Weight: cfg.WeightEntropy / totalW},
		{Name: "carry", Series: rollingMinMax(carryStress, cfg.ScoreWindow, cfg.ScoreMinPeriods), Weight: cfg.WeightCarry / totalW},
		{Name: "spillover", Series: rollingMinMax(spilloverIntensity, cfg.ScoreWindow, cfg.ScoreMinPeriods), Weight: cfg.WeightSpillover / totalW},
	}
	combined, err := CombineSignals(signals, logger)
	if err != nil {
		return timeseries.Series{}, err
	}
	for i, v := range combined.Values {
		if !math.IsNaN(v) {
			combined.Values[i] = 100 * v
		}
	}
	combined.Name = "composite_warning_score"
	return combined, nil
}

// rollingMinMax scales each value against the min and max of its trailing
// window; constant windows map to 0.5.
func rollingMinMax(s timeseries.Series, window, minPeriods int) timeseries.Series {
	vals := make([]float64, s.Len())
	for i := range vals {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		minV, maxV := math.Inf(1), math.Inf(-1)
		valid := 0
		for j := lo; j <= i; j++ {
			v := s.Values[j]
			if math.IsNaN(v) {
				continue
			}
			valid++
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
		}
		cur := s.Values[i]
		switch {
		case valid < minPeriods || math.IsNaN(cur):
			vals[i] = math.NaN()
		case maxV == minV:
			vals[i] = 0.5
		default:
			vals[i] = (cur - minV) / (maxV - minV)
		}
	}
	return timeseries.Series{Name: s.Name, Dates: s.Dates, Values: vals}
}

// GenerateWarnings walks the composite score and emits a warning each time a
// severity threshold is crossed, suppressing repeats at the same or lower
// severity during the cooldown.
func GenerateWarnings(score timeseries.Series, cfg EarlyWarningConfig, logger *zap.Logger) []Warning {
	if logger == nil {
		logger = zap.NewNop()
	}
	cooldown := cfg.CooldownDays
	if cooldown <= 0 {
		cooldown = 5
	}

	severityOf := func(v float64) (string, int) {
		switch {
		case v > 80:
			return SeverityCritical, 3
		case v > 50:
			return SeverityWarning, 2
		case v > 30:
			return SeverityInfo, 1
		}
		return "", 0
	}

	var warnings []Warning
	lastRank := 0
	lastIdx := -1
	for i, v := range score.Values {
		if math.IsNaN(v) {
			continue
		}
		sev, rank := severityOf(v)
		if rank == 0 {
			lastRank = 0
			continue
		}
		inCooldown := lastIdx >= 0 && i-lastIdx < cooldown
		if inCooldown && rank <= lastRank {
			continue
		}
		w := Warning{
			Date:     score.Dates[i],
			Severity: sev,
			Score:    v,
			Message:  fmt.Sprintf("composite warning score %.1f crossed %s threshold", v, sev),
		}
		warnings = append(warnings, w)
		logger.Warn("early warning triggered",
			zap.Time("date", w.Date),
			zap.String("severity", sev),
			zap.Float64("score", v))
		lastRank = rank
		lastIdx = i
	}
	return warnings
}
