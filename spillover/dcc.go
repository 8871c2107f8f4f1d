package spillover

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"jgb-regime-go/regime"
	"jgb-regime-go/timeseries"
)

// DCCConfig parameterises dynamic conditional correlation estimation.
type DCCConfig struct {
	// P and Q are the orders of the stage-one univariate GARCH fits.
	P, Q int
	// Decay is the EWMA smoothing factor for stage-two correlations.
	Decay float64
	// InitWindow seeds the correlation recursion from the first
	// min(InitWindow, n) standardized residuals.
	InitWindow int
	// FallbackWindow is the rolling window for the volatility fallback
	// when a GARCH fit fails.
	FallbackWindow int

	Logger *zap.Logger
}

// DefaultDCCConfig follows the RiskMetrics convention of a 0.94 decay.
func DefaultDCCConfig() DCCConfig {
	return DCCConfig{P: 1, Q: 1, Decay: 0.94, InitWindow: 20, FallbackWindow: 21}
}

// DCCResult holds time-varying pairwise correlations and the stage-one
// conditional volatilities that produced them.
type DCCResult struct {
	// Correlations maps "a/b" pair labels to correlation series in [-1, 1].
	Correlations map[string]timeseries.Series
	// ConditionalVols holds the per-column conditional volatility series.
	ConditionalVols map[string]timeseries.Series
	// VolFallback marks columns where the GARCH fit failed and a rolling
	// standard deviation was substituted.
	VolFallback map[string]bool
}

// PairLabel names an unordered column pair the way DCCResult keys it.
func PairLabel(a, b string) string {
	return a + "/" + b
}

// ComputeDCC estimates dynamic conditional correlations over the panel
// columns: univariate GARCH conditional volatilities first, then an EWMA
// correlation recursion over the standardized residuals. Columns whose GARCH
// fit fails fall back to a rolling volatility with a warning.
func ComputeDCC(p *timeseries.Panel, cfg DCCConfig) (*DCCResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = 0.94
	}
	if cfg.InitWindow <= 1 {
		cfg.InitWindow = 20
	}
	if cfg.FallbackWindow <= 1 {
		cfg.FallbackWindow = 21
	}
	if cfg.P <= 0 {
		cfg.P = 1
	}
	if cfg.Q < 0 {
		cfg.Q = 1
	}
	k := p.Cols()
	if k < 2 {
		return nil, fmt.Errorf("dcc: need at least 2 variables, got %d", k)
	}
	clean := p.DropNaN()
	n := clean.Rows()
	if n < cfg.InitWindow+10 {
		return nil, fmt.Errorf("dcc: %w: %d complete rows", timeseries.ErrInsufficientData, n)
	}

	result := &DCCResult{
		Correlations:    make(map[string]timeseries.Series),
		ConditionalVols: make(map[string]timeseries.Series, k),
		VolFallback:     make(map[string]bool, k),
	}

	// Stage one: standardized residuals per column.
	resid := make([][]float64, k)
	for j := 0; j < k; j++ {
		col := clean.ColumnAt(j)
		name := clean.Names[j]
		gcfg := regime.DefaultGARCHConfig()
		gcfg.P, gcfg.Q = cfg.P, cfg.Q
		gcfg.Dist = regime.DistNormal
		gcfg.Logger = logger
		fit, err := regime.FitGARCH(col, gcfg)
		if err == nil {
			result.ConditionalVols[name] = fit.ConditionalVolatility
			result.VolFallback[name] = false
			resid[j] = append([]float64(nil), fit.StandardizedResiduals.Values...)
			continue
		}
		logger.Warn("garch fit failed; using rolling volatility",
			zap.String("column", name), zap.Error(err))
		vol, z := rollingVolResiduals(col, cfg.FallbackWindow)
		result.ConditionalVols[name] = vol
		result.VolFallback[name] = true
		resid[j] = z
	}

	// Stage two: EWMA correlation per unordered pair.
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			label := PairLabel(clean.Names[a], clean.Names[b])
			result.Correlations[label] = ewmaCorrelation(
				clean.Names[a], clean.Names[b], clean.Dates,
				resid[a], resid[b], cfg.Decay, cfg.InitWindow)
		}
	}
	return result, nil
}

// rollingVolResiduals substitutes a rolling standard deviation for a failed
// GARCH fit, seeding the head of the series with the full-sample deviation.
func rollingVolResiduals(s timeseries.Series, window int) (timeseries.Series, []float64) {
	vol := s.RollingStd(window, window)
	fallback := stat.StdDev(s.Values, nil)
	if fallback <= 0 || math.IsNaN(fallback) {
		fallback = 1e-8
	}
	z := make([]float64, s.Len())
	vals := make([]float64, s.Len())
	for i := range vals {
		v := vol.Values[i]
		if math.IsNaN(v) || v <= 0 {
			v = fallback
		}
		vals[i] = v
		z[i] = s.Values[i] / v
	}
	return timeseries.Series{Name: "conditional_volatility", Dates: s.Dates, Values: vals}, z
}

// ewmaCorrelation runs the correlation recursion over a pair of
// standardized residual streams, clamping the output to [-1, 1].
func ewmaCorrelation(nameA, nameB string, dates []time.Time, za, zb []float64, decay float64, initWindow int) timeseries.Series {
	n := len(za)
	init := initWindow
	if init > n {
		init = n
	}

	// Seed the covariance state from the first observations.
	var qaa, qbb, qab float64
	for i := 0; i < init; i++ {
		qaa += za[i] * za[i]
		qbb += zb[i] * zb[i]
		qab += za[i] * zb[i]
	}
	qaa /= float64(init)
	qbb /= float64(init)
	qab /= float64(init)
	if qaa <= 0 {
		qaa = 1
	}
	if qbb <= 0 {
		qbb = 1
	}

	vals := make([]float64, n)
	for t := 0; t < n; t++ {
		if t > 0 {
			qaa = decay*qaa + (1-decay)*za[t-1]*za[t-1]
			qbb = decay*qbb + (1-decay)*zb[t-1]*zb[t-1]
			qab = decay*qab + (1-decay)*za[t-1]*zb[t-1]
		}
		rho := qab / math.Sqrt(qaa*qbb)
		if rho > 1 {
			rho = 1
		}
		if rho < -1 {
			rho = -1
		}
		vals[t] = rho
	}
	return timeseries.Series{
		Name:   PairLabel(nameA, nameB) + "_correlation",
		Dates:  dates,
		Values: vals,
	}
}
