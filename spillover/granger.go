package spillover

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"jgb-regime-go/timeseries"
)

// GrangerResult is one directed causality test at its best lag.
type GrangerResult struct {
	Cause  string
	Effect string
	// OptimalLag is the lag with the smallest p-value over 1..maxLag.
	OptimalLag  int
	FStat       float64
	PValue      float64
	Significant bool
}

// PairwiseGranger runs Granger causality tests for every ordered pair of
// panel columns, picking the lag with the smallest p-value for each pair.
// Pairs with too few joint observations are skipped with a warning; a pair
// whose regression fails yields a NaN, non-significant row rather than
// aborting the sweep. Results come back sorted by p-value.
func PairwiseGranger(p *timeseries.Panel, maxLag int, significance float64, logger *zap.Logger) ([]GrangerResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLag < 1 {
		return nil, fmt.Errorf("granger: maxLag must be positive, got %d", maxLag)
	}
	if significance <= 0 {
		significance = 0.05
	}
	k := p.Cols()
	if k < 2 {
		return nil, fmt.Errorf("granger: need at least 2 variables, got %d", k)
	}

	var results []GrangerResult
	for ci := 0; ci < k; ci++ {
		for ei := 0; ei < k; ei++ {
			if ci == ei {
				continue
			}
			cause, effect := p.Names[ci], p.Names[ei]
			x, y := pairObservations(p, ci, ei)
			if len(y) < maxLag+2 {
				logger.Warn("skipping granger pair with too few observations",
					zap.String("cause", cause),
					zap.String("effect", effect),
					zap.Int("nObs", len(y)))
				continue
			}

			best := GrangerResult{Cause: cause, Effect: effect, FStat: math.NaN(), PValue: math.NaN()}
			for lag := 1; lag <= maxLag; lag++ {
				f, pv, err := grangerTest(x, y, lag)
				if err != nil {
					continue
				}
				if math.IsNaN(best.PValue) || pv < best.PValue {
					best.OptimalLag = lag
					best.FStat = f
					best.PValue = pv
				}
			}
			if math.IsNaN(best.PValue) {
				logger.Warn("granger test failed for pair",
					zap.String("cause", cause),
					zap.String("effect", effect))
			} else {
				best.Significant = best.PValue < significance
			}
			results = append(results, best)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		pi, pj := results[i].PValue, results[j].PValue
		if math.IsNaN(pj) {
			return !math.IsNaN(pi)
		}
		if math.IsNaN(pi) {
			return false
		}
		return pi < pj
	})
	return results, nil
}

// pairObservations extracts rows where both columns are observed.
func pairObservations(p *timeseries.Panel, causeCol, effectCol int) (x, y []float64) {
	for i := 0; i < p.Rows(); i++ {
		cv, ev := p.At(i, causeCol), p.At(i, effectCol)
		if math.IsNaN(cv) || math.IsNaN(ev) {
			continue
		}
		x = append(x, cv)
		y = append(y, ev)
	}
	return x, y
}

// grangerTest compares the restricted model (y on its own lags) against the
// unrestricted model (adding lags of x) with an F-test.
func grangerTest(x, y []float64, lag int) (fStat, pValue float64, err error) {
	n := len(y) - lag
	nUnres := 1 + 2*lag
	if n <= nUnres {
		return 0, 0, fmt.Errorf("granger: %w: %d usable observations for lag %d",
			timeseries.ErrInsufficientData, n, lag)
	}

	target := mat.NewDense(n, 1, nil)
	restricted := mat.NewDense(n, 1+lag, nil)
	unrestricted := mat.NewDense(n, nUnres, nil)
	for i := 0; i < n; i++ {
		target.Set(i, 0, y[lag+i])
		restricted.Set(i, 0, 1)
		unrestricted.Set(i, 0, 1)
		for l := 1; l <= lag; l++ {
			restricted.Set(i, l, y[lag+i-l])
			unrestricted.Set(i, l, y[lag+i-l])
			unrestricted.Set(i, lag+l, x[lag+i-l])
		}
	}

	rssR, err := residualSumSquares(restricted, target)
	if err != nil {
		return 0, 0, err
	}
	rssU, err := residualSumSquares(unrestricted, target)
	if err != nil {
		return 0, 0, err
	}

	q := float64(lag)
	dof := float64(n - nUnres)
	if rssU <= 0 {
		rssU = 1e-300
	}
	fStat = ((rssR - rssU) / q) / (rssU / dof)
	if fStat < 0 {
		fStat = 0
	}
	fDist := distuv.F{D1: q, D2: dof}
	pValue = 1 - fDist.CDF(fStat)
	if pValue < 0 {
		pValue = 0
	}
	if pValue > 1 {
		pValue = 1
	}
	return fStat, pValue, nil
}

func residualSumSquares(X, y *mat.Dense) (float64, error) {
	B, err := solveLeastSquares(X, y)
	if err != nil {
		return 0, err
	}
	var fitted mat.Dense
	fitted.Mul(X, B)
	rss := 0.0
	r, _ := y.Dims()
	for i := 0; i < r; i++ {
		d := y.At(i, 0) - fitted.At(i, 0)
		rss += d * d
	}
	return rss, nil
}
