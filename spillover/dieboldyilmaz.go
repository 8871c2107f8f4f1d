package spillover

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"jgb-regime-go/timeseries"
)

// SpilloverConfig parameterises generalized variance-decomposition
// spillover measurement.
type SpilloverConfig struct {
	// VARLags is the order of the underlying vector autoregression.
	VARLags int
	// Horizon is the forecast horizon of the variance decomposition.
	Horizon int

	Logger *zap.Logger
}

// DefaultSpilloverConfig uses a VAR(4) at a ten-step horizon.
func DefaultSpilloverConfig() SpilloverConfig {
	return SpilloverConfig{VARLags: 4, Horizon: 10}
}

// SpilloverIndex holds a generalized forecast-error variance decomposition
// and the aggregate indices derived from it.
type SpilloverIndex struct {
	Names []string
	// Table[i][j] is the share of variable i's forecast-error variance
	// attributable to shocks in variable j; rows sum to one.
	Table [][]float64
	// Total is the mean cross-variable share, in percent.
	Total float64
	// To[j] is spillover transmitted by j to the others, in percent.
	To map[string]float64
	// From[i] is spillover received by i from the others, in percent.
	From map[string]float64
	// Net[j] is To minus From.
	Net map[string]float64
}

// ComputeSpilloverIndex estimates a VAR on the panel and derives the
// generalized (order-invariant) forecast-error variance decomposition and
// the Diebold-Yilmaz spillover indices from it.
func ComputeSpilloverIndex(p *timeseries.Panel, cfg SpilloverConfig) (*SpilloverIndex, error) {
	if cfg.VARLags <= 0 {
		cfg.VARLags = 4
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 10
	}
	if p.Cols() < 2 {
		return nil, fmt.Errorf("spillover: need at least 2 variables, got %d", p.Cols())
	}

	model, err := EstimateVAR(p, cfg.VARLags)
	if err != nil {
		return nil, err
	}
	return spilloverFromVAR(model, cfg.Horizon)
}

func spilloverFromVAR(model *VARModel, horizon int) (*SpilloverIndex, error) {
	k := len(model.Names)
	psi := model.MARepresentation(horizon - 1)
	sigma := model.SigmaU

	const denomFloor = 1e-12

	// Generalized FEVD: theta[i][j] = sigma_jj^{-1} * sum_h (e_i' Psi_h Sigma e_j)^2
	//                                 / sum_h (e_i' Psi_h Sigma Psi_h' e_i)
	table := make([][]float64, k)
	var psiSigma, psiSigmaPsiT mat.Dense
	numer := make([][]float64, k)
	denom := make([]float64, k)
	for i := range numer {
		numer[i] = make([]float64, k)
	}
	for _, ph := range psi {
		psiSigma.Mul(ph, sigma)
		psiSigmaPsiT.Mul(&psiSigma, ph.T())
		for i := 0; i < k; i++ {
			denom[i] += psiSigmaPsiT.At(i, i)
			for j := 0; j < k; j++ {
				v := psiSigma.At(i, j)
				numer[i][j] += v * v
			}
		}
	}
	for i := 0; i < k; i++ {
		table[i] = make([]float64, k)
		d := denom[i]
		if d < denomFloor {
			d = denomFloor
		}
		rowSum := 0.0
		for j := 0; j < k; j++ {
			sjj := sigma.At(j, j)
			if sjj < denomFloor {
				sjj = denomFloor
			}
			table[i][j] = numer[i][j] / (sjj * d)
			rowSum += table[i][j]
		}
		// Generalized shocks are correlated, so rows need renormalising.
		if rowSum > 0 {
			for j := 0; j < k; j++ {
				table[i][j] /= rowSum
			}
		}
	}

	idx := &SpilloverIndex{
		Names: model.Names,
		Table: table,
		To:    make(map[string]float64, k),
		From:  make(map[string]float64, k),
		Net:   make(map[string]float64, k),
	}
	crossSum := 0.0
	for i := 0; i < k; i++ {
		fromSum := 0.0
		for j := 0; j < k; j++ {
			if i != j {
				fromSum += table[i][j]
				crossSum += table[i][j]
			}
		}
		idx.From[model.Names[i]] = 100 * fromSum
	}
	for j := 0; j < k; j++ {
		toSum := 0.0
		for i := 0; i < k; i++ {
			if i != j {
				toSum += table[i][j]
			}
		}
		idx.To[model.Names[j]] = 100 * toSum
	}
	for _, name := range model.Names {
		idx.Net[name] = idx.To[name] - idx.From[name]
	}
	idx.Total = 100 * crossSum / float64(k)
	return idx, nil
}

// RollingSpillover computes the total spillover index over a sliding window,
// reporting NaN for windows where estimation fails (logged, not fatal).
func RollingSpillover(p *timeseries.Panel, window int, cfg SpilloverConfig) (timeseries.Series, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 200
	}
	if p.Rows() < window {
		return timeseries.Series{}, fmt.Errorf("spillover: %w: %d rows for window %d",
			timeseries.ErrInsufficientData, p.Rows(), window)
	}

	n := p.Rows() - window + 1
	outDates := p.Dates[window-1:]
	vals := make([]float64, n)
	failures := 0
	for i := 0; i < n; i++ {
		sub := p.Slice(i, i+window)
		idx, err := ComputeSpilloverIndex(sub, cfg)
		if err != nil {
			vals[i] = math.NaN()
			failures++
			continue
		}
		vals[i] = idx.Total
	}
	if failures > 0 {
		logger.Warn("rolling spillover windows failed",
			zap.Int("failed", failures),
			zap.Int("windows", n))
	}
	return timeseries.Series{Name: "total_spillover", Dates: outDates, Values: vals}, nil
}
