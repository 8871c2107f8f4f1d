package spillover

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"jgb-regime-go/timeseries"
)

// TransferEntropyConfig parameterises discretised transfer entropy.
type TransferEntropyConfig struct {
	// Lag is the history length of the conditioning variable.
	Lag int
	// NBins is the number of discretisation bins.
	NBins int

	Logger *zap.Logger
}

// DefaultTransferEntropyConfig discretises into terciles at lag one.
func DefaultTransferEntropyConfig() TransferEntropyConfig {
	return TransferEntropyConfig{Lag: 1, NBins: 3}
}

// TransferEntropyEdge is one directed information flow.
type TransferEntropyEdge struct {
	Source string
	Target string
	Nats   float64
}

// ComputeTransferEntropy estimates the information flow from source to
// target in nats: how much knowing the source's past reduces uncertainty
// about the target beyond the target's own past. Series are discretised by
// quantile, with an equal-width fallback when quantile edges collapse.
// Returns zero with a warning when the overlap is too short to estimate.
func ComputeTransferEntropy(source, target timeseries.Series, cfg TransferEntropyConfig) (float64, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lag < 1 {
		return 0, fmt.Errorf("transferentropy: lag must be positive, got %d", cfg.Lag)
	}
	if cfg.NBins < 2 {
		return 0, fmt.Errorf("transferentropy: need at least 2 bins, got %d", cfg.NBins)
	}

	dates, src, tgt := alignedPair(source, target)
	if len(src) < cfg.Lag+10 {
		logger.Warn("transfer entropy sample too short; reporting zero flow",
			zap.String("source", source.Name),
			zap.String("target", target.Name),
			zap.Int("nObs", len(src)))
		return 0, nil
	}

	srcCodes, srcFallback, err := timeseries.Discretize(
		timeseries.Series{Name: source.Name, Dates: dates, Values: src}, cfg.NBins)
	if err != nil {
		return 0, fmt.Errorf("transferentropy: %w", err)
	}
	tgtCodes, tgtFallback, err := timeseries.Discretize(
		timeseries.Series{Name: target.Name, Dates: dates, Values: tgt}, cfg.NBins)
	if err != nil {
		return 0, fmt.Errorf("transferentropy: %w", err)
	}
	if srcFallback || tgtFallback {
		logger.Warn("quantile bin edges collapsed; using equal-width bins",
			zap.String("source", source.Name),
			zap.String("target", target.Name))
	}

	// TE(X->Y) = H(Y_t, Y_past) - H(Y_past) - H(Y_t, Y_past, X_past) + H(Y_past, X_past)
	lag := cfg.Lag
	n := len(tgtCodes) - lag
	joint2 := make(map[[2]int]int)   // (y_t, y_past)
	hist1 := make(map[int]int)       // y_past
	joint3 := make(map[[3]int]int)   // (y_t, y_past, x_past)
	joint2b := make(map[[2]int]int)  // (y_past, x_past)
	for t := 0; t < n; t++ {
		yt := tgtCodes[t+lag]
		yp := tgtCodes[t]
		xp := srcCodes[t]
		joint2[[2]int{yt, yp}]++
		hist1[yp]++
		joint3[[3]int{yt, yp, xp}]++
		joint2b[[2]int{yp, xp}]++
	}

	total := float64(n)
	te := entropyOfCounts2(joint2, total) - entropyOfCounts1(hist1, total) -
		entropyOfCounts3(joint3, total) + entropyOfCounts2(joint2b, total)
	if te < 0 {
		te = 0
	}
	return te, nil
}

// PairwiseTransferEntropy computes the full asymmetric flow matrix over the
// panel columns, plus a list of directed edges sorted by flow.
func PairwiseTransferEntropy(p *timeseries.Panel, cfg TransferEntropyConfig) ([][]float64, []TransferEntropyEdge, error) {
	k := p.Cols()
	if k < 2 {
		return nil, nil, fmt.Errorf("transferentropy: need at least 2 variables, got %d", k)
	}
	matrix := make([][]float64, k)
	for i := range matrix {
		matrix[i] = make([]float64, k)
	}
	var edges []TransferEntropyEdge
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				continue
			}
			te, err := ComputeTransferEntropy(p.ColumnAt(i), p.ColumnAt(j), cfg)
			if err != nil {
				return nil, nil, err
			}
			matrix[i][j] = te
			edges = append(edges, TransferEntropyEdge{
				Source: p.Names[i],
				Target: p.Names[j],
				Nats:   te,
			})
		}
	}
	sort.SliceStable(edges, func(a, b int) bool { return edges[a].Nats > edges[b].Nats })
	return matrix, edges, nil
}

// InformationFlowNetwork keeps the edges whose flow exceeds the threshold.
func InformationFlowNetwork(edges []TransferEntropyEdge, threshold float64) []TransferEntropyEdge {
	var kept []TransferEntropyEdge
	for _, e := range edges {
		if e.Nats > threshold {
			kept = append(kept, e)
		}
	}
	return kept
}

// alignedPair intersects the two date indexes and keeps the dates where both
// series are observed, so independently indexed inputs pair correctly.
func alignedPair(a, b timeseries.Series) ([]time.Time, []float64, []float64) {
	var dates []time.Time
	var x, y []float64
	i, j := 0, 0
	for i < a.Len() && j < b.Len() {
		switch {
		case a.Dates[i].Before(b.Dates[j]):
			i++
		case b.Dates[j].Before(a.Dates[i]):
			j++
		default:
			if !math.IsNaN(a.Values[i]) && !math.IsNaN(b.Values[j]) {
				dates = append(dates, a.Dates[i])
				x = append(x, a.Values[i])
				y = append(y, b.Values[j])
			}
			i++
			j++
		}
	}
	return dates, x, y
}

func entropyOfCounts1(counts map[int]int, total float64) float64 {
	h := 0.0
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log(p)
	}
	return h
}

func entropyOfCounts2(counts map[[2]int]int, total float64) float64 {
	h := 0.0
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log(p)
	}
	return h
}

func entropyOfCounts3(counts map[[3]int]int, total float64) float64 {
	h := 0.0
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log(p)
	}
	return h
}
