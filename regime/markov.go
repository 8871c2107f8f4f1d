package regime

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"jgb-regime-go/timeseries"
)

// MarkovConfig parameterises a Markov regime-switching fit.
type MarkovConfig struct {
	// KRegimes is the number of latent regimes.
	KRegimes int
	// SwitchingVariance lets each regime carry its own variance; with it
	// off, a pooled variance is shared across regimes.
	SwitchingVariance bool
	// MaxIter bounds the EM iterations.
	MaxIter int
	// Tol is the log-likelihood improvement below which EM stops.
	Tol float64

	Logger *zap.Logger
}

// DefaultMarkovConfig returns a two-regime switching-variance model.
func DefaultMarkovConfig() MarkovConfig {
	return MarkovConfig{KRegimes: 2, SwitchingVariance: true, MaxIter: 200, Tol: 1e-6}
}

// MarkovResult holds a fitted Markov-switching mean/variance model.
type MarkovResult struct {
	// SmoothedProbs[t][k] is the smoothed probability of regime k at
	// observation t; each row sums to one.
	SmoothedProbs [][]float64
	// Means and Variances are per-regime parameters.
	Means     []float64
	Variances []float64
	// TransitionMatrix[i][j] is P(regime j at t | regime i at t-1).
	TransitionMatrix [][]float64
	// LogLikelihood at the final EM iteration.
	LogLikelihood float64
	// Converged is false when EM hit its iteration cap.
	Converged bool
	// UsedPooledVariance reports that the switching-variance fit failed
	// numerically and the pooled-variance retry was returned instead.
	UsedPooledVariance bool
}

// SmoothedSeries returns the smoothed probability of regime k as a series
// aligned with the fitted observations.
func (r *MarkovResult) SmoothedSeries(s timeseries.Series, k int) timeseries.Series {
	vals := make([]float64, len(r.SmoothedProbs))
	for t := range r.SmoothedProbs {
		vals[t] = r.SmoothedProbs[t][k]
	}
	return timeseries.Series{
		Name:   fmt.Sprintf("%s_regime%d_prob", s.Name, k),
		Dates:  s.Dates[len(s.Dates)-len(vals):],
		Values: vals,
	}
}

// StressRegimeIndex identifies the stress regime as the one with the largest
// variance, breaking ties by the larger absolute mean.
func (r *MarkovResult) StressRegimeIndex() int {
	best := 0
	for k := 1; k < len(r.Variances); k++ {
		switch {
		case r.Variances[k] > r.Variances[best]:
			best = k
		case r.Variances[k] == r.Variances[best] &&
			math.Abs(r.Means[k]) > math.Abs(r.Means[best]):
			best = k
		}
	}
	return best
}

// ClassifyCurrentRegime returns the most probable regime at the final
// observation.
func (r *MarkovResult) ClassifyCurrentRegime() int {
	last := r.SmoothedProbs[len(r.SmoothedProbs)-1]
	best := 0
	for k := 1; k < len(last); k++ {
		if last[k] > last[best] {
			best = k
		}
	}
	return best
}

// FitMarkovRegime fits a Gaussian Markov-switching model by EM, using the
// Hamilton filter forward and the Kim smoother backward. If the
// switching-variance fit degenerates numerically it is retried once with a
// pooled variance, and the retry is flagged on the result.
func FitMarkovRegime(s timeseries.Series, cfg MarkovConfig) (*MarkovResult, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.HasNaN() {
		return nil, fmt.Errorf("markov: %w", timeseries.ErrMissingValues)
	}
	if s.Len() < 100 {
		return nil, fmt.Errorf("markov: %w: %d observations, need >= 100",
			timeseries.ErrInsufficientData, s.Len())
	}
	if cfg.KRegimes < 2 {
		return nil, fmt.Errorf("markov: need at least 2 regimes, got %d", cfg.KRegimes)
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 200
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-6
	}

	res, err := runMarkovEM(s.Values, cfg)
	if err != nil && cfg.SwitchingVariance {
		logger.Warn("switching-variance fit failed; retrying with pooled variance",
			zap.Error(err))
		pooled := cfg
		pooled.SwitchingVariance = false
		res, err = runMarkovEM(s.Values, pooled)
		if res != nil {
			res.UsedPooledVariance = true
		}
	}
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}
	if !res.Converged {
		logger.Warn("markov EM hit iteration cap",
			zap.Int("maxIter", cfg.MaxIter),
			zap.Float64("loglik", res.LogLikelihood))
	}
	logger.Info("markov regime fit complete",
		zap.Int("kRegimes", cfg.KRegimes),
		zap.Float64("loglik", res.LogLikelihood),
		zap.Bool("pooledVariance", res.UsedPooledVariance))
	return res, nil
}

func runMarkovEM(x []float64, cfg MarkovConfig) (*MarkovResult, error) {
	n := len(x)
	k := cfg.KRegimes

	// Spread initial means across sorted-quantile positions so regimes
	// start distinct; start variances at the sample variance.
	sampleMean := stat.Mean(x, nil)
	sampleSD := stat.StdDev(x, nil)
	if sampleSD <= 0 {
		return nil, fmt.Errorf("degenerate input: zero variance")
	}
	means := make([]float64, k)
	variances := make([]float64, k)
	for i := 0; i < k; i++ {
		offset := (float64(i)/float64(k-1) - 0.5) * 2 // -1..1
		means[i] = sampleMean + offset*sampleSD
		variances[i] = sampleSD * sampleSD * (0.5 + float64(i))
	}
	if !cfg.SwitchingVariance {
		for i := range variances {
			variances[i] = sampleSD * sampleSD
		}
	}

	// Sticky transition prior.
	trans := make([][]float64, k)
	for i := range trans {
		trans[i] = make([]float64, k)
		for j := range trans[i] {
			if i == j {
				trans[i][j] = 0.95
			} else {
				trans[i][j] = 0.05 / float64(k-1)
			}
		}
	}

	const varFloor = 1e-12
	var (
		loglik    float64
		prevLL    = math.Inf(-1)
		converged bool
		smoothed  [][]float64
	)

	for iter := 0; iter < cfg.MaxIter; iter++ {
		// E step: Hamilton filter.
		dens := make([][]float64, n)
		for t := 0; t < n; t++ {
			dens[t] = make([]float64, k)
			for j := 0; j < k; j++ {
				dens[t][j] = normPDF(x[t], means[j], variances[j])
			}
		}

		filtered := make([][]float64, n)
		predicted := make([][]float64, n)
		loglik = 0
		prior := stationaryDist(trans)
		for t := 0; t < n; t++ {
			predicted[t] = make([]float64, k)
			if t == 0 {
				copy(predicted[t], prior)
			} else {
				for j := 0; j < k; j++ {
					for i := 0; i < k; i++ {
						predicted[t][j] += filtered[t-1][i] * trans[i][j]
					}
				}
			}
			filtered[t] = make([]float64, k)
			norm := 0.0
			for j := 0; j < k; j++ {
				filtered[t][j] = predicted[t][j] * dens[t][j]
				norm += filtered[t][j]
			}
			if norm <= 0 || math.IsNaN(norm) {
				return nil, fmt.Errorf("filter collapsed at t=%d", t)
			}
			for j := 0; j < k; j++ {
				filtered[t][j] /= norm
			}
			loglik += math.Log(norm)
		}

		// Kim smoother.
		smoothed = make([][]float64, n)
		smoothed[n-1] = append([]float64(nil), filtered[n-1]...)
		for t := n - 2; t >= 0; t-- {
			smoothed[t] = make([]float64, k)
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					if predicted[t+1][j] > 0 {
						smoothed[t][i] += smoothed[t+1][j] * trans[i][j] / predicted[t+1][j]
					}
				}
				smoothed[t][i] *= filtered[t][i]
			}
		}

		// Joint smoothed transitions for the M step.
		num := make([][]float64, k)
		for i := range num {
			num[i] = make([]float64, k)
		}
		for t := 0; t < n-1; t++ {
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					if predicted[t+1][j] > 0 {
						num[i][j] += filtered[t][i] * trans[i][j] * dens[t+1][j] *
							smoothed[t+1][j] / (predicted[t+1][j] * dens[t+1][j])
					}
				}
			}
		}

		// M step.
		for i := 0; i < k; i++ {
			rowSum := 0.0
			for j := 0; j < k; j++ {
				rowSum += num[i][j]
			}
			if rowSum > 0 {
				for j := 0; j < k; j++ {
					trans[i][j] = num[i][j] / rowSum
				}
			}
		}
		for j := 0; j < k; j++ {
			wSum, mSum := 0.0, 0.0
			for t := 0; t < n; t++ {
				wSum += smoothed[t][j]
				mSum += smoothed[t][j] * x[t]
			}
			if wSum <= 0 {
				return nil, fmt.Errorf("regime %d lost all mass", j)
			}
			means[j] = mSum / wSum
		}
		if cfg.SwitchingVariance {
			for j := 0; j < k; j++ {
				wSum, vSum := 0.0, 0.0
				for t := 0; t < n; t++ {
					d := x[t] - means[j]
					wSum += smoothed[t][j]
					vSum += smoothed[t][j] * d * d
				}
				variances[j] = math.Max(vSum/wSum, varFloor)
			}
		} else {
			vSum := 0.0
			for j := 0; j < k; j++ {
				for t := 0; t < n; t++ {
					d := x[t] - means[j]
					vSum += smoothed[t][j] * d * d
				}
			}
			pooled := math.Max(vSum/float64(n), varFloor)
			for j := range variances {
				variances[j] = pooled
			}
		}

		if loglik-prevLL < cfg.Tol && iter > 0 {
			converged = true
			break
		}
		prevLL = loglik
	}

	if math.IsNaN(loglik) || math.IsInf(loglik, 0) {
		return nil, fmt.Errorf("non-finite log-likelihood")
	}
	return &MarkovResult{
		SmoothedProbs:    smoothed,
		Means:            means,
		Variances:        variances,
		TransitionMatrix: trans,
		LogLikelihood:    loglik,
		Converged:        converged,
	}, nil
}

// stationaryDist returns the stationary distribution of a transition matrix
// by power iteration, falling back to uniform when it fails to settle.
func stationaryDist(trans [][]float64) []float64 {
	k := len(trans)
	pi := make([]float64, k)
	for i := range pi {
		pi[i] = 1 / float64(k)
	}
	next := make([]float64, k)
	for iter := 0; iter < 200; iter++ {
		for j := 0; j < k; j++ {
			next[j] = 0
			for i := 0; i < k; i++ {
				next[j] += pi[i] * trans[i][j]
			}
		}
		diff := 0.0
		for j := 0; j < k; j++ {
			diff += math.Abs(next[j] - pi[j])
		}
		copy(pi, next)
		if diff < 1e-12 {
			break
		}
	}
	return pi
}

func normPDF(x, mean, variance float64) float64 {
	d := x - mean
	return math.Exp(-d*d/(2*variance)) / math.Sqrt(2*math.Pi*variance)
}
