package regime

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"jgb-regime-go/timeseries"
)

// Covariance structures for the Gaussian HMM.
const (
	CovFull = "full"
	CovDiag = "diag"
)

// HMMConfig parameterises a multivariate Gaussian hidden Markov model fit.
type HMMConfig struct {
	NStates int
	// CovType selects full or diagonal emission covariances.
	CovType string
	MaxIter int
	Tol     float64
	// RandomState seeds the initial state assignment so fits reproduce.
	RandomState int64

	Logger *zap.Logger
}

// DefaultHMMConfig returns a two-state full-covariance model.
func DefaultHMMConfig() HMMConfig {
	return HMMConfig{NStates: 2, CovType: CovFull, MaxIter: 100, Tol: 1e-6, RandomState: 42}
}

// HMMModel is a fitted multivariate Gaussian hidden Markov model.
type HMMModel struct {
	NStates int
	Names   []string
	// Means[k] is the emission mean of state k.
	Means [][]float64
	// Covs[k] is the emission covariance of state k.
	Covs []*mat.SymDense
	// TransitionMatrix[i][j] is P(state j | state i).
	TransitionMatrix [][]float64
	// InitialProbs is the distribution over states at t=0.
	InitialProbs []float64
	// StateProbs[t][k] is the smoothed posterior of state k at t.
	StateProbs [][]float64
	// ViterbiPath is the most likely state sequence for the training data.
	ViterbiPath []int
	LogLikelihood float64
	Converged     bool
}

// StressStateIndex identifies the stress state as the one with the largest
// total emission variance, breaking ties by the larger mean norm.
func (m *HMMModel) StressStateIndex() int {
	trace := func(k int) float64 {
		t := 0.0
		for i := 0; i < m.Covs[k].SymmetricDim(); i++ {
			t += m.Covs[k].At(i, i)
		}
		return t
	}
	normSq := func(k int) float64 {
		t := 0.0
		for _, v := range m.Means[k] {
			t += v * v
		}
		return t
	}
	best := 0
	for k := 1; k < m.NStates; k++ {
		switch {
		case trace(k) > trace(best):
			best = k
		case trace(k) == trace(best) && normSq(k) > normSq(best):
			best = k
		}
	}
	return best
}

// FitMultivariateHMM fits a Gaussian HMM to a panel of aligned series using
// scaled Baum-Welch. Rows containing missing values must be dropped first.
func FitMultivariateHMM(p *timeseries.Panel, cfg HMMConfig) (*HMMModel, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NStates < 2 {
		return nil, fmt.Errorf("hmm: need at least 2 states, got %d", cfg.NStates)
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 100
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-6
	}
	if cfg.CovType == "" {
		cfg.CovType = CovFull
	}
	n, d := p.Rows(), p.Cols()
	if n < 20*cfg.NStates {
		return nil, fmt.Errorf("hmm: %w: %d observations for %d states",
			timeseries.ErrInsufficientData, n, cfg.NStates)
	}
	obs := make([][]float64, n)
	for t := 0; t < n; t++ {
		obs[t] = make([]float64, d)
		for j := 0; j < d; j++ {
			v := p.At(t, j)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("hmm: %w at row %d", timeseries.ErrMissingValues, t)
			}
			obs[t][j] = v
		}
	}

	model, err := runBaumWelch(obs, cfg)
	if err != nil {
		return nil, fmt.Errorf("hmm: %w", err)
	}
	model.Names = append([]string(nil), p.Names...)
	if !model.Converged {
		logger.Warn("hmm fit hit iteration cap",
			zap.Int("maxIter", cfg.MaxIter),
			zap.Float64("loglik", model.LogLikelihood))
	}
	logger.Info("hmm fit complete",
		zap.Int("nStates", cfg.NStates),
		zap.Int("dims", d),
		zap.Float64("loglik", model.LogLikelihood))
	return model, nil
}

// PredictRegime runs the Viterbi decoder over a panel with the fitted model
// and returns the most likely state sequence.
func PredictRegime(m *HMMModel, p *timeseries.Panel) ([]int, error) {
	if p.Cols() != len(m.Names) {
		return nil, fmt.Errorf("hmm: panel has %d columns, model expects %d",
			p.Cols(), len(m.Names))
	}
	n, d := p.Rows(), p.Cols()
	logDens := make([][]float64, n)
	emit := newGaussEmitters(m)
	for t := 0; t < n; t++ {
		row := make([]float64, d)
		for j := 0; j < d; j++ {
			v := p.At(t, j)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("hmm: %w at row %d", timeseries.ErrMissingValues, t)
			}
			row[j] = v
		}
		logDens[t] = make([]float64, m.NStates)
		for k := 0; k < m.NStates; k++ {
			logDens[t][k] = emit[k].logProb(row)
		}
	}
	return viterbi(m.InitialProbs, m.TransitionMatrix, logDens), nil
}

func runBaumWelch(obs [][]float64, cfg HMMConfig) (*HMMModel, error) {
	n, d := len(obs), len(obs[0])
	k := cfg.NStates
	rng := rand.New(rand.NewSource(cfg.RandomState))

	// Initialise from a random hard assignment of rows to states.
	assign := make([]int, n)
	for t := range assign {
		assign[t] = rng.Intn(k)
	}
	means, covs, err := gaussFromAssignment(obs, assign, k, cfg.CovType)
	if err != nil {
		return nil, err
	}

	trans := make([][]float64, k)
	initial := make([]float64, k)
	for i := range trans {
		initial[i] = 1 / float64(k)
		trans[i] = make([]float64, k)
		for j := range trans[i] {
			if i == j {
				trans[i][j] = 0.9
			} else {
				trans[i][j] = 0.1 / float64(k-1)
			}
		}
	}

	var (
		loglik    float64
		prevLL    = math.Inf(-1)
		converged bool
		gamma     [][]float64
	)

	for iter := 0; iter < cfg.MaxIter; iter++ {
		emit := make([]*gaussEmitter, k)
		for j := 0; j < k; j++ {
			e, err := newGaussEmitter(means[j], covs[j])
			if err != nil {
				return nil, fmt.Errorf("state %d covariance not positive definite: %w", j, err)
			}
			emit[j] = e
		}
		dens := make([][]float64, n)
		for t := 0; t < n; t++ {
			dens[t] = make([]float64, k)
			for j := 0; j < k; j++ {
				dens[t][j] = math.Exp(emit[j].logProb(obs[t]))
			}
		}

		// Scaled forward pass.
		alpha := make([][]float64, n)
		scales := make([]float64, n)
		loglik = 0
		for t := 0; t < n; t++ {
			alpha[t] = make([]float64, k)
			for j := 0; j < k; j++ {
				if t == 0 {
					alpha[t][j] = initial[j] * dens[t][j]
				} else {
					for i := 0; i < k; i++ {
						alpha[t][j] += alpha[t-1][i] * trans[i][j]
					}
					alpha[t][j] *= dens[t][j]
				}
			}
			s := 0.0
			for j := 0; j < k; j++ {
				s += alpha[t][j]
			}
			if s <= 0 || math.IsNaN(s) {
				return nil, fmt.Errorf("forward pass collapsed at t=%d", t)
			}
			scales[t] = s
			for j := 0; j < k; j++ {
				alpha[t][j] /= s
			}
			loglik += math.Log(s)
		}

		// Scaled backward pass.
		beta := make([][]float64, n)
		beta[n-1] = make([]float64, k)
		for j := 0; j < k; j++ {
			beta[n-1][j] = 1
		}
		for t := n - 2; t >= 0; t-- {
			beta[t] = make([]float64, k)
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					beta[t][i] += trans[i][j] * dens[t+1][j] * beta[t+1][j]
				}
				beta[t][i] /= scales[t+1]
			}
		}

		// Posteriors.
		gamma = make([][]float64, n)
		for t := 0; t < n; t++ {
			gamma[t] = make([]float64, k)
			s := 0.0
			for j := 0; j < k; j++ {
				gamma[t][j] = alpha[t][j] * beta[t][j]
				s += gamma[t][j]
			}
			for j := 0; j < k; j++ {
				gamma[t][j] /= s
			}
		}

		// M step: transitions.
		for i := 0; i < k; i++ {
			den := 0.0
			num := make([]float64, k)
			for t := 0; t < n-1; t++ {
				for j := 0; j < k; j++ {
					xi := alpha[t][i] * trans[i][j] * dens[t+1][j] * beta[t+1][j] / scales[t+1]
					num[j] += xi
					den += xi
				}
			}
			if den > 0 {
				for j := 0; j < k; j++ {
					trans[i][j] = num[j] / den
				}
			}
		}
		copy(initial, gamma[0])

		// M step: emissions.
		for j := 0; j < k; j++ {
			w := 0.0
			mean := make([]float64, d)
			for t := 0; t < n; t++ {
				w += gamma[t][j]
				for c := 0; c < d; c++ {
					mean[c] += gamma[t][j] * obs[t][c]
				}
			}
			if w <= 0 {
				return nil, fmt.Errorf("state %d lost all mass", j)
			}
			for c := 0; c < d; c++ {
				mean[c] /= w
			}
			means[j] = mean

			cov := mat.NewSymDense(d, nil)
			for t := 0; t < n; t++ {
				for a := 0; a < d; a++ {
					da := obs[t][a] - mean[a]
					for b := a; b < d; b++ {
						db := obs[t][b] - mean[b]
						cov.SetSym(a, b, cov.At(a, b)+gamma[t][j]*da*db)
					}
				}
			}
			for a := 0; a < d; a++ {
				for b := a; b < d; b++ {
					v := cov.At(a, b) / w
					if cfg.CovType == CovDiag && a != b {
						v = 0
					}
					cov.SetSym(a, b, v)
				}
				// Regularise the diagonal to keep Cholesky viable.
				cov.SetSym(a, a, cov.At(a, a)+1e-8)
			}
			covs[j] = cov
		}

		if loglik-prevLL < cfg.Tol && iter > 0 {
			converged = true
			break
		}
		prevLL = loglik
	}

	// Final decoding with the converged parameters.
	emit := make([]*gaussEmitter, k)
	logDens := make([][]float64, n)
	for j := 0; j < k; j++ {
		e, err := newGaussEmitter(means[j], covs[j])
		if err != nil {
			return nil, err
		}
		emit[j] = e
	}
	for t := 0; t < n; t++ {
		logDens[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			logDens[t][j] = emit[j].logProb(obs[t])
		}
	}

	return &HMMModel{
		NStates:          k,
		Means:            means,
		Covs:             covs,
		TransitionMatrix: trans,
		InitialProbs:     initial,
		StateProbs:       gamma,
		ViterbiPath:      viterbi(initial, trans, logDens),
		LogLikelihood:    loglik,
		Converged:        converged,
	}, nil
}

func gaussFromAssignment(obs [][]float64, assign []int, k int, covType string) ([][]float64, []*mat.SymDense, error) {
	d := len(obs[0])
	means := make([][]float64, k)
	covs := make([]*mat.SymDense, k)
	for j := 0; j < k; j++ {
		var members [][]float64
		for t, a := range assign {
			if a == j {
				members = append(members, obs[t])
			}
		}
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("initial assignment left state %d empty", j)
		}
		mean := make([]float64, d)
		for _, row := range members {
			for c := 0; c < d; c++ {
				mean[c] += row[c]
			}
		}
		for c := 0; c < d; c++ {
			mean[c] /= float64(len(members))
		}
		cov := mat.NewSymDense(d, nil)
		for _, row := range members {
			for a := 0; a < d; a++ {
				for b := a; b < d; b++ {
					cov.SetSym(a, b, cov.At(a, b)+(row[a]-mean[a])*(row[b]-mean[b]))
				}
			}
		}
		for a := 0; a < d; a++ {
			for b := a; b < d; b++ {
				v := cov.At(a, b) / float64(len(members))
				if covType == CovDiag && a != b {
					v = 0
				}
				cov.SetSym(a, b, v)
			}
			cov.SetSym(a, a, cov.At(a, a)+1e-8)
		}
		means[j] = mean
		covs[j] = cov
	}
	return means, covs, nil
}

// gaussEmitter evaluates a multivariate normal log-density through a cached
// Cholesky factorisation.
type gaussEmitter struct {
	mean []float64
	chol mat.Cholesky
	// logNorm is -0.5*(d*log(2pi) + log|Sigma|).
	logNorm float64
}

func newGaussEmitter(mean []float64, cov *mat.SymDense) (*gaussEmitter, error) {
	e := &gaussEmitter{mean: mean}
	if ok := e.chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("cholesky factorisation failed")
	}
	d := float64(len(mean))
	e.logNorm = -0.5 * (d*math.Log(2*math.Pi) + e.chol.LogDet())
	return e, nil
}

func newGaussEmitters(m *HMMModel) []*gaussEmitter {
	emit := make([]*gaussEmitter, m.NStates)
	for k := range emit {
		// Covariances come from a successful fit, so factorisation holds.
		e, err := newGaussEmitter(m.Means[k], m.Covs[k])
		if err != nil {
			panic(fmt.Sprintf("hmm: fitted covariance lost positive definiteness: %v", err))
		}
		emit[k] = e
	}
	return emit
}

func (e *gaussEmitter) logProb(x []float64) float64 {
	d := len(x)
	diff := mat.NewVecDense(d, nil)
	for i := 0; i < d; i++ {
		diff.SetVec(i, x[i]-e.mean[i])
	}
	var solved mat.VecDense
	if err := e.chol.SolveVecTo(&solved, diff); err != nil {
		return math.Inf(-1)
	}
	return e.logNorm - 0.5*mat.Dot(diff, &solved)
}

// viterbi returns the most likely state path given log emission densities.
func viterbi(initial []float64, trans [][]float64, logDens [][]float64) []int {
	n := len(logDens)
	k := len(initial)
	delta := make([][]float64, n)
	back := make([][]int, n)
	logTrans := make([][]float64, k)
	for i := range logTrans {
		logTrans[i] = make([]float64, k)
		for j := range logTrans[i] {
			logTrans[i][j] = safeLog(trans[i][j])
		}
	}
	for t := 0; t < n; t++ {
		delta[t] = make([]float64, k)
		back[t] = make([]int, k)
		for j := 0; j < k; j++ {
			if t == 0 {
				delta[t][j] = safeLog(initial[j]) + logDens[t][j]
				continue
			}
			best, bestI := math.Inf(-1), 0
			for i := 0; i < k; i++ {
				v := delta[t-1][i] + logTrans[i][j]
				if v > best {
					best, bestI = v, i
				}
			}
			delta[t][j] = best + logDens[t][j]
			back[t][j] = bestI
		}
	}
	path := make([]int, n)
	best, bestJ := math.Inf(-1), 0
	for j := 0; j < k; j++ {
		if delta[n-1][j] > best {
			best, bestJ = delta[n-1][j], j
		}
	}
	path[n-1] = bestJ
	for t := n - 2; t >= 0; t-- {
		path[t] = back[t+1][path[t+1]]
	}
	return path
}

func safeLog(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return math.Log(v)
}
