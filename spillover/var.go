// Package spillover measures cross-asset transmission: Granger causality,
// transfer entropy, Diebold-Yilmaz spillover indices and dynamic
// conditional correlations over aligned yield and FX panels.
package spillover

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"jgb-regime-go/timeseries"
)

// VARModel is an estimated vector autoregression with intercept.
type VARModel struct {
	Names []string
	Lags  int
	// Intercept is the K-vector of constants.
	Intercept []float64
	// Coefs[l] is the K×K coefficient matrix on lag l+1.
	Coefs []*mat.Dense
	// SigmaU is the residual covariance matrix.
	SigmaU *mat.SymDense
	// Residuals is (T-lags)×K.
	Residuals *mat.Dense
	NObs      int
}

// EstimateVAR fits a VAR(p) by equation-wise least squares on a panel free
// of missing values.
func EstimateVAR(p *timeseries.Panel, lags int) (*VARModel, error) {
	if lags < 1 {
		return nil, fmt.Errorf("var: lags must be positive, got %d", lags)
	}
	t, k := p.Rows(), p.Cols()
	if k < 2 {
		return nil, fmt.Errorf("var: need at least 2 variables, got %d", k)
	}
	nObs := t - lags
	minObs := k*lags + 1 + k // regressors plus headroom
	if nObs < minObs {
		return nil, fmt.Errorf("var: %w: %d usable observations, need >= %d",
			timeseries.ErrInsufficientData, nObs, minObs)
	}
	for i := 0; i < t; i++ {
		for j := 0; j < k; j++ {
			if math.IsNaN(p.At(i, j)) {
				return nil, fmt.Errorf("var: %w at row %d", timeseries.ErrMissingValues, i)
			}
		}
	}

	// Design matrix: intercept then lag blocks, newest lag first.
	nReg := 1 + k*lags
	X := mat.NewDense(nObs, nReg, nil)
	Y := mat.NewDense(nObs, k, nil)
	for i := 0; i < nObs; i++ {
		X.Set(i, 0, 1)
		for l := 1; l <= lags; l++ {
			for j := 0; j < k; j++ {
				X.Set(i, 1+(l-1)*k+j, p.At(lags+i-l, j))
			}
		}
		for j := 0; j < k; j++ {
			Y.Set(i, j, p.At(lags+i, j))
		}
	}

	B, err := solveLeastSquares(X, Y)
	if err != nil {
		return nil, fmt.Errorf("var: %w", err)
	}

	// Residuals and their covariance.
	var fitted mat.Dense
	fitted.Mul(X, B)
	resid := mat.NewDense(nObs, k, nil)
	resid.Sub(Y, &fitted)

	df := float64(nObs - nReg)
	if df < 1 {
		df = float64(nObs)
	}
	sigma := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			s := 0.0
			for i := 0; i < nObs; i++ {
				s += resid.At(i, a) * resid.At(i, b)
			}
			sigma.SetSym(a, b, s/df)
		}
	}

	model := &VARModel{
		Names:     append([]string(nil), p.Names...),
		Lags:      lags,
		Intercept: make([]float64, k),
		Coefs:     make([]*mat.Dense, lags),
		SigmaU:    sigma,
		Residuals: resid,
		NObs:      nObs,
	}
	for j := 0; j < k; j++ {
		model.Intercept[j] = B.At(0, j)
	}
	for l := 0; l < lags; l++ {
		A := mat.NewDense(k, k, nil)
		for row := 0; row < k; row++ {
			for col := 0; col < k; col++ {
				// B is regressor-by-equation; A is equation-by-regressor.
				A.Set(row, col, B.At(1+l*k+col, row))
			}
		}
		model.Coefs[l] = A
	}
	return model, nil
}

// MARepresentation returns the moving-average matrices Psi_0..Psi_h of the
// fitted VAR, with Psi_0 = I.
func (m *VARModel) MARepresentation(horizon int) []*mat.Dense {
	k := len(m.Names)
	psi := make([]*mat.Dense, horizon+1)
	psi[0] = identity(k)
	for h := 1; h <= horizon; h++ {
		acc := mat.NewDense(k, k, nil)
		var term mat.Dense
		for j := 1; j <= h && j <= m.Lags; j++ {
			term.Mul(m.Coefs[j-1], psi[h-j])
			acc.Add(acc, &term)
		}
		psi[h] = acc
	}
	return psi
}

// solveLeastSquares returns B minimising ||Y - X·B||, via the normal
// equations with an SVD fallback when X'X is near-singular.
func solveLeastSquares(X, Y *mat.Dense) (*mat.Dense, error) {
	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var xty mat.Dense
	xty.Mul(X.T(), Y)

	var B mat.Dense
	if err := B.Solve(&xtx, &xty); err == nil {
		return &B, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(X, mat.SVDThin); !ok {
		return nil, fmt.Errorf("least squares: SVD factorisation failed")
	}
	rank := 0
	for _, s := range svd.Values(nil) {
		if s > 1e-12 {
			rank++
		}
	}
	if rank == 0 {
		return nil, fmt.Errorf("least squares: design matrix has rank zero")
	}
	var sol mat.Dense
	svd.SolveTo(&sol, Y, rank)
	return &sol, nil
}

func identity(k int) *mat.Dense {
	m := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		m.Set(i, i, 1)
	}
	return m
}
