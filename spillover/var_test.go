package spillover

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"jgb-regime-go/timeseries"
)

func testDates(n int) []time.Time {
	dates := make([]time.Time, n)
	start := time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return dates
}

// var1Panel simulates a bivariate VAR(1):
//
//	x_t = 0.5 x_{t-1} + e1
//	y_t = 0.4 x_{t-1} + 0.3 y_{t-1} + e2
func var1Panel(t *testing.T, n int, seed int64) *timeseries.Panel {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	y := make([]float64, n)
	for i := 1; i < n; i++ {
		x[i] = 0.5*x[i-1] + rng.NormFloat64()
		y[i] = 0.4*x[i-1] + 0.3*y[i-1] + rng.NormFloat64()
	}
	dates := testDates(n)
	sx, _ := timeseries.NewSeries("x", dates, x)
	sy, _ := timeseries.NewSeries("y", dates, y)
	p, err := timeseries.Align(sx, sy)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEstimateVARRecoversCoefficients(t *testing.T) {
	p := var1Panel(t, 2000, 31)

	model, err := EstimateVAR(p, 1)
	if err != nil {
		t.Fatal(err)
	}
	A := model.Coefs[0]
	if math.Abs(A.At(0, 0)-0.5) > 0.1 {
		t.Errorf("A[0,0] = %v, want ~0.5", A.At(0, 0))
	}
	if math.Abs(A.At(1, 0)-0.4) > 0.1 {
		t.Errorf("A[1,0] = %v, want ~0.4", A.At(1, 0))
	}
	if math.Abs(A.At(1, 1)-0.3) > 0.1 {
		t.Errorf("A[1,1] = %v, want ~0.3", A.At(1, 1))
	}
	if math.Abs(A.At(0, 1)) > 0.1 {
		t.Errorf("A[0,1] = %v, want ~0 (y does not drive x)", A.At(0, 1))
	}
	if model.SigmaU.At(0, 0) <= 0 || model.SigmaU.At(1, 1) <= 0 {
		t.Error("residual variances must be positive")
	}
}

func TestEstimateVARInsufficientData(t *testing.T) {
	p := var1Panel(t, 8, 1)
	_, err := EstimateVAR(p, 4)
	if !errors.Is(err, timeseries.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestSolveLeastSquaresSingularDesign(t *testing.T) {
	// Duplicate a regressor so X'X is singular and the solve must go
	// through the SVD path.
	n := 50
	rng := rand.New(rand.NewSource(41))
	X := mat.NewDense(n, 3, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := rng.NormFloat64()
		X.Set(i, 0, 1)
		X.Set(i, 1, v)
		X.Set(i, 2, v)
		Y.Set(i, 0, 2+3*v)
	}

	B, err := solveLeastSquares(X, Y)
	if err != nil {
		t.Fatal(err)
	}
	// The minimum-norm solution still reproduces the fitted values.
	var fitted mat.Dense
	fitted.Mul(X, B)
	for i := 0; i < n; i++ {
		if math.Abs(fitted.At(i, 0)-Y.At(i, 0)) > 1e-8 {
			t.Fatalf("fitted[%d] = %v, want %v", i, fitted.At(i, 0), Y.At(i, 0))
		}
	}
	// The duplicated columns share the coefficient mass.
	if math.Abs(B.At(1, 0)+B.At(2, 0)-3) > 1e-8 {
		t.Errorf("b1+b2 = %v, want 3", B.At(1, 0)+B.At(2, 0))
	}
}

func TestMARepresentation(t *testing.T) {
	p := var1Panel(t, 500, 13)
	model, err := EstimateVAR(p, 1)
	if err != nil {
		t.Fatal(err)
	}

	psi := model.MARepresentation(5)
	if len(psi) != 6 {
		t.Fatalf("psi count = %d, want horizon+1 = 6", len(psi))
	}
	// Psi_0 is the identity.
	if !mat.EqualApprox(psi[0], identity(2), 1e-12) {
		t.Error("Psi_0 must be the identity")
	}
	// Psi_1 equals A_1 for a VAR(1).
	if !mat.EqualApprox(psi[1], model.Coefs[0], 1e-12) {
		t.Error("Psi_1 must equal the lag-1 coefficient matrix")
	}
	// A stationary VAR's MA matrices decay.
	n5 := mat.Norm(psi[5], 2)
	n1 := mat.Norm(psi[1], 2)
	if n5 >= n1 {
		t.Errorf("psi norms should decay: |Psi_5| = %v, |Psi_1| = %v", n5, n1)
	}
}
