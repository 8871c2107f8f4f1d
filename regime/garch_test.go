package regime

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"jgb-regime-go/timeseries"
)

// garchReturns simulates a GARCH(1,1) path in small yield-change units so
// the rescaling path is exercised.
func garchReturns(t *testing.T, n int, seed int64) timeseries.Series {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	const (
		omega = 0.05
		alpha = 0.1
		beta  = 0.85
	)
	vals := make([]float64, n)
	sigma2 := omega / (1 - alpha - beta)
	for i := range vals {
		z := rng.NormFloat64()
		vals[i] = math.Sqrt(sigma2) * z * 0.01 // scale down to ~bp units
		eps := vals[i] / 0.01
		sigma2 = omega + alpha*eps*eps + beta*sigma2
	}
	s, err := timeseries.NewSeries("dy", testDates(n), vals)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFitGARCHBasics(t *testing.T) {
	s := garchReturns(t, 500, 21)
	cfg := DefaultGARCHConfig()

	fit, err := FitGARCH(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if fit.ConditionalVolatility.Len() != s.Len() {
		t.Fatalf("cond vol length = %d, want %d", fit.ConditionalVolatility.Len(), s.Len())
	}
	for i, v := range fit.ConditionalVolatility.Values {
		if !(v > 0) || math.IsInf(v, 0) {
			t.Fatalf("cond vol[%d] = %v, want finite positive", i, v)
		}
	}
	if fit.Scale < 10 {
		t.Errorf("scale = %v, want a power-of-ten upscale for bp-sized input", fit.Scale)
	}
	if fit.Params["omega"] <= 0 {
		t.Errorf("omega = %v, want positive", fit.Params["omega"])
	}
	if nu, ok := fit.Params["nu"]; !ok || nu <= 2 {
		t.Errorf("nu = %v, want > 2 for Student-t innovations", nu)
	}
	if math.IsNaN(fit.LogLikelihood) || math.IsInf(fit.LogLikelihood, 0) {
		t.Errorf("loglik = %v, want finite", fit.LogLikelihood)
	}
}

func TestFitGARCHNormalDist(t *testing.T) {
	s := garchReturns(t, 400, 5)
	cfg := DefaultGARCHConfig()
	cfg.Dist = DistNormal

	fit, err := FitGARCH(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fit.Params["nu"]; ok {
		t.Error("normal fit should not carry a nu parameter")
	}
}

func TestFitEGARCH(t *testing.T) {
	s := garchReturns(t, 400, 9)
	cfg := DefaultGARCHConfig()

	fit, err := FitEGARCH(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fit.Params["gamma"]; !ok {
		t.Error("egarch fit should report the asymmetry parameter")
	}
	for i, v := range fit.ConditionalVolatility.Values {
		if !(v > 0) {
			t.Fatalf("cond vol[%d] = %v, want positive", i, v)
		}
	}
	beta := fit.Params["beta[1]"]
	if beta <= -1 || beta >= 1 {
		t.Errorf("beta = %v, want inside (-1, 1)", beta)
	}
}

func TestFitGARCHRejectsMissingValues(t *testing.T) {
	s := garchReturns(t, 100, 2)
	s.Values[10] = math.NaN()

	_, err := FitGARCH(s, DefaultGARCHConfig())
	if !errors.Is(err, timeseries.ErrMissingValues) {
		t.Errorf("err = %v, want ErrMissingValues", err)
	}
}

func TestFitGARCHInsufficientData(t *testing.T) {
	s := garchReturns(t, 30, 2)
	_, err := FitGARCH(s, DefaultGARCHConfig())
	if !errors.Is(err, timeseries.ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestVolatilityRegimeBreaks(t *testing.T) {
	// Conditional volatility with three clear level shifts.
	n := 400
	vals := make([]float64, n)
	for i := range vals {
		switch {
		case i < 100:
			vals[i] = 1
		case i < 200:
			vals[i] = 3
		case i < 300:
			vals[i] = 1.5
		default:
			vals[i] = 5
		}
	}
	condVol, _ := timeseries.NewSeries("cv", testDates(n), vals)

	bkps, err := VolatilityRegimeBreaks(condVol, 3, 30, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(bkps) != 3 {
		t.Fatalf("breakpoints = %d, want 3", len(bkps))
	}
}
