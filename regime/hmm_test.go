package regime

import (
	"math"
	"math/rand"
	"testing"

	"jgb-regime-go/timeseries"
)

// twoStatePanel is a bivariate sample alternating between a calm block
// centred at the origin and a stressed block with higher mean and variance.
func twoStatePanel(t *testing.T, block int) *timeseries.Panel {
	t.Helper()
	rng := rand.New(rand.NewSource(23))
	n := 4 * block
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		stressed := (i/block)%2 == 1
		if stressed {
			a[i] = 4 + rng.NormFloat64()*2
			b[i] = 4 + rng.NormFloat64()*2
		} else {
			a[i] = rng.NormFloat64()
			b[i] = rng.NormFloat64()
		}
	}
	dates := testDates(n)
	sa, _ := timeseries.NewSeries("a", dates, a)
	sb, _ := timeseries.NewSeries("b", dates, b)
	p, err := timeseries.Align(sa, sb)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFitMultivariateHMM(t *testing.T) {
	p := twoStatePanel(t, 80)

	model, err := FitMultivariateHMM(p, DefaultHMMConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(model.StateProbs) != p.Rows() {
		t.Fatalf("state prob rows = %d, want %d", len(model.StateProbs), p.Rows())
	}
	for t0, row := range model.StateProbs {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("state probs at t=%d sum to %v", t0, sum)
		}
	}
	if len(model.ViterbiPath) != p.Rows() {
		t.Fatalf("viterbi length = %d, want %d", len(model.ViterbiPath), p.Rows())
	}

	stress := model.StressStateIndex()
	calm := 1 - stress
	var stressTrace, calmTrace float64
	for i := 0; i < 2; i++ {
		stressTrace += model.Covs[stress].At(i, i)
		calmTrace += model.Covs[calm].At(i, i)
	}
	if stressTrace <= calmTrace {
		t.Errorf("stress state trace %v not above calm trace %v", stressTrace, calmTrace)
	}
}

func TestFitMultivariateHMMDiagCov(t *testing.T) {
	p := twoStatePanel(t, 60)
	cfg := DefaultHMMConfig()
	cfg.CovType = CovDiag

	model, err := FitMultivariateHMM(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for k := 0; k < model.NStates; k++ {
		if model.Covs[k].At(0, 1) != 0 {
			t.Errorf("state %d off-diagonal = %v, want 0 with diag covariance",
				k, model.Covs[k].At(0, 1))
		}
	}
}

func TestFitMultivariateHMMDeterministicSeed(t *testing.T) {
	p := twoStatePanel(t, 60)
	cfg := DefaultHMMConfig()

	m1, err := FitMultivariateHMM(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := FitMultivariateHMM(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if m1.LogLikelihood != m2.LogLikelihood {
		t.Errorf("seeded fits differ: %v vs %v", m1.LogLikelihood, m2.LogLikelihood)
	}
}

func TestPredictRegime(t *testing.T) {
	p := twoStatePanel(t, 60)
	model, err := FitMultivariateHMM(p, DefaultHMMConfig())
	if err != nil {
		t.Fatal(err)
	}

	path, err := PredictRegime(model, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != p.Rows() {
		t.Fatalf("path length = %d, want %d", len(path), p.Rows())
	}

	narrow, _ := p.Select("a")
	if _, err := PredictRegime(model, narrow); err == nil {
		t.Error("expected dimension mismatch error")
	}
}
