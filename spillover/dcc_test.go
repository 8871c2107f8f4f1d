package spillover

import (
	"math"
	"math/rand"
	"testing"

	"jgb-regime-go/timeseries"
)

// correlatedPanel holds two return streams sharing a common factor.
func correlatedPanel(t *testing.T, n int, seed int64) *timeseries.Panel {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		common := rng.NormFloat64()
		a[i] = common + 0.3*rng.NormFloat64()
		b[i] = common + 0.3*rng.NormFloat64()
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

func TestComputeDCC(t *testing.T) {
	p := correlatedPanel(t, 500, 47)

	res, err := ComputeDCC(p, DefaultDCCConfig())
	if err != nil {
		t.Fatal(err)
	}
	corr, ok := res.Correlations[PairLabel("a", "b")]
	if !ok {
		t.Fatalf("missing pair %q, got %v", PairLabel("a", "b"), res.Correlations)
	}
	if corr.Len() != p.Rows() {
		t.Fatalf("correlation length = %d, want %d", corr.Len(), p.Rows())
	}
	for i, v := range corr.Values {
		if v < -1 || v > 1 {
			t.Fatalf("corr[%d] = %v, outside [-1, 1]", i, v)
		}
	}
	// With a strong shared factor the late-sample correlation is high.
	if last := corr.Values[corr.Len()-1]; last < 0.5 {
		t.Errorf("final correlation = %v, want > 0.5 for a shared factor", last)
	}
	for name, vol := range res.ConditionalVols {
		if vol.Len() != p.Rows() {
			t.Errorf("vol %s length = %d, want %d", name, vol.Len(), p.Rows())
		}
		for i, v := range vol.Values {
			if !(v > 0) {
				t.Fatalf("vol %s[%d] = %v, want positive", name, i, v)
			}
		}
	}
}

func TestComputeDCCInsufficientData(t *testing.T) {
	p := correlatedPanel(t, 10, 3)
	if _, err := ComputeDCC(p, DefaultDCCConfig()); err == nil {
		t.Error("expected insufficient data error")
	}
}

func TestRollingVolResidualsFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	n := 100
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = rng.NormFloat64()
	}
	s, _ := timeseries.NewSeries("x", testDates(n), vals)

	vol, z := rollingVolResiduals(s, 21)
	if vol.Len() != n || len(z) != n {
		t.Fatalf("lengths = %d, %d, want %d", vol.Len(), len(z), n)
	}
	for i, v := range vol.Values {
		if !(v > 0) || math.IsNaN(v) {
			t.Fatalf("vol[%d] = %v, want positive (head seeded from full sample)", i, v)
		}
	}
	for i, v := range z {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("residual[%d] = %v, want finite", i, v)
		}
	}
}

func TestEwmaCorrelationClamped(t *testing.T) {
	n := 50
	za := make([]float64, n)
	zb := make([]float64, n)
	for i := range za {
		za[i] = 1
		zb[i] = 1
	}
	corr := ewmaCorrelation("a", "b", testDates(n), za, zb, 0.94, 20)
	for i, v := range corr.Values {
		if v < -1 || v > 1 {
			t.Fatalf("corr[%d] = %v, outside [-1, 1]", i, v)
		}
	}
	if corr.Values[n-1] != 1 {
		t.Errorf("identical streams should correlate at 1, got %v", corr.Values[n-1])
	}
}
