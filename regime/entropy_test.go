package regime

import (
	"math"
	"math/rand"
	"testing"

	"jgb-regime-go/timeseries"
)

func TestPermutationEntropyMonotoneIsZero(t *testing.T) {
	n := 60
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i)
	}
	s, _ := timeseries.NewSeries("x", testDates(n), vals)
	cfg := EntropyConfig{Window: 20, Order: 3, Delay: 1, Normalize: true}

	ent, err := RollingPermutationEntropy(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < cfg.Window-1; i++ {
		if !math.IsNaN(ent.Values[i]) {
			t.Fatalf("entropy[%d] = %v, want NaN before the window fills", i, ent.Values[i])
		}
	}
	for i := cfg.Window - 1; i < n; i++ {
		if ent.Values[i] != 0 {
			t.Errorf("entropy[%d] = %v, want 0 for a monotone series", i, ent.Values[i])
		}
	}
}

func TestPermutationEntropyNoisyIsHigh(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := 200
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = rng.NormFloat64()
	}
	s, _ := timeseries.NewSeries("x", testDates(n), vals)
	cfg := EntropyConfig{Window: 120, Order: 3, Delay: 1, Normalize: true}

	ent, err := RollingPermutationEntropy(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	last := ent.Values[n-1]
	if math.IsNaN(last) {
		t.Fatal("entropy undefined at the end of a full series")
	}
	if last < 0.8 || last > 1 {
		t.Errorf("entropy = %v, want near 1 for white noise", last)
	}
}

func TestPermutationEntropySkipsNaNWindows(t *testing.T) {
	n := 40
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = float64(i % 5)
	}
	vals[25] = math.NaN()
	s, _ := timeseries.NewSeries("x", testDates(n), vals)
	cfg := EntropyConfig{Window: 10, Order: 3, Delay: 1, Normalize: true}

	ent, err := RollingPermutationEntropy(s, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i := 25; i < 35; i++ {
		if !math.IsNaN(ent.Values[i]) {
			t.Errorf("entropy[%d] = %v, want NaN while the window covers a gap", i, ent.Values[i])
		}
	}
	if math.IsNaN(ent.Values[35]) {
		t.Error("entropy should recover once the gap leaves the window")
	}
}

func TestPermutationEntropyValidation(t *testing.T) {
	s, _ := timeseries.NewSeries("x", testDates(10), make([]float64, 10))
	if _, err := RollingPermutationEntropy(s, EntropyConfig{Window: 4, Order: 1, Delay: 1}); err == nil {
		t.Error("expected error for order < 2")
	}
	if _, err := RollingPermutationEntropy(s, EntropyConfig{Window: 4, Order: 3, Delay: 1}); err == nil {
		t.Error("expected error for window < 2*order")
	}
}

func TestEntropyRegimeSignalFlagsSpike(t *testing.T) {
	n := 60
	vals := make([]float64, n)
	for i := range vals {
		// Mild variation around 0.5, then a spike.
		vals[i] = 0.5 + 0.01*float64(i%3)
	}
	vals[n-1] = 1.0
	ent, _ := timeseries.NewSeries("perm_entropy", testDates(n), vals)
	cfg := EntropySignalConfig{ThresholdStd: 1.5, RollingWindow: 20, MinPeriods: 10}

	flag := EntropyRegimeSignal(ent, cfg, nil)
	if flag.Values[n-1] != 1 {
		t.Errorf("flag at spike = %v, want 1", flag.Values[n-1])
	}
	if flag.Values[n-2] != 0 {
		t.Errorf("flag before spike = %v, want 0", flag.Values[n-2])
	}
	for i := 0; i < cfg.MinPeriods-1; i++ {
		if !math.IsNaN(flag.Values[i]) {
			t.Fatalf("flag[%d] defined before rolling stats exist", i)
		}
	}
}
