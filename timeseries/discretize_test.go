package timeseries

import "testing"

func TestDiscretizeQuantileBins(t *testing.T) {
	vals := make([]float64, 9)
	for i := range vals {
		vals[i] = float64(i)
	}
	s, _ := NewSeries("x", testDates(9), vals)

	codes, fallback, err := Discretize(s, 3)
	if err != nil {
		t.Fatal(err)
	}
	if fallback {
		t.Error("distinct values should not need the equal-width fallback")
	}
	if len(codes) != 9 {
		t.Fatalf("codes length = %d, want 9", len(codes))
	}
	if codes[0] != 0 || codes[8] != 2 {
		t.Errorf("extreme codes = %d, %d, want 0 and 2", codes[0], codes[8])
	}
	for i := 1; i < len(codes); i++ {
		if codes[i] < codes[i-1] {
			t.Fatal("codes of a sorted input must be non-decreasing")
		}
	}
}

func TestDiscretizeFallbackOnTies(t *testing.T) {
	// Heavy ties collapse the tercile edges.
	vals := []float64{1, 1, 1, 1, 1, 1, 1, 1, 5}
	s, _ := NewSeries("x", testDates(9), vals)

	_, fallback, err := Discretize(s, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !fallback {
		t.Error("tied values should trigger the equal-width fallback")
	}
}

func TestDiscretizeTooFewObservations(t *testing.T) {
	s, _ := NewSeries("x", testDates(2), []float64{1, 2})
	if _, _, err := Discretize(s, 3); err == nil {
		t.Error("expected insufficient data error")
	}
}
