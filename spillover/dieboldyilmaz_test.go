package spillover

import (
	"math"
	"math/rand"
	"testing"

	"jgb-regime-go/timeseries"
)

func TestComputeSpilloverIndexProperties(t *testing.T) {
	p := var1Panel(t, 600, 37)
	cfg := DefaultSpilloverConfig()

	idx, err := ComputeSpilloverIndex(p, cfg)
	if err != nil {
		t.Fatal(err)
	}
	k := len(idx.Names)
	for i := 0; i < k; i++ {
		rowSum := 0.0
		for j := 0; j < k; j++ {
			if idx.Table[i][j] < 0 {
				t.Fatalf("table[%d][%d] = %v, want >= 0", i, j, idx.Table[i][j])
			}
			rowSum += idx.Table[i][j]
		}
		if math.Abs(rowSum-1) > 1e-9 {
			t.Errorf("row %d sums to %v, want 1 after normalisation", i, rowSum)
		}
	}
	if idx.Total < 0 || idx.Total > 100 {
		t.Errorf("total spillover = %v, outside [0, 100]", idx.Total)
	}
	// x drives y, so x should be a net transmitter.
	if idx.Net["x"] <= 0 {
		t.Errorf("net[x] = %v, want positive for the driving variable", idx.Net["x"])
	}
	netSum := 0.0
	for _, v := range idx.Net {
		netSum += v
	}
	if math.Abs(netSum) > 1e-9 {
		t.Errorf("net contributions sum to %v, want 0", netSum)
	}
}

func TestComputeSpilloverIndexNeedsTwoVariables(t *testing.T) {
	p := var1Panel(t, 300, 7)
	single, err := p.Select("x")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ComputeSpilloverIndex(single, DefaultSpilloverConfig()); err == nil {
		t.Error("expected error for a single-variable panel")
	}
}

func TestRollingSpillover(t *testing.T) {
	p := var1Panel(t, 400, 43)
	cfg := DefaultSpilloverConfig()

	rolling, err := RollingSpillover(p, 200, cfg)
	if err != nil {
		t.Fatal(err)
	}
	wantLen := p.Rows() - 200 + 1
	if rolling.Len() != wantLen {
		t.Fatalf("rolling length = %d, want %d", rolling.Len(), wantLen)
	}
	if !rolling.Dates[0].Equal(p.Dates[199]) {
		t.Error("rolling index must start at the first full window")
	}
	for i, v := range rolling.Values {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("rolling[%d] = %v, outside [0, 100]", i, v)
		}
	}
}

func TestIndependentNoiseShowsLittleSpillover(t *testing.T) {
	// Three uncorrelated white-noise series should show neither a high
	// spillover total nor broad Granger significance.
	rng := rand.New(rand.NewSource(53))
	n := 300
	dates := testDates(n)
	cols := make([]timeseries.Series, 3)
	for j, name := range []string{"a", "b", "c"} {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = rng.NormFloat64()
		}
		s, err := timeseries.NewSeries(name, dates, vals)
		if err != nil {
			t.Fatal(err)
		}
		cols[j] = s
	}
	p, err := timeseries.Align(cols...)
	if err != nil {
		t.Fatal(err)
	}

	idx, err := ComputeSpilloverIndex(p, DefaultSpilloverConfig())
	if err != nil {
		t.Fatal(err)
	}
	if idx.Total >= 50 {
		t.Errorf("total spillover = %v for independent noise, want well below 50", idx.Total)
	}

	results, err := PairwiseGranger(p, 5, 0.05, nil)
	if err != nil {
		t.Fatal(err)
	}
	significant := 0
	for _, r := range results {
		if r.Significant {
			significant++
		}
	}
	if significant > 2 {
		t.Errorf("%d of %d pairs significant for independent noise, want few or none",
			significant, len(results))
	}
}
