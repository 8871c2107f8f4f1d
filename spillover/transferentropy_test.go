package spillover

import (
	"math/rand"
	"testing"

	"jgb-regime-go/timeseries"
)

// coupledSeries makes target follow source with a one-step delay.
func coupledSeries(t *testing.T, n int, seed int64) (timeseries.Series, timeseries.Series) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	src := make([]float64, n)
	tgt := make([]float64, n)
	for i := range src {
		src[i] = rng.NormFloat64()
		if i > 0 {
			tgt[i] = src[i-1]
		}
	}
	dates := testDates(n)
	s, _ := timeseries.NewSeries("src", dates, src)
	g, _ := timeseries.NewSeries("tgt", dates, tgt)
	return s, g
}

func TestTransferEntropyDirectional(t *testing.T) {
	src, tgt := coupledSeries(t, 600, 19)
	cfg := DefaultTransferEntropyConfig()

	forward, err := ComputeTransferEntropy(src, tgt, cfg)
	if err != nil {
		t.Fatal(err)
	}
	backward, err := ComputeTransferEntropy(tgt, src, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if forward <= backward {
		t.Errorf("TE(src->tgt) = %v should exceed TE(tgt->src) = %v", forward, backward)
	}
	if forward < 0.1 {
		t.Errorf("TE(src->tgt) = %v, want substantial flow for a copied signal", forward)
	}
	if backward < 0 {
		t.Errorf("TE = %v, must be clipped at 0", backward)
	}
}

func TestTransferEntropyAlignsByDate(t *testing.T) {
	// The target index starts five days after the source's; pairing by
	// position would shift the coupling out of reach, pairing by date
	// keeps it at lag one.
	rng := rand.New(rand.NewSource(47))
	n := 605
	dates := testDates(n)
	srcVals := make([]float64, n)
	for i := range srcVals {
		srcVals[i] = rng.NormFloat64()
	}
	tgtVals := make([]float64, n-5)
	for i := range tgtVals {
		tgtVals[i] = srcVals[i+4] // value one day before the matching date
	}
	src, err := timeseries.NewSeries("src", dates, srcVals)
	if err != nil {
		t.Fatal(err)
	}
	tgt, err := timeseries.NewSeries("tgt", dates[5:], tgtVals)
	if err != nil {
		t.Fatal(err)
	}

	te, err := ComputeTransferEntropy(src, tgt, DefaultTransferEntropyConfig())
	if err != nil {
		t.Fatal(err)
	}
	if te < 0.1 {
		t.Errorf("TE = %v, want substantial flow once dates are aligned", te)
	}
}

func TestTransferEntropyShortSampleIsZero(t *testing.T) {
	src, tgt := coupledSeries(t, 8, 3)
	te, err := ComputeTransferEntropy(src, tgt, DefaultTransferEntropyConfig())
	if err != nil {
		t.Fatal(err)
	}
	if te != 0 {
		t.Errorf("TE on a short sample = %v, want 0", te)
	}
}

func TestPairwiseTransferEntropyMatrix(t *testing.T) {
	src, tgt := coupledSeries(t, 400, 29)
	p, err := timeseries.Align(src, tgt)
	if err != nil {
		t.Fatal(err)
	}

	matrix, edges, err := PairwiseTransferEntropy(p, DefaultTransferEntropyConfig())
	if err != nil {
		t.Fatal(err)
	}
	if matrix[0][0] != 0 || matrix[1][1] != 0 {
		t.Error("diagonal must stay zero")
	}
	if len(edges) != 2 {
		t.Fatalf("edges = %d, want 2", len(edges))
	}
	// Sorted descending by flow; the causal direction comes first.
	if edges[0].Source != "src" || edges[0].Target != "tgt" {
		t.Errorf("top edge = %s->%s, want src->tgt", edges[0].Source, edges[0].Target)
	}
	if edges[0].Nats < edges[1].Nats {
		t.Error("edges must be sorted by flow")
	}
}

func TestInformationFlowNetwork(t *testing.T) {
	edges := []TransferEntropyEdge{
		{Source: "a", Target: "b", Nats: 0.5},
		{Source: "b", Target: "a", Nats: 0.01},
	}
	kept := InformationFlowNetwork(edges, 0.05)
	if len(kept) != 1 || kept[0].Source != "a" {
		t.Errorf("kept = %+v, want only the strong edge", kept)
	}
}
