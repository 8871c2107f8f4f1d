package timeseries

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadPanelCSV(t *testing.T) {
	csvText := "date,jgb_10y,ust_10y\n" +
		"2024-01-01,0.61,3.95\n" +
		"2024-01-02,,3.97\n" +
		"2024-01-03,0.63,4.01\n"
	p, err := readPanel(strings.NewReader(csvText), "date")
	if err != nil {
		t.Fatal(err)
	}
	if p.Rows() != 3 || p.Cols() != 2 {
		t.Fatalf("panel shape = %dx%d, want 3x2", p.Rows(), p.Cols())
	}
	if !math.IsNaN(p.At(1, 0)) {
		t.Error("empty cell should load as NaN")
	}
	if p.At(2, 1) != 4.01 {
		t.Errorf("value = %v, want 4.01", p.At(2, 1))
	}
}

func TestReadPanelCSVRejectsUnorderedDates(t *testing.T) {
	csvText := "date,x\n2024-01-02,1\n2024-01-01,2\n"
	if _, err := readPanel(strings.NewReader(csvText), "date"); err == nil {
		t.Error("expected error for decreasing dates")
	}
}

func TestReadPanelCSVMissingDateColumn(t *testing.T) {
	csvText := "day,x\n2024-01-01,1\n"
	if _, err := readPanel(strings.NewReader(csvText), "date"); err == nil {
		t.Error("expected error for missing date column")
	}
}

func TestWriteSeriesCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	s, _ := NewSeries("x", testDates(3), []float64{1.5, math.NaN(), 2.5})

	if err := WriteSeriesCSV(path, s); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header plus 3 rows", len(lines))
	}
	if lines[0] != "date,x" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], ",") {
		t.Errorf("NaN row = %q, want empty trailing cell", lines[2])
	}
}
