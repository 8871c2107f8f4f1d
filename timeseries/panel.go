package timeseries

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Panel is a set of named series sharing one sorted, unique date index.
// The backing matrix is T x K (rows = dates, columns = variables).
type Panel struct {
	Dates []time.Time
	Names []string
	data  *mat.Dense
}

// NewPanel builds a panel from a T x K value matrix.
func NewPanel(dates []time.Time, names []string, values *mat.Dense) (*Panel, error) {
	r, c := values.Dims()
	if r != len(dates) {
		return nil, fmt.Errorf("panel rows (%d) and dates (%d) mismatch", r, len(dates))
	}
	if c != len(names) {
		return nil, fmt.Errorf("panel cols (%d) and names (%d) mismatch", c, len(names))
	}
	for i := 1; i < len(dates); i++ {
		if !dates[i].After(dates[i-1]) {
			return nil, fmt.Errorf("panel dates must be strictly increasing at %d", i)
		}
	}
	return &Panel{Dates: dates, Names: names, data: values}, nil
}

// Align builds a panel on the union of the input series' dates, filling NaN
// where a series has no observation.
func Align(series ...Series) (*Panel, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("no series to align")
	}
	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, s := range series {
		for _, d := range s.Dates {
			if _, ok := seen[d]; !ok {
				seen[d] = struct{}{}
				dates = append(dates, d)
			}
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	names := make([]string, len(series))
	values := mat.NewDense(len(dates), len(series), nil)
	for j, s := range series {
		names[j] = s.Name
		pos := make(map[time.Time]int, len(s.Dates))
		for i, d := range s.Dates {
			pos[d] = i
		}
		for i, d := range dates {
			if k, ok := pos[d]; ok {
				values.Set(i, j, s.Values[k])
			} else {
				values.Set(i, j, math.NaN())
			}
		}
	}
	return NewPanel(dates, names, values)
}

// Rows returns the number of observations.
func (p *Panel) Rows() int { return len(p.Dates) }

// Cols returns the number of variables.
func (p *Panel) Cols() int { return len(p.Names) }

// At returns the value at row i, column j.
func (p *Panel) At(i, j int) float64 { return p.data.At(i, j) }

// Mat returns a copy of the backing matrix.
func (p *Panel) Mat() *mat.Dense {
	out := mat.NewDense(p.Rows(), p.Cols(), nil)
	out.Copy(p.data)
	return out
}

// ColumnIndex returns the position of name, or -1.
func (p *Panel) ColumnIndex(name string) int {
	for j, n := range p.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// Column extracts one variable as a Series.
func (p *Panel) Column(name string) (Series, error) {
	j := p.ColumnIndex(name)
	if j < 0 {
		return Series{}, fmt.Errorf("panel has no column %q", name)
	}
	values := make([]float64, p.Rows())
	mat.Col(values, j, p.data)
	return Series{Name: name, Dates: append([]time.Time(nil), p.Dates...), Values: values}, nil
}

// ColumnAt extracts the j-th variable as a Series.
func (p *Panel) ColumnAt(j int) Series {
	values := make([]float64, p.Rows())
	mat.Col(values, j, p.data)
	return Series{Name: p.Names[j], Dates: append([]time.Time(nil), p.Dates...), Values: values}
}

// Select returns a panel restricted to the named columns, in that order.
func (p *Panel) Select(names ...string) (*Panel, error) {
	values := mat.NewDense(p.Rows(), len(names), nil)
	for j, name := range names {
		src := p.ColumnIndex(name)
		if src < 0 {
			return nil, fmt.Errorf("panel has no column %q", name)
		}
		for i := 0; i < p.Rows(); i++ {
			values.Set(i, j, p.data.At(i, src))
		}
	}
	return NewPanel(append([]time.Time(nil), p.Dates...), append([]string(nil), names...), values)
}

// DropNaN returns a panel with every row containing a NaN removed.
func (p *Panel) DropNaN() *Panel {
	var keep []int
	for i := 0; i < p.Rows(); i++ {
		ok := true
		for j := 0; j < p.Cols(); j++ {
			if math.IsNaN(p.data.At(i, j)) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return &Panel{Names: append([]string(nil), p.Names...)}
	}
	dates := make([]time.Time, len(keep))
	values := mat.NewDense(len(keep), p.Cols(), nil)
	for r, i := range keep {
		dates[r] = p.Dates[i]
		for j := 0; j < p.Cols(); j++ {
			values.Set(r, j, p.data.At(i, j))
		}
	}
	out, _ := NewPanel(dates, append([]string(nil), p.Names...), values)
	return out
}

// Diff returns the first-differenced panel, one row shorter. The panel must
// have at least two rows.
func (p *Panel) Diff() *Panel {
	rows := p.Rows() - 1
	dates := make([]time.Time, rows)
	values := mat.NewDense(rows, p.Cols(), nil)
	for i := 0; i < rows; i++ {
		dates[i] = p.Dates[i+1]
		for j := 0; j < p.Cols(); j++ {
			values.Set(i, j, p.data.At(i+1, j)-p.data.At(i, j))
		}
	}
	out, _ := NewPanel(dates, append([]string(nil), p.Names...), values)
	return out
}

// Slice returns the row range [lo, hi) as a panel sharing no storage with p.
func (p *Panel) Slice(lo, hi int) *Panel {
	dates := append([]time.Time(nil), p.Dates[lo:hi]...)
	values := mat.NewDense(hi-lo, p.Cols(), nil)
	for i := lo; i < hi; i++ {
		for j := 0; j < p.Cols(); j++ {
			values.Set(i-lo, j, p.data.At(i, j))
		}
	}
	out, _ := NewPanel(dates, append([]string(nil), p.Names...), values)
	return out
}
