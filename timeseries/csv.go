package timeseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ReadPanelCSV loads a daily panel from a CSV file with a header row. The
// date column holds YYYY-MM-DD dates in increasing order; every other column
// is a series. Empty cells and "NaN" become missing values.
func ReadPanelCSV(path, dateColumn string) (*Panel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open panel: %w", err)
	}
	defer f.Close()
	return readPanel(f, dateColumn)
}

func readPanel(r io.Reader, dateColumn string) (*Panel, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	dateIdx := -1
	var names []string
	for i, col := range header {
		if col == dateColumn {
			dateIdx = i
			continue
		}
		names = append(names, col)
	}
	if dateIdx < 0 {
		return nil, fmt.Errorf("date column %q not found in header", dateColumn)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("panel has no series columns")
	}

	var dates []time.Time
	var rows [][]float64
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		dt, err := time.Parse("2006-01-02", record[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: parse date %q: %w", line, record[dateIdx], err)
		}
		if len(dates) > 0 && !dt.After(dates[len(dates)-1]) {
			return nil, fmt.Errorf("row %d: dates must be strictly increasing", line)
		}
		row := make([]float64, 0, len(names))
		for i, cell := range record {
			if i == dateIdx {
				continue
			}
			if cell == "" || cell == "NaN" || cell == "nan" {
				row = append(row, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", line, header[i], err)
			}
			row = append(row, v)
		}
		dates = append(dates, dt)
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: panel is empty", ErrInsufficientData)
	}

	data := mat.NewDense(len(rows), len(names), nil)
	for i, row := range rows {
		data.SetRow(i, row)
	}
	return NewPanel(dates, names, data)
}

// WriteSeriesCSV writes one or more date-aligned series as a CSV with a
// shared date column. Missing values are written as empty cells.
func WriteSeriesCSV(path string, series ...Series) error {
	if len(series) == 0 {
		return fmt.Errorf("no series to write")
	}
	for _, s := range series[1:] {
		if s.Len() != series[0].Len() {
			return fmt.Errorf("series %q length %d does not match %q length %d",
				s.Name, s.Len(), series[0].Name, series[0].Len())
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, 0, len(series)+1)
	header = append(header, "date")
	for _, s := range series {
		header = append(header, s.Name)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, len(header))
	for i := range series[0].Dates {
		row[0] = series[0].Dates[i].Format("2006-01-02")
		for j, s := range series {
			v := s.Values[i]
			if math.IsNaN(v) {
				row[j+1] = ""
			} else {
				row[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
