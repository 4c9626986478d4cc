// Package features turns OHLCV series into model-ready feature frames.
package features

import (
	"fmt"
	"math"
	"time"

	"github.com/niveshlabs/nivesh/internal/domain"
)

// LabelColumn is the forward-return target appended by AddForwardReturnLabel.
const LabelColumn = "label"

// Frame is a column-oriented feature table aligned to bar timestamps. All
// columns have the same length as Times.
type Frame struct {
	Ticker   string                 `msgpack:"ticker"`
	Interval domain.Interval        `msgpack:"interval"`
	Times    []time.Time            `msgpack:"times"`
	Names    []string               `msgpack:"names"`
	Cols     map[string][]float64   `msgpack:"cols"`
	// Closes is the raw close path aligned to Times, kept for labeling and
	// level math; it is not a model feature.
	Closes  []float64 `msgpack:"closes"`
	BuiltAt time.Time `msgpack:"built_at"`
}

func newFrame(ticker string, interval domain.Interval, times []time.Time) *Frame {
	return &Frame{
		Ticker:   ticker,
		Interval: interval,
		Times:    times,
		Cols:     make(map[string][]float64),
		BuiltAt:  time.Now(),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Times) }

// add registers a column; the engine only calls it with aligned slices.
func (f *Frame) add(name string, values []float64) {
	f.Names = append(f.Names, name)
	f.Cols[name] = values
}

// Column returns a feature column or an error naming the missing column.
func (f *Frame) Column(name string) ([]float64, error) {
	col, ok := f.Cols[name]
	if !ok {
		return nil, fmt.Errorf("frame has no column %q", name)
	}
	return col, nil
}

// FeatureNames returns the feature columns in insertion order, excluding
// the label.
func (f *Frame) FeatureNames() []string {
	names := make([]string, 0, len(f.Names))
	for _, n := range f.Names {
		if n != LabelColumn {
			names = append(names, n)
		}
	}
	return names
}

// Row returns row i across the given columns.
func (f *Frame) Row(i int, names []string) []float64 {
	row := make([]float64, len(names))
	for j, n := range names {
		row[j] = f.Cols[n][i]
	}
	return row
}

// Matrix returns the frame as rows × named columns.
func (f *Frame) Matrix(names []string) [][]float64 {
	rows := make([][]float64, f.Len())
	for i := range rows {
		rows[i] = f.Row(i, names)
	}
	return rows
}

// slice keeps rows [lo, hi) across every column.
func (f *Frame) slice(lo, hi int) {
	f.Times = f.Times[lo:hi]
	if len(f.Closes) > 0 {
		f.Closes = f.Closes[lo:hi]
	}
	for name, col := range f.Cols {
		f.Cols[name] = col[lo:hi]
	}
}

// Clean drops every row containing a NaN or Inf in any column. Rows are
// never forward-filled; a gappy upstream must not fabricate training
// samples.
func (f *Frame) Clean() {
	keep := make([]int, 0, f.Len())
rows:
	for i := 0; i < f.Len(); i++ {
		for _, name := range f.Names {
			v := f.Cols[name][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue rows
			}
		}
		keep = append(keep, i)
	}
	if len(keep) == f.Len() {
		return
	}

	times := make([]time.Time, len(keep))
	cols := make(map[string][]float64, len(f.Cols))
	for name := range f.Cols {
		cols[name] = make([]float64, len(keep))
	}
	var closes []float64
	if len(f.Closes) > 0 {
		closes = make([]float64, len(keep))
	}
	for j, i := range keep {
		times[j] = f.Times[i]
		if closes != nil {
			closes[j] = f.Closes[i]
		}
		for name := range f.Cols {
			cols[name][j] = f.Cols[name][i]
		}
	}
	f.Times = times
	f.Closes = closes
	f.Cols = cols
}
