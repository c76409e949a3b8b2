package models

import (
	"math"
	"time"
)

// Feature is one named value of a row together with the moment its inputs
// were known. A zero AvailableAt means known a priori (calendar features).
type Feature struct {
	Name        string
	Value       float64 // NaN means missing
	AvailableAt time.Time
}

func (f Feature) Missing() bool { return math.IsNaN(f.Value) }

// FeatureRow is one model-ready hour.
type FeatureRow struct {
	Timestamp time.Time
	Features  []Feature
	Target    float64 // NaN when the price is not published yet
}

// Value returns the named feature value and whether the column exists.
func (r FeatureRow) Value(name string) (float64, bool) {
	for _, f := range r.Features {
		if f.Name == name {
			return f.Value, true
		}
	}
	return math.NaN(), false
}

func (r FeatureRow) HasTarget() bool { return !math.IsNaN(r.Target) }

// FeatureTable is an ordered, hour-unique set of rows sharing one column order.
type FeatureTable struct {
	Version int
	Columns []string
	Rows    []FeatureRow
}

func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Matrix returns the feature values in column order. Missing values stay NaN.
func (t *FeatureTable) Matrix() [][]float64 {
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]float64, len(t.Columns))
		for j := range t.Columns {
			if j < len(r.Features) {
				row[j] = r.Features[j].Value
			} else {
				row[j] = math.NaN()
			}
		}
		out[i] = row
	}
	return out
}

// Targets returns the target column.
func (t *FeatureTable) Targets() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Target
	}
	return out
}

// Slice returns rows with from <= Timestamp < to.
func (t *FeatureTable) Slice(from, to time.Time) *FeatureTable {
	out := &FeatureTable{Version: t.Version, Columns: t.Columns}
	for _, r := range t.Rows {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}
