package models

import (
	"math"
	"time"
)

// FillMethod records how a cleaned value was produced.
type FillMethod string

const (
	FillNone        FillMethod = ""
	FillInterpolate FillMethod = "interpolated"
	FillForward     FillMethod = "forward_fill"
	FillHourMean    FillMethod = "hour_mean"
)

type CleanedPoint struct {
	Timestamp   time.Time
	Value       float64 // NaN only for an unpublished target tail
	Filled      FillMethod
	AvailableAt time.Time
}

func (p CleanedPoint) Missing() bool { return math.IsNaN(p.Value) }

// CleanedSeries holds one value per kept hour in ascending order.
type CleanedSeries struct {
	Key    SeriesKey
	Kind   Kind
	Points []CleanedPoint
}

// CleaningReport summarises what the cleaner did to a frame.
type CleaningReport struct {
	RequestedHours int
	ExcludedHours  int
	Filled         map[FillMethod]int
	Dropped        int // out-of-range values turned into gaps
	Clamped        int
}

// ExcludedFraction is ExcludedHours / RequestedHours.
func (r CleaningReport) ExcludedFraction() float64 {
	if r.RequestedHours == 0 {
		return 0
	}
	return float64(r.ExcludedHours) / float64(r.RequestedHours)
}

// CleanedFrame is a set of series that share the same hourly index.
type CleanedFrame struct {
	Index  []time.Time
	Series map[SeriesKey]*CleanedSeries
	Report CleaningReport
	// TargetHistory holds every known target value in time order, including
	// hours dropped from Index because another series was missing there.
	TargetHistory []CleanedPoint
}

// Lookup returns the series for key, or nil.
func (f *CleanedFrame) Lookup(key SeriesKey) *CleanedSeries {
	if f == nil {
		return nil
	}
	return f.Series[key]
}
