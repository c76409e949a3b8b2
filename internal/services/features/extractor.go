package features

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// pricePoint is one cleaned price with the moment it became known.
type pricePoint struct {
	value       float64
	availableAt time.Time
}

// priceHistory indexes cleaned prices by hour for lag and window lookups.
type priceHistory map[int64]pricePoint

func hourKey(t time.Time) int64 { return t.UTC().Unix() / 3600 }

// at returns the price k hours before ts if it was known strictly before ts.
func (h priceHistory) at(ts time.Time, k int) (pricePoint, bool) {
	p, ok := h[hourKey(ts)-int64(k)]
	if !ok || math.IsNaN(p.value) || !p.availableAt.Before(ts) {
		return pricePoint{}, false
	}
	return p, true
}

// window collects the w hours [ts-w, ts-1h]. It reports false if any hour is
// missing, so callers never compute a statistic over a partial window.
func (h priceHistory) window(ts time.Time, w int) ([]float64, time.Time, bool) {
	vals := make([]float64, 0, w)
	var avail time.Time
	for k := w; k >= 1; k-- {
		p, ok := h.at(ts, k)
		if !ok {
			return nil, time.Time{}, false
		}
		vals = append(vals, p.value)
		if p.availableAt.After(avail) {
			avail = p.availableAt
		}
	}
	return vals, avail, true
}

type windowStats struct {
	mean, std, min, max float64
}

// computeWindowStats uses the sample standard deviation, matching the
// usual rolling-window convention.
func computeWindowStats(vals []float64) windowStats {
	mean, std := stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		std = 0
	}
	return windowStats{mean: mean, std: std, min: floats.Min(vals), max: floats.Max(vals)}
}

// cyclical encodes v on a circle of the given period.
func cyclical(v, period float64) (sin, cos float64) {
	angle := 2 * math.Pi * v / period
	return math.Sin(angle), math.Cos(angle)
}
