package model

import (
	"math"

	"SE3Price/internal/domain/models"

	"gonum.org/v1/gonum/stat"
)

// mapeFloor skips hours whose absolute price is too close to zero for a
// percentage error to mean anything.
const mapeFloor = 1.0

// Evaluate scores predictions against actual values.
func Evaluate(actual, predicted []float64) models.SplitMetrics {
	m := models.SplitMetrics{Rows: len(actual)}
	if len(actual) == 0 || len(actual) != len(predicted) {
		return m
	}
	var absSum, pctSum float64
	var pctN int
	for i, y := range actual {
		e := math.Abs(y - predicted[i])
		absSum += e
		if math.Abs(y) >= mapeFloor {
			pctSum += e / math.Abs(y)
			pctN++
		}
	}
	m.MAE = absSum / float64(len(actual))
	m.RMSE = rmse(actual, predicted)
	if len(actual) > 1 {
		// undefined for a constant target
		if r2 := stat.RSquaredFrom(predicted, actual, nil); !math.IsNaN(r2) && !math.IsInf(r2, 0) {
			m.R2 = r2
		}
	}
	if pctN > 0 {
		m.MAPE = 100 * pctSum / float64(pctN)
	}
	return m
}

func rmse(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	var s float64
	for i, y := range actual {
		d := y - predicted[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(actual)))
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return stat.Mean(v, nil)
}
