package forecast

import (
	"sort"

	"SE3Price/internal/domain/models"
)

// CheapestHours returns the n forecast records with the lowest predicted
// price, ascending by price. Equal prices keep the earlier hour first.
func CheapestHours(records []models.PredictionRecord, n int) []models.PredictionRecord {
	fc := models.Forecasts(records)
	sort.SliceStable(fc, func(i, j int) bool {
		if fc[i].PredictedPrice != fc[j].PredictedPrice {
			return fc[i].PredictedPrice < fc[j].PredictedPrice
		}
		return fc[i].Timestamp.Before(fc[j].Timestamp)
	})
	if n < 0 {
		n = 0
	}
	if n < len(fc) {
		fc = fc[:n]
	}
	return fc
}

// Summary is the headline view of a forecast.
type Summary struct {
	Hours        int      `json:"hours"`
	AvgPredicted float64  `json:"avg_predicted"`
	MinPredicted float64  `json:"min_predicted"`
	MaxPredicted float64  `json:"max_predicted"`
	BacktestMAE  *float64 `json:"backtest_mae,omitempty"`
	BacktestRows int      `json:"backtest_rows"`
}

// Summarize describes forecast rows when present, otherwise backtest rows.
func Summarize(records []models.PredictionRecord) Summary {
	var s Summary
	shown := models.Forecasts(records)
	if len(shown) == 0 {
		shown = models.Backtests(records)
	}
	for i, r := range shown {
		if i == 0 || r.PredictedPrice < s.MinPredicted {
			s.MinPredicted = r.PredictedPrice
		}
		if i == 0 || r.PredictedPrice > s.MaxPredicted {
			s.MaxPredicted = r.PredictedPrice
		}
		s.AvgPredicted += r.PredictedPrice
	}
	if len(shown) > 0 {
		s.AvgPredicted /= float64(len(shown))
	}
	s.Hours = len(shown)

	var absSum float64
	for _, r := range models.Backtests(records) {
		if r.AbsError == nil {
			continue
		}
		absSum += *r.AbsError
		s.BacktestRows++
	}
	if s.BacktestRows > 0 {
		mae := absSum / float64(s.BacktestRows)
		s.BacktestMAE = &mae
	}
	return s
}
