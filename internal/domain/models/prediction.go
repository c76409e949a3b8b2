package models

import "time"

type Mode string

const (
	ModeForecast Mode = "forecast"
	ModeBacktest Mode = "backtest"
)

// PredictionRecord is one line of the published prediction artifact.
type PredictionRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	PredictedPrice float64   `json:"predicted_price"`
	Mode           Mode      `json:"mode"`
	ActualPrice    *float64  `json:"actual_price,omitempty"`
	Error          *float64  `json:"error,omitempty"`
	AbsError       *float64  `json:"abs_error,omitempty"`
}

// WithActual fills the backtest fields; error is actual minus predicted.
func (p PredictionRecord) WithActual(actual float64) PredictionRecord {
	e := actual - p.PredictedPrice
	abs := e
	if abs < 0 {
		abs = -abs
	}
	p.ActualPrice = &actual
	p.Error = &e
	p.AbsError = &abs
	return p
}

// InferenceResult bundles one inference run.
type InferenceResult struct {
	GeneratedAt  time.Time
	ModelVersion string
	Records      []PredictionRecord
	Cheapest     []PredictionRecord
	BacktestMAE  *float64
}

// Forecasts returns only mode=forecast records.
func Forecasts(records []PredictionRecord) []PredictionRecord {
	return filterMode(records, ModeForecast)
}

// Backtests returns only mode=backtest records.
func Backtests(records []PredictionRecord) []PredictionRecord {
	return filterMode(records, ModeBacktest)
}

func filterMode(records []PredictionRecord, m Mode) []PredictionRecord {
	out := make([]PredictionRecord, 0, len(records))
	for _, r := range records {
		if r.Mode == m {
			out = append(out, r)
		}
	}
	return out
}
