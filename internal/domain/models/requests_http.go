package models

// Requests for dashboard HTTP endpoints.

type PredictionsRequest struct {
	Mode  string `query:"mode" json:"mode" default:"all" validate:"oneof=all forecast backtest"`
	Limit int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

type CheapestRequest struct {
	N int `query:"n" json:"n" default:"4" validate:"gte=1,lte=24"`
}
