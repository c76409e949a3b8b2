package models

import "time"

// ModelRecord is a registered model version. Payload is the encoded regressor.
type ModelRecord struct {
	Name      string
	Version   string
	TrainedAt time.Time
	Metrics   map[string]float64 // e.g. "test_mae"
	Payload   []byte
}

// SplitMetrics are regression scores for one chronological split.
type SplitMetrics struct {
	Rows int     `json:"rows"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
	MAPE float64 `json:"mape"`
}

// TrainingReport is what a training run returns and logs.
type TrainingReport struct {
	ModelName     string
	ModelVersion  string
	TrainedAt     time.Time
	TrainFrom     time.Time
	TrainTo       time.Time
	BestIteration int
	Splits        map[string]SplitMetrics // train, validation, test
	Importance    []FeatureImportance
}

type FeatureImportance struct {
	Name string  `json:"name"`
	Gain float64 `json:"gain"`
}
