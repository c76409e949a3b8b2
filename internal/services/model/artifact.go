package model

import (
	"encoding/json"
	"fmt"
	"time"

	"SE3Price/internal/domain/models"
)

const versionLayout = "20060102T150405Z"

// Artifact is the persisted form of a trained model: the booster plus what is
// needed to audit it later.
type Artifact struct {
	Name       string                         `json:"name"`
	Version    string                         `json:"version"`
	TrainedAt  time.Time                      `json:"trained_at"`
	TrainFrom  time.Time                      `json:"train_from"`
	TrainTo    time.Time                      `json:"train_to"`
	Metrics    map[string]models.SplitMetrics `json:"metrics"`
	Importance []models.FeatureImportance     `json:"feature_importance"`
	Model      json.RawMessage                `json:"model"`
}

// Version derives a sortable version string from the training time.
func Version(trainedAt time.Time) string {
	return trainedAt.UTC().Format(versionLayout)
}

func NewArtifact(name string, trainedAt time.Time, b *Booster, metrics map[string]models.SplitMetrics) (*Artifact, error) {
	raw, err := b.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode booster: %w", err)
	}
	return &Artifact{
		Name:       name,
		Version:    Version(trainedAt),
		TrainedAt:  trainedAt.UTC(),
		Metrics:    metrics,
		Importance: b.Importance(),
		Model:      raw,
	}, nil
}

func (a *Artifact) Encode() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// Booster decodes and validates the embedded model.
func (a *Artifact) Booster() (*Booster, error) {
	return Decode(a.Model)
}

// FlatMetrics flattens split scores to "<split>_<metric>" keys.
func (a *Artifact) FlatMetrics() map[string]float64 {
	out := make(map[string]float64, len(a.Metrics)*4)
	for split, m := range a.Metrics {
		out[split+"_mae"] = m.MAE
		out[split+"_rmse"] = m.RMSE
		out[split+"_r2"] = m.R2
		out[split+"_mape"] = m.MAPE
	}
	return out
}

func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if len(a.Model) == 0 {
		return nil, fmt.Errorf("decode model artifact: no model payload")
	}
	return &a, nil
}
