package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/services/model"
	"SE3Price/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trainCols = []string{"hour", "load_forecast", "price_lag_168h_missing"}

// trainingTable has n hourly rows from t0. The first warmup rows carry the
// incomplete-history flag and the last noTarget rows have no price yet.
func trainingTable(t0 time.Time, n, warmup, noTarget int) *models.FeatureTable {
	table := &models.FeatureTable{Version: 1, Columns: trainCols}
	for i := 0; i < n; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		hour := float64(ts.Hour())
		load := 1000 + 100*float64(i%7)
		flag := 0.0
		if i < warmup {
			flag = 1
		}
		target := 20 + 2*hour + load/100
		if i >= n-noTarget {
			target = math.NaN()
		}
		table.Rows = append(table.Rows, models.FeatureRow{
			Timestamp: ts,
			Features: []models.Feature{
				{Name: "hour", Value: hour},
				{Name: "load_forecast", Value: load, AvailableAt: ts.Add(-12 * time.Hour)},
				{Name: "price_lag_168h_missing", Value: flag},
			},
			Target: target,
		})
	}
	return table
}

func testTrainingConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	p := &cfg.Training.Params
	p.NumRounds = 40
	p.LearningRate = 0.3
	p.MaxDepth = 4
	p.MinChildWeight = 1
	p.Gamma = 0
	p.Alpha = 0
	p.Subsample = 1
	p.ColSample = 1
	p.MaxBins = 32
	p.EarlyStoppingRounds = 10
	return cfg
}

func TestTrainerRun(t *testing.T) {
	cfg := testTrainingConfig(t)
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := newMemFeatures(trainingTable(t0, 600, 168, 10))
	reg, second := &memRegistry{}, &memRegistry{}
	metrics := newRecMetrics()

	tr := NewTrainer(cfg, store, metrics, nil, reg, second)
	trainedAt := time.Date(2024, 3, 26, 6, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return trainedAt }

	rep, err := tr.Run(context.Background(), t0.Add(600*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, cfg.Training.ModelName, rep.ModelName)
	assert.Equal(t, "20240326T060000Z", rep.ModelVersion)
	assert.True(t, rep.TrainFrom.Equal(t0.Add(168*time.Hour)), "warm-up rows are dropped")
	assert.True(t, rep.TrainTo.Equal(t0.Add(589*time.Hour)), "rows without target are dropped")
	require.Contains(t, rep.Splits, SplitTest)
	assert.Greater(t, rep.Splits[SplitTest].Rows, 0)
	assert.Less(t, rep.Splits[SplitTest].MAE, 5.0)
	assert.Equal(t, "hour", rep.Importance[0].Name)

	require.Len(t, reg.saved, 1)
	require.Len(t, second.saved, 1)
	rec := reg.saved[0]
	assert.Equal(t, rep.ModelVersion, rec.Version)
	assert.Contains(t, rec.Metrics, "test_mae")

	art, err := model.DecodeArtifact(rec.Payload)
	require.NoError(t, err)
	b, err := art.Booster()
	require.NoError(t, err)
	assert.Equal(t, trainCols, b.Features)

	assert.InDelta(t, rep.Splits[SplitTest].MAE, metrics.training["test_mae"], 1e-12)
	assert.Zero(t, metrics.errors["mae_alert"])
}

func TestTrainerAlertsOnHighTestMAE(t *testing.T) {
	cfg := testTrainingConfig(t)
	cfg.Training.MAEAlertThreshold = 1e-9
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	metrics := newRecMetrics()
	reg := &memRegistry{}

	_, err := NewTrainer(cfg, newMemFeatures(trainingTable(t0, 400, 0, 0)), metrics, nil, reg).
		Run(context.Background(), t0.Add(400*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.errors["mae_alert"])
	assert.Len(t, reg.saved, 1, "an alert does not block registration")
}

func TestTrainerTooManyMissingTargets(t *testing.T) {
	cfg := testTrainingConfig(t)
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	metrics := newRecMetrics()
	reg := &memRegistry{}

	_, err := NewTrainer(cfg, newMemFeatures(trainingTable(t0, 300, 0, 100)), metrics, nil, reg).
		Run(context.Background(), t0.Add(300*time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModelTraining)
	assert.Equal(t, 1, metrics.errors["model_training"])
	assert.Empty(t, reg.saved)
}

func TestTrainerEmptyWindow(t *testing.T) {
	cfg := testTrainingConfig(t)
	_, err := NewTrainer(cfg, newMemFeatures(nil), nil, nil, &memRegistry{}).
		Run(context.Background(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, models.ErrModelTraining)
}

func TestTrainerRegistryFailure(t *testing.T) {
	cfg := testTrainingConfig(t)
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	reg := &memRegistry{err: errors.New("clickhouse down")}

	_, err := NewTrainer(cfg, newMemFeatures(trainingTable(t0, 300, 0, 0)), nil, nil, reg).
		Run(context.Background(), t0.Add(300*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save model")
}

func TestTrainableRowsKeepsHistoryWhenNotDropping(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	table := trainingTable(t0, 200, 168, 5)
	assert.Equal(t, 195, trainableRows(table, false).Len())
	assert.Equal(t, 27, trainableRows(table, true).Len())
}
