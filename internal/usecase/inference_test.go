package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	"SE3Price/internal/services/model"
	"SE3Price/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inferCols = []string{"hour", "load_forecast", "price_lag_1h"}

func inferRow(ts time.Time, target float64) models.FeatureRow {
	hour := float64(ts.Hour())
	return models.FeatureRow{
		Timestamp: ts,
		Features: []models.Feature{
			{Name: "hour", Value: hour},
			{Name: "load_forecast", Value: 1000 + 10*hour, AvailableAt: ts.Add(-12 * time.Hour)},
			{Name: "price_lag_1h", Value: math.NaN()},
		},
		Target: target,
	}
}

// registeredModel trains a small booster where price follows the hour of day.
func registeredModel(t *testing.T, name string) *memRegistry {
	t.Helper()
	var d model.Dataset
	for i := 0; i < 24*20; i++ {
		h := float64(i % 24)
		d.X = append(d.X, []float64{h, 1000 + 10*h, math.NaN()})
		d.Y = append(d.Y, 30+h)
	}
	p := model.DefaultParams()
	p.NumRounds, p.LearningRate, p.MaxDepth, p.MinChildWeight = 60, 0.3, 4, 1
	p.Subsample, p.ColSample, p.EarlyStoppingRounds = 1, 1, 0
	b, err := model.Train(inferCols, d, model.Dataset{}, p)
	require.NoError(t, err)

	art, err := model.NewArtifact(name, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), b, nil)
	require.NoError(t, err)
	payload, err := art.Encode()
	require.NoError(t, err)
	return &memRegistry{saved: []*models.ModelRecord{{Name: name, Version: art.Version, Payload: payload}}}
}

type inferenceFixture struct {
	cfg       *config.Config
	store     *memFeatures
	sink      *fakeSink
	publisher *fakePublisher
	metrics   *recMetrics
	start     time.Time
}

// newInferenceFixture stores a week of realized rows and a full day of
// forecast rows around start.
func newInferenceFixture(t *testing.T) *inferenceFixture {
	t.Helper()
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	start := time.Date(2024, 6, 14, 11, 0, 0, 0, time.UTC)

	table := &models.FeatureTable{Version: 1, Columns: inferCols}
	for ts := start.AddDate(0, 0, -7); ts.Before(start); ts = ts.Add(time.Hour) {
		table.Rows = append(table.Rows, inferRow(ts, 31+float64(ts.Hour())))
	}
	for i := 0; i < 24; i++ {
		table.Rows = append(table.Rows, inferRow(start.Add(time.Duration(i)*time.Hour), math.NaN()))
	}
	return &inferenceFixture{
		cfg:       cfg,
		store:     newMemFeatures(table),
		sink:      &fakeSink{},
		publisher: &fakePublisher{},
		metrics:   newRecMetrics(),
		start:     start,
	}
}

func (f *inferenceFixture) runner(regs ...domrepo.ModelRegistry) *InferenceRunner {
	r := NewInferenceRunner(f.cfg, f.store, f.sink, f.publisher, f.metrics, nil, regs...)
	r.now = func() time.Time { return f.start.Add(-30 * time.Minute) }
	return r
}

func TestInferenceRun(t *testing.T) {
	f := newInferenceFixture(t)
	reg := registeredModel(t, f.cfg.Training.ModelName)

	res, err := f.runner(reg).Run(context.Background(), f.start.Add(-30*time.Minute))
	require.NoError(t, err)

	require.Len(t, res.Records, 7*24+24)
	back, fc := models.Backtests(res.Records), models.Forecasts(res.Records)
	require.Len(t, back, 7*24)
	require.Len(t, fc, 24)
	assert.Equal(t, models.ModeBacktest, res.Records[0].Mode, "backtest rows come first")
	assert.True(t, fc[0].Timestamp.Equal(f.start), "forecast starts at the next full hour")
	assert.True(t, fc[23].Timestamp.Equal(f.start.Add(23*time.Hour)))
	for _, r := range fc {
		assert.Nil(t, r.ActualPrice)
	}

	b := back[0]
	require.NotNil(t, b.ActualPrice)
	assert.InDelta(t, *b.ActualPrice-b.PredictedPrice, *b.Error, 1e-9)
	require.NotNil(t, res.BacktestMAE)
	assert.InDelta(t, 1.0, *res.BacktestMAE, 0.5)

	require.Len(t, res.Cheapest, f.cfg.Inference.CheapestHours)
	for i := 1; i < len(res.Cheapest); i++ {
		assert.LessOrEqual(t, res.Cheapest[i-1].PredictedPrice, res.Cheapest[i].PredictedPrice)
	}
	assert.Equal(t, 0, res.Cheapest[0].Timestamp.Hour(), "midnight UTC is cheapest")

	assert.NotEmpty(t, res.ModelVersion)
	require.Len(t, f.sink.got, 1)
	assert.Len(t, f.publisher.sent, len(res.Records))
	assert.Equal(t, 24, f.metrics.predictions["forecast"])
	assert.Equal(t, 168, f.metrics.predictions["backtest"])
	assert.Equal(t, 1, f.metrics.latency["inference"])
}

func TestInferenceFallsBackToNextRegistry(t *testing.T) {
	f := newInferenceFixture(t)
	res, err := f.runner(&memRegistry{}, registeredModel(t, f.cfg.Training.ModelName)).Run(context.Background(), f.start)
	require.NoError(t, err)
	assert.Len(t, models.Forecasts(res.Records), 24)
}

func TestInferenceWithoutModel(t *testing.T) {
	f := newInferenceFixture(t)
	_, err := f.runner(&memRegistry{}).Run(context.Background(), f.start)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInference)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
	assert.Empty(t, f.sink.got)
	assert.Equal(t, 1, f.metrics.errors["inference"])
}

func TestInferenceIncompleteHorizon(t *testing.T) {
	f := newInferenceFixture(t)
	delete(f.store.rows, f.start.Add(23*time.Hour).Unix())

	_, err := f.runner(registeredModel(t, f.cfg.Training.ModelName)).Run(context.Background(), f.start)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInference)
	assert.Empty(t, f.sink.got)
	assert.Empty(t, f.publisher.sent)
}

func TestInferenceMissingRequiredFeature(t *testing.T) {
	f := newInferenceFixture(t)
	ts := f.start.Add(5 * time.Hour)
	row := f.store.rows[ts.Unix()]
	row.Features[1].Value = math.NaN()
	f.store.rows[ts.Unix()] = row

	_, err := f.runner(registeredModel(t, f.cfg.Training.ModelName)).Run(context.Background(), f.start)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInference)
	assert.Contains(t, err.Error(), "load_forecast")
	assert.Empty(t, f.sink.got)
}

func TestInferenceUnknownModelFeature(t *testing.T) {
	f := newInferenceFixture(t)
	f.store.columns = []string{"hour", "load_forecast", "renamed"}

	_, err := f.runner(registeredModel(t, f.cfg.Training.ModelName)).Run(context.Background(), f.start)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price_lag_1h")
}

func TestInferencePublishFailureIsNotFatal(t *testing.T) {
	f := newInferenceFixture(t)
	f.publisher.err = errors.New("broker unavailable")

	_, err := f.runner(registeredModel(t, f.cfg.Training.ModelName)).Run(context.Background(), f.start)
	require.NoError(t, err)
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, 1, f.metrics.errors["publish"])
}

func TestInferenceSinkFailure(t *testing.T) {
	f := newInferenceFixture(t)
	f.sink.write = func(context.Context, *models.InferenceResult) error { return errors.New("disk full") }

	_, err := f.runner(registeredModel(t, f.cfg.Training.ModelName)).Run(context.Background(), f.start)
	require.Error(t, err)
	assert.Empty(t, f.publisher.sent, "nothing is published when the artifact write fails")
}
