package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	"SE3Price/internal/services/features"
	"SE3Price/internal/services/forecast"
	"SE3Price/internal/services/model"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
	xutil "SE3Price/pkg/util"
)

// InferenceRunner scores the next horizon with the latest model, backtests the
// recent past and publishes the result.
type InferenceRunner struct {
	store      domrepo.FeatureStore
	registries []domrepo.ModelRegistry
	sink       domrepo.PredictionSink
	publisher  domrepo.PredictionPublisher
	metrics    domrepo.Metrics
	name       string
	horizon    int
	backtest   int
	cheapest   int
	now        func() time.Time
	l          *applogger.Logger
}

// NewInferenceRunner loads the model from the first registry that has it.
// publisher may be nil.
func NewInferenceRunner(
	cfg *config.Config,
	store domrepo.FeatureStore,
	sink domrepo.PredictionSink,
	publisher domrepo.PredictionPublisher,
	metrics domrepo.Metrics,
	l *applogger.Logger,
	registries ...domrepo.ModelRegistry,
) *InferenceRunner {
	if l == nil {
		l = applogger.Nop()
	}
	return &InferenceRunner{
		store:      store,
		registries: registries,
		sink:       sink,
		publisher:  publisher,
		metrics:    metrics,
		name:       cfg.Training.ModelName,
		horizon:    cfg.Inference.HorizonHours,
		backtest:   cfg.Inference.BacktestDays,
		cheapest:   cfg.Inference.CheapestHours,
		now:        time.Now,
		l:          l,
	}
}

// Run forecasts the horizon starting at the first full hour at or after asOf.
// Nothing is written when any step fails.
func (r *InferenceRunner) Run(ctx context.Context, asOf time.Time) (*models.InferenceResult, error) {
	started := time.Now()
	start := xutil.HourFloor(asOf.UTC())
	if start.Before(asOf) {
		start = start.Add(time.Hour)
	}

	art, booster, err := r.loadModel(ctx)
	if err != nil {
		return nil, r.fail(&models.InferenceError{Reason: "load model", Err: err})
	}

	end := start.Add(time.Duration(r.horizon) * time.Hour)
	table, err := r.store.Read(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("read forecast features: %w", err)
	}
	if table.Len() != r.horizon {
		return nil, r.fail(&models.InferenceError{
			Reason: fmt.Sprintf("need %d feature rows from %s, store has %d", r.horizon, start.Format(time.RFC3339), table.Len()),
		})
	}
	x, err := alignRows(table, booster.Features, true)
	if err != nil {
		return nil, r.fail(&models.InferenceError{Reason: "forecast features", Err: err})
	}
	preds := booster.PredictAll(x)
	forecasts := make([]models.PredictionRecord, table.Len())
	for i, row := range table.Rows {
		forecasts[i] = models.PredictionRecord{Timestamp: row.Timestamp, PredictedPrice: preds[i], Mode: models.ModeForecast}
	}

	backtests, err := r.runBacktest(ctx, booster, start)
	if err != nil {
		return nil, r.fail(&models.InferenceError{Reason: "backtest", Err: err})
	}

	res := &models.InferenceResult{
		GeneratedAt:  r.now().UTC(),
		ModelVersion: art.Version,
		Records:      append(backtests, forecasts...),
		Cheapest:     forecast.CheapestHours(forecasts, r.cheapest),
	}
	if len(backtests) > 0 {
		var sum float64
		for _, b := range backtests {
			sum += *b.AbsError
		}
		mae := sum / float64(len(backtests))
		res.BacktestMAE = &mae
	}

	if err := r.sink.Write(ctx, res); err != nil {
		return nil, fmt.Errorf("write predictions: %w", err)
	}
	if r.publisher != nil {
		if err := r.publisher.PublishPredictions(ctx, res.Records); err != nil {
			// the artifact is already the source of truth for the dashboard
			r.l.Warn("publish predictions failed", applogger.Error(err))
			if r.metrics != nil {
				r.metrics.RecordError("publish")
			}
		}
	}
	if r.metrics != nil {
		r.metrics.RecordPredictions(string(models.ModeForecast), len(forecasts))
		r.metrics.RecordPredictions(string(models.ModeBacktest), len(backtests))
		r.metrics.RecordLatency("inference", time.Since(started).Seconds())
	}

	fields := []applogger.Field{
		applogger.String("model_version", art.Version),
		applogger.Time("from", start),
		applogger.Int("forecasts", len(forecasts)),
		applogger.Int("backtests", len(backtests)),
	}
	if res.BacktestMAE != nil {
		fields = append(fields, applogger.Float64("backtest_mae", *res.BacktestMAE))
	}
	for i, c := range res.Cheapest {
		fields = append(fields, applogger.Time(fmt.Sprintf("cheapest_%d", i+1), c.Timestamp))
	}
	r.l.Info("inference done", fields...)
	return res, nil
}

func (r *InferenceRunner) loadModel(ctx context.Context) (*model.Artifact, *model.Booster, error) {
	for _, reg := range r.registries {
		rec, err := reg.LatestModel(ctx, r.name)
		if errors.Is(err, domrepo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		art, err := model.DecodeArtifact(rec.Payload)
		if err != nil {
			return nil, nil, err
		}
		b, err := art.Booster()
		if err != nil {
			return nil, nil, err
		}
		return art, b, nil
	}
	return nil, nil, fmt.Errorf("model %s: %w", r.name, domrepo.ErrNotFound)
}

// runBacktest scores the stored rows before start that already have a
// realized price.
func (r *InferenceRunner) runBacktest(ctx context.Context, b *model.Booster, start time.Time) ([]models.PredictionRecord, error) {
	if r.backtest <= 0 {
		return nil, nil
	}
	table, err := r.store.Read(ctx, start.AddDate(0, 0, -r.backtest), start)
	if err != nil {
		return nil, err
	}
	realized := &models.FeatureTable{Version: table.Version, Columns: table.Columns}
	for _, row := range table.Rows {
		if row.HasTarget() {
			realized.Rows = append(realized.Rows, row)
		}
	}
	if realized.Len() == 0 {
		return nil, nil
	}
	x, err := alignRows(realized, b.Features, false)
	if err != nil {
		return nil, err
	}
	preds := b.PredictAll(x)
	out := make([]models.PredictionRecord, realized.Len())
	for i, row := range realized.Rows {
		out[i] = models.PredictionRecord{Timestamp: row.Timestamp, PredictedPrice: preds[i], Mode: models.ModeBacktest}.WithActual(row.Target)
	}
	return out, nil
}

func (r *InferenceRunner) fail(err *models.InferenceError) error {
	if r.metrics != nil {
		r.metrics.RecordError(errorKind(err))
	}
	r.l.Error("inference failed", applogger.Error(err))
	return err
}

// alignRows lays out table values in the model's feature order. With strict,
// every column outside price history must be present in every row.
func alignRows(t *models.FeatureTable, names []string, strict bool) ([][]float64, error) {
	pos := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		pos[c] = i
	}
	idx := make([]int, len(names))
	for j, n := range names {
		i, ok := pos[n]
		if !ok {
			return nil, fmt.Errorf("model feature %q is not in the store", n)
		}
		idx[j] = i
	}
	required := make(map[string]bool)
	if strict {
		for _, c := range features.RequiredColumns() {
			required[c] = true
		}
	}

	out := make([][]float64, len(t.Rows))
	for ri, row := range t.Rows {
		x := make([]float64, len(names))
		for j, i := range idx {
			v := math.NaN()
			if i < len(row.Features) {
				v = row.Features[i].Value
			}
			if required[names[j]] && math.IsNaN(v) {
				return nil, fmt.Errorf("%s: feature %q is missing", row.Timestamp.Format(time.RFC3339), names[j])
			}
			x[j] = v
		}
		out[ri] = x
	}
	return out, nil
}
