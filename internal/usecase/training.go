package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	"SE3Price/internal/services/model"
	"SE3Price/pkg/config"
	applogger "SE3Price/pkg/logger"
	xutil "SE3Price/pkg/util"
)

// Split names used in reports, metrics and the artifact.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Trainer fits the price model on the stored feature table.
type Trainer struct {
	store      domrepo.FeatureStore
	registries []domrepo.ModelRegistry
	metrics    domrepo.Metrics
	name       string
	window     int
	trainRatio float64
	validRatio float64
	maxMissing float64
	dropWarmup bool
	maeAlert   float64
	params     model.Params
	now        func() time.Time
	l          *applogger.Logger
}

// NewTrainer saves every trained model to each registry in order.
func NewTrainer(cfg *config.Config, store domrepo.FeatureStore, metrics domrepo.Metrics, l *applogger.Logger, registries ...domrepo.ModelRegistry) *Trainer {
	if l == nil {
		l = applogger.Nop()
	}
	return &Trainer{
		store:      store,
		registries: registries,
		metrics:    metrics,
		name:       cfg.Training.ModelName,
		window:     cfg.Training.WindowMonths,
		trainRatio: cfg.Training.TrainRatio,
		validRatio: cfg.Training.ValidationRatio,
		maxMissing: cfg.Training.MaxMissingTargetFraction,
		dropWarmup: cfg.Training.DropWarmupRows,
		maeAlert:   cfg.Training.MAEAlertThreshold,
		params:     model.ParamsFromConfig(cfg),
		now:        time.Now,
		l:          l,
	}
}

// Run trains on the WindowMonths before asOf, evaluates each split and
// registers the model.
func (t *Trainer) Run(ctx context.Context, asOf time.Time) (*models.TrainingReport, error) {
	to := xutil.HourFloor(asOf.UTC())
	from := to.AddDate(0, -t.window, 0)

	table, err := t.store.Read(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("read training features: %w", err)
	}
	if table.Len() == 0 {
		return nil, t.fail(&models.ModelTrainingError{Reason: "no feature rows in training window"})
	}
	if len(table.Columns) == 0 {
		return nil, t.fail(&models.ModelTrainingError{Reason: "no feature columns", Err: model.ErrNoFeatures})
	}

	var missing int
	for _, r := range table.Rows {
		if !r.HasTarget() {
			missing++
		}
	}
	if frac := float64(missing) / float64(table.Len()); frac > t.maxMissing {
		return nil, t.fail(&models.ModelTrainingError{
			Reason: fmt.Sprintf("%.1f%% of rows have no target (max %.1f%%)", 100*frac, 100*t.maxMissing),
		})
	}

	rows := trainableRows(table, t.dropWarmup)
	t.l.Info("training data loaded",
		applogger.Time("from", from),
		applogger.Time("to", to),
		applogger.Int("rows", table.Len()),
		applogger.Int("missing_target", missing),
		applogger.Int("usable", rows.Len()),
	)

	train, valid, test := model.ChronologicalSplit(rows, t.trainRatio, t.validRatio)
	booster, err := model.Train(rows.Columns, model.ToDataset(train), model.ToDataset(valid), t.params,
		model.WithTrainLogger(t.l, 50))
	if err != nil {
		return nil, t.fail(&models.ModelTrainingError{Reason: "fit", Err: err})
	}

	splits := map[string]*models.FeatureTable{SplitTrain: train, SplitValidation: valid, SplitTest: test}
	scores := make(map[string]models.SplitMetrics, len(splits))
	for name, part := range splits {
		if part.Len() == 0 {
			scores[name] = models.SplitMetrics{}
			continue
		}
		ds := model.ToDataset(part)
		m := model.Evaluate(ds.Y, booster.PredictAll(ds.X))
		scores[name] = m
		if t.metrics != nil {
			t.metrics.RecordTrainingMetric(name, "mae", m.MAE)
			t.metrics.RecordTrainingMetric(name, "rmse", m.RMSE)
			t.metrics.RecordTrainingMetric(name, "r2", m.R2)
			t.metrics.RecordTrainingMetric(name, "mape", m.MAPE)
		}
	}

	if test.Len() > 0 && t.maeAlert > 0 && scores[SplitTest].MAE > t.maeAlert {
		t.l.Warn("test MAE above alert threshold",
			applogger.Float64("test_mae", scores[SplitTest].MAE),
			applogger.Float64("threshold", t.maeAlert),
		)
		if t.metrics != nil {
			t.metrics.RecordError("mae_alert")
		}
	}

	trainedAt := t.now().UTC()
	art, err := model.NewArtifact(t.name, trainedAt, booster, scores)
	if err != nil {
		return nil, t.fail(&models.ModelTrainingError{Reason: "encode model", Err: err})
	}
	art.TrainFrom, art.TrainTo = rows.Rows[0].Timestamp, rows.Rows[rows.Len()-1].Timestamp
	payload, err := art.Encode()
	if err != nil {
		return nil, t.fail(&models.ModelTrainingError{Reason: "encode artifact", Err: err})
	}
	rec := &models.ModelRecord{
		Name:      t.name,
		Version:   art.Version,
		TrainedAt: trainedAt,
		Metrics:   art.FlatMetrics(),
		Payload:   payload,
	}
	for _, r := range t.registries {
		if err := r.SaveModel(ctx, rec); err != nil {
			return nil, fmt.Errorf("save model: %w", err)
		}
	}

	report := &models.TrainingReport{
		ModelName:     t.name,
		ModelVersion:  art.Version,
		TrainedAt:     trainedAt,
		TrainFrom:     art.TrainFrom,
		TrainTo:       art.TrainTo,
		BestIteration: booster.BestIteration,
		Splits:        scores,
		Importance:    art.Importance,
	}
	t.l.Info("training done",
		applogger.String("version", art.Version),
		applogger.Int("best_iteration", booster.BestIteration),
		applogger.Int("trees", len(booster.Trees)),
		applogger.Float64("valid_mae", scores[SplitValidation].MAE),
		applogger.Float64("test_mae", scores[SplitTest].MAE),
		applogger.Float64("test_rmse", scores[SplitTest].RMSE),
		applogger.Float64("test_r2", scores[SplitTest].R2),
	)
	return report, nil
}

func (t *Trainer) fail(err *models.ModelTrainingError) error {
	if t.metrics != nil {
		t.metrics.RecordError(errorKind(err))
	}
	t.l.Error("training failed", applogger.Error(err))
	return err
}

// trainableRows keeps rows with a target and, with dropWarmup, drops rows whose
// one-week history is incomplete.
func trainableRows(t *models.FeatureTable, dropWarmup bool) *models.FeatureTable {
	var warmup []int
	if dropWarmup {
		for i, c := range t.Columns {
			if strings.HasSuffix(c, "_168h_missing") {
				warmup = append(warmup, i)
			}
		}
	}
	out := &models.FeatureTable{Version: t.Version, Columns: t.Columns}
rows:
	for _, r := range t.Rows {
		if !r.HasTarget() {
			continue
		}
		for _, i := range warmup {
			if i < len(r.Features) && r.Features[i].Value == 1 {
				continue rows
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}
