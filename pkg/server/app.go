package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"SE3Price/internal/domain/models"
	"SE3Price/internal/domain/repository"
	"SE3Price/internal/usecase"
	"SE3Price/pkg/config"
	xhttp "SE3Price/pkg/http"
	applogger "SE3Price/pkg/logger"
	"SE3Price/pkg/metrics"
	xutil "SE3Price/pkg/util"
)

// Job names accepted by RunJob.
const (
	JobBackfill = "backfill"
	JobDaily    = "daily"
	JobRebuild  = "rebuild"
	JobTrain    = "train"
	JobInfer    = "infer"
	JobServe    = "serve"
)

const lockKey = "lock:batch"

// ErrLocked is returned when another process holds the batch run lock.
var ErrLocked = errors.New("another batch job is running")

type FeatureJobs interface {
	Backfill(ctx context.Context, asOf time.Time) ([]*usecase.PipelineReport, error)
	Daily(ctx context.Context, asOf time.Time) (*usecase.PipelineReport, error)
	Rebuild(ctx context.Context, from, to, asOf time.Time) (*usecase.PipelineReport, error)
}

type TrainJob interface {
	Run(ctx context.Context, asOf time.Time) (*models.TrainingReport, error)
}

type InferJob interface {
	Run(ctx context.Context, asOf time.Time) (*models.InferenceResult, error)
}

// App encapsulates the application lifecycle: one batch job per process, or
// the dashboard server.
type App struct {
	cfg       *config.Config
	features  FeatureJobs
	trainer   TrainJob
	inference InferJob
	dashboard xhttp.Handler
	recorder  *metrics.Recorder
	locker    repository.Locker
	closers   []io.Closer
	now       func() time.Time
	l         *applogger.Logger
}

// New creates a new App instance with all dependencies. locker may be nil, in
// which case jobs run without the cross-process lock.
func New(
	cfg *config.Config,
	features FeatureJobs,
	trainer TrainJob,
	inference InferJob,
	dashboard xhttp.Handler,
	recorder *metrics.Recorder,
	locker repository.Locker,
	l *applogger.Logger,
	closers ...io.Closer,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:       cfg,
		features:  features,
		trainer:   trainer,
		inference: inference,
		dashboard: dashboard,
		recorder:  recorder,
		locker:    locker,
		closers:   closers,
		now:       time.Now,
		l:         l,
	}
}

// RunJob runs one batch job as of asOf (zero means now) and blocks until it
// finishes. "serve" blocks until ctx is cancelled or a signal arrives.
func (a *App) RunJob(ctx context.Context, job string, asOf time.Time) error {
	if job == JobServe {
		return a.Serve(ctx)
	}
	if asOf.IsZero() {
		asOf = a.now()
	}
	run, err := a.job(job)
	if err != nil {
		return err
	}
	if job == JobBackfill || job == JobDaily {
		if err := a.cfg.RequireMarketKey(); err != nil {
			return err
		}
	}

	release, err := a.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	l := a.l.With(applogger.String("job", job))
	l.Info("job started", applogger.Time("as_of", asOf))
	start := time.Now()

	err = run(ctx, asOf)
	if a.recorder != nil {
		a.recorder.RecordLatency("job_"+job, time.Since(start).Seconds())
		if err == nil {
			a.recorder.RecordJobSuccess(job, a.now())
		}
	}
	a.push(ctx, job)

	if err != nil {
		l.Error("job failed", applogger.Error(err), applogger.Duration("duration_ms", time.Since(start)))
		return fmt.Errorf("%s: %w", job, err)
	}
	l.Info("job finished", applogger.Duration("duration_ms", time.Since(start)))
	return nil
}

func (a *App) job(name string) (func(context.Context, time.Time) error, error) {
	switch name {
	case JobBackfill:
		return func(ctx context.Context, asOf time.Time) error {
			reports, err := a.features.Backfill(ctx, asOf)
			a.l.Info("backfill chunks upserted", applogger.Int("chunks", len(reports)))
			return err
		}, nil
	case JobDaily:
		return func(ctx context.Context, asOf time.Time) error {
			_, err := a.features.Daily(ctx, asOf)
			return err
		}, nil
	case JobRebuild:
		return a.rebuild, nil
	case JobTrain:
		return func(ctx context.Context, asOf time.Time) error {
			_, err := a.trainer.Run(ctx, asOf)
			return err
		}, nil
	case JobInfer:
		return func(ctx context.Context, asOf time.Time) error {
			_, err := a.inference.Run(ctx, asOf)
			return err
		}, nil
	}
	return nil, fmt.Errorf("unknown job %q", name)
}

// rebuild re-assembles everything from the backfill start one month at a time.
func (a *App) rebuild(ctx context.Context, asOf time.Time) error {
	loc := a.cfg.Location()
	end := xutil.StartOfDay(asOf, loc).AddDate(0, 0, 2)
	for _, r := range xutil.SplitMonths(a.cfg.BackfillStart(), end, loc) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.features.Rebuild(ctx, r.From, r.To, asOf); err != nil {
			return fmt.Errorf("rebuild %s: %w", r.From.In(loc).Format("2006-01"), err)
		}
	}
	return nil
}

func (a *App) lock(ctx context.Context) (func(), error) {
	if a.locker == nil {
		return func() {}, nil
	}
	ok, err := a.locker.TryLock(ctx, lockKey, a.cfg.Redis.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// the job context may already be cancelled
		if err := a.locker.Unlock(context.Background(), lockKey); err != nil {
			a.l.Warn("release run lock", applogger.Error(err))
		}
	}, nil
}

// push is best effort; a dead Pushgateway never fails the job.
func (a *App) push(ctx context.Context, job string) {
	if a.recorder == nil || a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.recorder.Push(pctx, a.cfg.Metrics.PushgatewayURL, "se3price_"+job); err != nil {
		a.l.Warn("push metrics", applogger.Error(err), applogger.String("job", job))
	}
}

// Serve runs the dashboard until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithSlowRequest(a.cfg.Server.SlowRequest),
		xhttp.WithMetricsPath(metricsPath),
	}
	if a.recorder != nil {
		opts = append(opts, xhttp.WithGatherer(a.recorder.Gatherer()))
	}
	srv := xhttp.NewServer(a.dashboard, a.l, opts...)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return srv.Stop(context.Background())
}

// Close releases infrastructure clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
