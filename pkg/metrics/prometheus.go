package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder implements domain.repository.Metrics using Prometheus. Every
// recorder owns its registry so batch jobs can push exactly what they recorded.
type Recorder struct {
	reg          *prometheus.Registry
	fetched      *prometheus.CounterVec
	retries      *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	cleanedHours *prometheus.CounterVec
	upserted     prometheus.Counter
	training     *prometheus.GaugeVec
	predictions  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
}

// New creates a recorder on reg, or on a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		fetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se3price_observations_fetched_total",
				Help: "Raw observations returned by upstream APIs",
			},
			[]string{"source", "field"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se3price_upstream_retries_total",
				Help: "Upstream request retries",
			},
			[]string{"source"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se3price_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		cleanedHours: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se3price_cleaning_hours_total",
				Help: "Hours seen by the cleaner, by outcome",
			},
			[]string{"state"},
		),
		upserted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "se3price_feature_rows_upserted_total",
				Help: "Feature rows written to the feature store",
			},
		),
		training: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "se3price_training_metric",
				Help: "Evaluation metric of the last trained model",
			},
			[]string{"split", "metric"},
		),
		predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "se3price_predictions_total",
				Help: "Prediction records produced",
			},
			[]string{"mode"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "se3price_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		lastSuccess: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "se3price_job_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run per job",
			},
			[]string{"job"},
		),
	}
}

func (r *Recorder) RecordFetch(source, field string, n int) {
	r.fetched.WithLabelValues(source, field).Add(float64(n))
}

func (r *Recorder) RecordRetry(source string) {
	r.retries.WithLabelValues(source).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordCleaning(requested, excluded int) {
	r.cleanedHours.WithLabelValues("requested").Add(float64(requested))
	r.cleanedHours.WithLabelValues("excluded").Add(float64(excluded))
}

func (r *Recorder) RecordRowsUpserted(n int) {
	r.upserted.Add(float64(n))
}

func (r *Recorder) RecordTrainingMetric(split, metric string, value float64) {
	r.training.WithLabelValues(split, metric).Set(value)
}

func (r *Recorder) RecordPredictions(mode string, n int) {
	r.predictions.WithLabelValues(mode).Add(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordJobSuccess stamps the completion time of a batch job.
func (r *Recorder) RecordJobSuccess(job string, at time.Time) {
	r.lastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

// Gatherer exposes the registry to an HTTP handler or a pusher.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.reg }

// Push sends everything recorded so far to a Prometheus Pushgateway under job,
// replacing the previous push of the same job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
