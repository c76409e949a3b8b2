package repository

import (
	"context"
	"errors"
	"time"

	"SE3Price/internal/domain/models"
)

// ErrNotFound is returned by read paths when nothing has been stored yet.
var ErrNotFound = errors.New("not found")

// MarketSource fetches ENTSO-E style market series for [from, to).
type MarketSource interface {
	FetchPrices(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
	FetchLoadForecast(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
	FetchGenerationForecast(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
}

// WeatherSource fetches per-location weather forecasts for [from, to) as they
// were known at asOf.
type WeatherSource interface {
	Fetch(ctx context.Context, from, to, asOf time.Time) ([]models.RawObservation, error)
}

type ObservationStore interface {
	StoreObservations(ctx context.Context, obs []models.RawObservation) error
	ReadObservations(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
}

type ModelRegistry interface {
	SaveModel(ctx context.Context, rec *models.ModelRecord) error
	LatestModel(ctx context.Context, name string) (*models.ModelRecord, error)
}

// PredictionSink publishes the result of an inference run as a whole.
type PredictionSink interface {
	Write(ctx context.Context, res *models.InferenceResult) error
}

// PredictionSource is the read side used by the dashboard.
type PredictionSource interface {
	Latest(ctx context.Context) ([]models.PredictionRecord, time.Time, error)
}

type PredictionPublisher interface {
	PublishPredictions(ctx context.Context, records []models.PredictionRecord) error
	Close() error
}

type HolidayCalendar interface {
	IsHoliday(t time.Time) bool
}

// Locker serialises batch jobs across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordFetch(source, field string, n int)
	RecordRetry(source string)
	RecordError(kind string)
	RecordCleaning(requested, excluded int)
	RecordRowsUpserted(n int)
	RecordTrainingMetric(split, metric string, value float64)
	RecordPredictions(mode string, n int)
	RecordLatency(op string, seconds float64)
}
