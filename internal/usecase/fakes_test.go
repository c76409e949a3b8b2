package usecase

import (
	"context"
	"sync"
	"time"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
)

type fakeMarket struct {
	prices func(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
	load   func(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
	gen    func(ctx context.Context, from, to time.Time) ([]models.RawObservation, error)
}

func (f *fakeMarket) FetchPrices(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	return f.prices(ctx, from, to)
}

func (f *fakeMarket) FetchLoadForecast(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	return f.load(ctx, from, to)
}

func (f *fakeMarket) FetchGenerationForecast(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	return f.gen(ctx, from, to)
}

type fakeWeather struct {
	fetch func(ctx context.Context, from, to, asOf time.Time) ([]models.RawObservation, error)
}

func (f *fakeWeather) Fetch(ctx context.Context, from, to, asOf time.Time) ([]models.RawObservation, error) {
	return f.fetch(ctx, from, to, asOf)
}

type memObservations struct {
	mu  sync.Mutex
	obs []models.RawObservation
}

func (m *memObservations) StoreObservations(_ context.Context, obs []models.RawObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, obs...)
	return nil
}

func (m *memObservations) ReadObservations(_ context.Context, from, to time.Time) ([]models.RawObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RawObservation
	for _, o := range m.obs {
		if !o.Timestamp.Before(from) && o.Timestamp.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

// memFeatures keeps upserted rows keyed by hour, like the ClickHouse table.
type memFeatures struct {
	mu      sync.Mutex
	columns []string
	rows    map[int64]models.FeatureRow
	upserts int
	readErr error
}

func newMemFeatures(t *models.FeatureTable) *memFeatures {
	m := &memFeatures{rows: make(map[int64]models.FeatureRow)}
	if t != nil {
		_ = m.Upsert(context.Background(), t)
	}
	return m
}

func (m *memFeatures) Upsert(_ context.Context, t *models.FeatureTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	m.columns = t.Columns
	for _, r := range t.Rows {
		m.rows[r.Timestamp.Unix()] = r
	}
	return nil
}

func (m *memFeatures) Read(_ context.Context, from, to time.Time) (*models.FeatureTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := &models.FeatureTable{Version: 1, Columns: m.columns}
	for ts := from.UTC(); ts.Before(to); ts = ts.Add(time.Hour) {
		if r, ok := m.rows[ts.Unix()]; ok {
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

type memRegistry struct {
	saved []*models.ModelRecord
	err   error
}

func (m *memRegistry) SaveModel(_ context.Context, rec *models.ModelRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rec)
	return nil
}

func (m *memRegistry) LatestModel(_ context.Context, name string) (*models.ModelRecord, error) {
	for i := len(m.saved) - 1; i >= 0; i-- {
		if m.saved[i].Name == name {
			return m.saved[i], nil
		}
	}
	return nil, domrepo.ErrNotFound
}

type fakeSink struct {
	write func(ctx context.Context, res *models.InferenceResult) error
	got   []*models.InferenceResult
}

func (f *fakeSink) Write(ctx context.Context, res *models.InferenceResult) error {
	if f.write != nil {
		if err := f.write(ctx, res); err != nil {
			return err
		}
	}
	f.got = append(f.got, res)
	return nil
}

type fakePublisher struct {
	err  error
	sent []models.PredictionRecord
}

func (f *fakePublisher) PublishPredictions(_ context.Context, records []models.PredictionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, records...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

// recMetrics counts the calls the use cases make.
type recMetrics struct {
	mu          sync.Mutex
	fetched     map[string]int
	errors      map[string]int
	upserted    int
	training    map[string]float64
	predictions map[string]int
	latency     map[string]int
}

func newRecMetrics() *recMetrics {
	return &recMetrics{
		fetched:     make(map[string]int),
		errors:      make(map[string]int),
		training:    make(map[string]float64),
		predictions: make(map[string]int),
		latency:     make(map[string]int),
	}
}

func (m *recMetrics) RecordFetch(source, field string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched[source+"/"+field] += n
}

func (m *recMetrics) RecordRetry(string) {}

func (m *recMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *recMetrics) RecordCleaning(int, int) {}

func (m *recMetrics) RecordRowsUpserted(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted += n
}

func (m *recMetrics) RecordTrainingMetric(split, metric string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.training[split+"_"+metric] = v
}

func (m *recMetrics) RecordPredictions(mode string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[mode] += n
}

func (m *recMetrics) RecordLatency(op string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[op]++
}
