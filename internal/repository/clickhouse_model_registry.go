package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"SE3Price/internal/domain/models"
	domrepo "SE3Price/internal/domain/repository"
	applogger "SE3Price/pkg/logger"
)

// CHModelRegistry stores every trained model version with its scores.
type CHModelRegistry struct {
	db    *sql.DB
	table string
	opts  storeOptions
}

func NewCHModelRegistry(db *sql.DB, opts ...StoreOption) *CHModelRegistry {
	o := buildStoreOptions(opts)
	return &CHModelRegistry{db: db, table: o.database + ".model_registry", opts: o}
}

func (r *CHModelRegistry) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name LowCardinality(String),
    version String,
    trained_at DateTime64(3, 'UTC'),
    metrics String,
    payload String
) ENGINE = MergeTree
ORDER BY (name, trained_at)`, r.table)}
}

func (r *CHModelRegistry) SaveModel(ctx context.Context, rec *models.ModelRecord) error {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal model metrics: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s (name, version, trained_at, metrics, payload) VALUES (?, ?, ?, ?, ?)", r.table)
	if _, err := r.db.ExecContext(ctx, q, rec.Name, rec.Version, rec.TrainedAt.UTC(), string(metrics), string(rec.Payload)); err != nil {
		return fmt.Errorf("save model %s@%s: %w", rec.Name, rec.Version, err)
	}
	r.opts.l.Info("model registered",
		applogger.String("model", rec.Name),
		applogger.String("version", rec.Version),
		applogger.Int("payload_bytes", len(rec.Payload)),
	)
	return nil
}

// LatestModel returns the most recently trained version of name, or
// domrepo.ErrNotFound.
func (r *CHModelRegistry) LatestModel(ctx context.Context, name string) (*models.ModelRecord, error) {
	q := fmt.Sprintf(`
        SELECT name, version, trained_at, metrics, payload
        FROM %s
        WHERE name = ?
        ORDER BY trained_at DESC
        LIMIT 1
    `, r.table)
	var (
		rec              models.ModelRecord
		metrics, payload string
	)
	err := r.db.QueryRowContext(ctx, q, name).Scan(&rec.Name, &rec.Version, &rec.TrainedAt, &metrics, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model %s: %w", name, domrepo.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest model %s: %w", name, err)
	}
	if metrics != "" {
		if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
			return nil, fmt.Errorf("decode model metrics: %w", err)
		}
	}
	rec.TrainedAt = rec.TrainedAt.UTC()
	rec.Payload = []byte(payload)
	return &rec, nil
}
