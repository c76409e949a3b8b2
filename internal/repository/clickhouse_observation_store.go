package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SE3Price/internal/domain/models"
	applogger "SE3Price/pkg/logger"
)

// CHObservationStore keeps raw upstream values so features can be rebuilt
// without calling the APIs again. A later fetch of the same series and hour
// replaces the earlier one.
type CHObservationStore struct {
	db    *sql.DB
	table string
	opts  storeOptions
}

func NewCHObservationStore(db *sql.DB, opts ...StoreOption) *CHObservationStore {
	o := buildStoreOptions(opts)
	return &CHObservationStore{db: db, table: o.database + ".raw_observations", opts: o}
}

func (s *CHObservationStore) Schema() []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime('UTC'),
    source LowCardinality(String),
    field LowCardinality(String),
    location String,
    value Float64,
    kind LowCardinality(String),
    available_at DateTime('UTC'),
    fetched_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(fetched_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (source, field, location, ts)`, s.table)}
}

func (s *CHObservationStore) StoreObservations(ctx context.Context, obs []models.RawObservation) error {
	if len(obs) == 0 {
		return nil
	}
	start := time.Now()
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, []any{
			o.Timestamp.UTC(),
			string(o.Source),
			o.Field,
			o.Location,
			o.Value,
			string(o.Kind),
			o.AvailableAt.UTC(),
			o.FetchedAt.UTC(),
		})
	}
	head := fmt.Sprintf("INSERT INTO %s (ts, source, field, location, value, kind, available_at, fetched_at)", s.table)
	if err := insertRows(ctx, s.db, head, rows); err != nil {
		s.opts.l.Error("clickhouse store_observations error",
			applogger.String("table", s.table),
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("store observations: %w", err)
	}
	s.opts.l.Info("clickhouse store_observations ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (s *CHObservationStore) ReadObservations(ctx context.Context, from, to time.Time) ([]models.RawObservation, error) {
	q := fmt.Sprintf(`
        SELECT ts, source, field, location, value, kind, available_at, fetched_at
        FROM %s FINAL
        WHERE ts >= ? AND ts < ?
        ORDER BY source, field, location, ts
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	defer rows.Close()

	var out []models.RawObservation
	for rows.Next() {
		var (
			o            models.RawObservation
			source, kind string
		)
		if err := rows.Scan(&o.Timestamp, &source, &o.Field, &o.Location, &o.Value, &kind, &o.AvailableAt, &o.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Source = models.Source(source)
		o.Kind = models.Kind(kind)
		o.Timestamp = o.Timestamp.UTC()
		o.AvailableAt = o.AvailableAt.UTC()
		o.FetchedAt = o.FetchedAt.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
