package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SE3Price/internal/domain/models"
	applogger "SE3Price/pkg/logger"
)

// CHFeatureStore keeps one wide row per hour. ReplacingMergeTree on updated_at
// plus FINAL on read gives upsert semantics.
type CHFeatureStore struct {
	db      *sql.DB
	table   string
	columns []string
	opts    storeOptions
}

func NewCHFeatureStore(db *sql.DB, columns []string, opts ...StoreOption) *CHFeatureStore {
	o := buildStoreOptions(opts)
	return &CHFeatureStore{
		db:      db,
		table:   o.database + ".features",
		columns: columns,
		opts:    o,
	}
}

// Schema returns the DDL for the feature table. New feature columns are added
// in place so older rows read back as NULL.
func (s *CHFeatureStore) Schema() []string {
	defs := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		defs = append(defs, fmt.Sprintf("`%s` Nullable(Float64)", c))
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime('UTC'),
    version UInt16,
    known_at DateTime('UTC'),
    target Nullable(Float64),
    %s,
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY ts`, s.table, strings.Join(defs, ",\n    ")),
	}
	for _, d := range defs {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", s.table, d))
	}
	return stmts
}

func (s *CHFeatureStore) Upsert(ctx context.Context, table *models.FeatureTable) error {
	if table.Len() == 0 {
		return nil
	}
	start := time.Now()
	pos := make(map[string]int, len(table.Columns))
	for i, c := range table.Columns {
		pos[c] = i
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(table.Rows))
	for _, r := range table.Rows {
		var known time.Time
		vals := make([]any, 0, len(s.columns)+5)
		for _, f := range r.Features {
			if f.AvailableAt.After(known) {
				known = f.AvailableAt
			}
		}
		vals = append(vals, r.Timestamp.UTC(), table.Version, known.UTC(), nullable(r.Target))
		for _, c := range s.columns {
			i, ok := pos[c]
			if !ok || i >= len(r.Features) {
				vals = append(vals, nil)
				continue
			}
			vals = append(vals, nullable(r.Features[i].Value))
		}
		vals = append(vals, now)
		rows = append(rows, vals)
	}

	head := fmt.Sprintf("INSERT INTO %s (ts, version, known_at, target, %s, updated_at)", s.table, s.columnList())
	if err := insertRows(ctx, s.db, head, rows); err != nil {
		s.opts.l.Error("clickhouse feature upsert error",
			applogger.String("table", s.table),
			applogger.Int("rows", len(rows)),
			applogger.Error(err),
		)
		return fmt.Errorf("upsert features: %w", err)
	}
	s.opts.l.Info("clickhouse feature upsert ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// Read returns rows with from <= ts < to ordered by time. Each feature's
// AvailableAt is the row's stored known_at.
func (s *CHFeatureStore) Read(ctx context.Context, from, to time.Time) (*models.FeatureTable, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, version, known_at, target, %s
        FROM %s FINAL
        WHERE ts >= ? AND ts < ?
        ORDER BY ts ASC
    `, s.columnList(), s.table)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		s.opts.l.Error("clickhouse feature read query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("read features: %w", err)
	}
	defer rows.Close()

	out := &models.FeatureTable{Columns: append([]string(nil), s.columns...)}
	vals := make([]sql.NullFloat64, len(s.columns))
	for rows.Next() {
		var (
			ts, known time.Time
			version   int
			target    sql.NullFloat64
		)
		dest := []any{&ts, &version, &known, &target}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		if version > out.Version {
			out.Version = version
		}
		row := models.FeatureRow{
			Timestamp: ts.UTC(),
			Target:    fromNull(target),
			Features:  make([]models.Feature, len(s.columns)),
		}
		for i, c := range s.columns {
			row.Features[i] = models.Feature{Name: c, Value: fromNull(vals[i]), AvailableAt: known.UTC()}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.opts.l.Info("clickhouse feature read ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(out.Rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHFeatureStore) columnList() string {
	quoted := make([]string, len(s.columns))
	for i, c := range s.columns {
		quoted[i] = "`" + c + "`"
	}
	return strings.Join(quoted, ", ")
}
