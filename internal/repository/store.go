package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	applogger "SE3Price/pkg/logger"
)

type storeOptions struct {
	database string
	l        *applogger.Logger
}

// StoreOption configures the ClickHouse backed stores.
type StoreOption func(*storeOptions)

// WithDatabase sets the ClickHouse database that holds the tables.
func WithDatabase(name string) StoreOption {
	return func(o *storeOptions) { o.database = name }
}

func WithLogger(l *applogger.Logger) StoreOption {
	return func(o *storeOptions) { o.l = l }
}

func buildStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{database: "se3price", l: applogger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.l == nil {
		o.l = applogger.Nop()
	}
	return o
}

// insertRows writes all rows through one prepared statement inside a
// transaction. The ClickHouse driver buffers the rows and sends them as a
// single block on Commit, so a failed call leaves nothing behind.
func insertRows(ctx context.Context, db *sql.DB, head string, rows [][]any) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, head+" VALUES "+placeholders(len(rows[0])))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err = stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// nullable maps NaN to SQL NULL.
func nullable(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
