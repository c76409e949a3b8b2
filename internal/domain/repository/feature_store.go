package repository

import (
	"context"
	"time"

	"SE3Price/internal/domain/models"
)

// FeatureStore persists assembled feature tables. Upsert replaces rows with the
// same timestamp; Read returns rows with from <= ts < to ordered by time.
type FeatureStore interface {
	Upsert(ctx context.Context, table *models.FeatureTable) error
	Read(ctx context.Context, from, to time.Time) (*models.FeatureTable, error)
}
