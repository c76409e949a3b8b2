package usecase

import (
	"errors"

	"SE3Price/internal/domain/models"
)

// errorKind maps a stage error to the metric label it is counted under.
func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrTransientFetch):
		return "fetch"
	case errors.Is(err, models.ErrDataQuality):
		return "data_quality"
	case errors.Is(err, models.ErrFeatureIntegrity):
		return "feature_integrity"
	case errors.Is(err, models.ErrModelTraining):
		return "model_training"
	case errors.Is(err, models.ErrInference):
		return "inference"
	}
	return "other"
}
