package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is; every typed error below matches exactly one.
var (
	ErrTransientFetch   = errors.New("transient fetch failure")
	ErrDataQuality      = errors.New("data quality")
	ErrFeatureIntegrity = errors.New("feature integrity")
	ErrModelTraining    = errors.New("model training")
	ErrInference        = errors.New("inference")
)

// TransientFetchError means an upstream call still failed after bounded retries.
type TransientFetchError struct {
	Source   string
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s %s: failed after %d attempts: %v", e.Source, e.Op, e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error        { return e.Err }
func (e *TransientFetchError) Is(target error) bool { return target == ErrTransientFetch }

// DataQualityError means cleaning had to exclude too much of the requested range.
type DataQualityError struct {
	RequestedHours int
	ExcludedHours  int
	MaxFraction    float64
	Detail         string
}

func (e *DataQualityError) Error() string {
	msg := fmt.Sprintf("data quality: excluded %d of %d hours (max fraction %.2f)",
		e.ExcludedHours, e.RequestedHours, e.MaxFraction)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DataQualityError) Is(target error) bool { return target == ErrDataQuality }

// FeatureIntegrityError means a row would be built from information that was
// not available before its timestamp, or the inputs do not align per hour.
type FeatureIntegrityError struct {
	Timestamp time.Time
	Feature   string
	Reason    string
}

func (e *FeatureIntegrityError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("feature integrity at %s: %s", e.Timestamp.UTC().Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("feature integrity at %s (%s): %s",
		e.Timestamp.UTC().Format(time.RFC3339), e.Feature, e.Reason)
}

func (e *FeatureIntegrityError) Is(target error) bool { return target == ErrFeatureIntegrity }

// ModelTrainingError is fatal for a training run.
type ModelTrainingError struct {
	Reason string
	Err    error
}

func (e *ModelTrainingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model training: %s: %v", e.Reason, e.Err)
	}
	return "model training: " + e.Reason
}

func (e *ModelTrainingError) Unwrap() error        { return e.Err }
func (e *ModelTrainingError) Is(target error) bool { return target == ErrModelTraining }

// InferenceError aborts an inference run before anything is published.
type InferenceError struct {
	Reason string
	Err    error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference: %s: %v", e.Reason, e.Err)
	}
	return "inference: " + e.Reason
}

func (e *InferenceError) Unwrap() error        { return e.Err }
func (e *InferenceError) Is(target error) bool { return target == ErrInference }
