package ml

import "errors"

// Training and cache failures callers can branch on with errors.Is.
var (
	// ErrDataUnavailable means the data source returned no usable rows.
	ErrDataUnavailable = errors.New("no data available for model training")

	// ErrTrainingFailed covers failures inside the training pipeline.
	ErrTrainingFailed = errors.New("model training failed")

	// ErrModelNotFound means no cached artifact pair exists. The only
	// error LoadOrTrain retrains on.
	ErrModelNotFound = errors.New("model files not found")

	// ErrCacheCorrupt means the cached pair exists but cannot be
	// trusted. Surfaced to the caller, never silently retrained over.
	ErrCacheCorrupt = errors.New("model cache is corrupt")
)
