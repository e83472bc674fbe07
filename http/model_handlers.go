package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"churnlens/ml"
)

// handleBaseline serves the current model, training one only when no
// cached pair exists.
func (a *api) handleBaseline(w http.ResponseWriter, r *http.Request) {
	result, err := a.deps.Trainer.LoadOrTrain(r.Context())
	if err != nil {
		a.modelError(w, "baseline", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleRetrain discards the cached model and trains a fresh one.
func (a *api) handleRetrain(w http.ResponseWriter, r *http.Request) {
	result, err := a.deps.Trainer.ForceRetrain(r.Context())
	if err != nil {
		a.modelError(w, "retrain", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleModelInfo describes the cached model without side effects.
func (a *api) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.deps.Trainer.CachedInfo())
}

// modelError maps the training error taxonomy onto responses. Each
// class gets its own message so operators can tell a data problem from
// a corrupt cache without reading logs.
func (a *api) modelError(w http.ResponseWriter, op string, err error) {
	a.deps.Logger.Error("model operation failed", zap.String("op", op), zap.Error(err))
	switch {
	case errors.Is(err, ml.ErrDataUnavailable):
		writeError(w, http.StatusServiceUnavailable, "training data unavailable")
	case errors.Is(err, ml.ErrCacheCorrupt):
		writeError(w, http.StatusInternalServerError, "model cache is corrupt; retrain to replace it")
	case errors.Is(err, ml.ErrTrainingFailed):
		writeError(w, http.StatusInternalServerError, "model training failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
