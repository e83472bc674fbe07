package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"churnlens/insight"
)

// handleInsights generates a written churn analysis from the aggregates
// the client sends. Returns 503 when no narrator is configured.
func (a *api) handleInsights(w http.ResponseWriter, r *http.Request) {
	if a.deps.Narrator == nil {
		writeError(w, http.StatusServiceUnavailable, "insights are not configured")
		return
	}

	var req insight.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.deps.Narrator.Generate(r.Context(), req)
	if err != nil {
		a.deps.Logger.Error("insight generation failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "insight generation failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
