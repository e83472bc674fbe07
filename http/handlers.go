package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type api struct {
	deps Deps
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/churn/kpis", a.handleKPIs)
	mux.HandleFunc("GET /api/churn/contract", a.handleChurnByContract)
	mux.HandleFunc("GET /api/churn/payment", a.handleChurnByPayment)
	mux.HandleFunc("GET /api/features/churn", a.handleFeatureChurn)
	mux.HandleFunc("GET /api/features/available", a.handleAvailableFeatures)
	mux.HandleFunc("GET /api/bins/tenure", a.handleTenureBins)
	mux.HandleFunc("GET /api/bins/monthly", a.handleMonthlyBins)

	mux.HandleFunc("GET /api/model/baseline", a.handleBaseline)
	mux.HandleFunc("POST /api/model/baseline/retrain", a.handleRetrain)
	mux.HandleFunc("GET /api/model/baseline/info", a.handleModelInfo)

	mux.HandleFunc("POST /api/insights", a.handleInsights)

	if a.deps.Events != nil {
		mux.HandleFunc("GET /api/ws/events", a.deps.Events.ServeWS)
	}
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleKPIs(w http.ResponseWriter, r *http.Request) {
	kpis, err := a.deps.Analytics.KPIs(r.Context())
	if err != nil {
		a.serverError(w, "kpis", err)
		return
	}
	respondJSON(w, http.StatusOK, kpis)
}

func (a *api) handleChurnByContract(w http.ResponseWriter, r *http.Request) {
	segments, err := a.deps.Analytics.ChurnByContract(r.Context())
	if err != nil {
		a.serverError(w, "churn by contract", err)
		return
	}
	respondJSON(w, http.StatusOK, segments)
}

func (a *api) handleChurnByPayment(w http.ResponseWriter, r *http.Request) {
	segments, err := a.deps.Analytics.ChurnByPayment(r.Context())
	if err != nil {
		a.serverError(w, "churn by payment", err)
		return
	}
	respondJSON(w, http.StatusOK, segments)
}

func (a *api) handleFeatureChurn(w http.ResponseWriter, r *http.Request) {
	var features []string
	if raw := r.URL.Query().Get("features"); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				features = append(features, f)
			}
		}
	}
	rows, err := a.deps.Analytics.FeatureChurn(r.Context(), features)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (a *api) handleAvailableFeatures(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{
		"features": a.deps.Analytics.AvailableFeatures(),
	})
}

func (a *api) handleTenureBins(w http.ResponseWriter, r *http.Request) {
	bins, err := a.deps.Analytics.TenureBins(r.Context())
	if err != nil {
		a.serverError(w, "tenure bins", err)
		return
	}
	respondJSON(w, http.StatusOK, bins)
}

func (a *api) handleMonthlyBins(w http.ResponseWriter, r *http.Request) {
	bins, err := a.deps.Analytics.MonthlyBins(r.Context())
	if err != nil {
		a.serverError(w, "monthly bins", err)
		return
	}
	respondJSON(w, http.StatusOK, bins)
}

func (a *api) serverError(w http.ResponseWriter, op string, err error) {
	a.deps.Logger.Error("handler failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
