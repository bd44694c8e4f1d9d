package server

import (
	"encoding/json"
	"net/http"

	"github.com/sells-group/ops-copilot/internal/kpi"
	"github.com/sells-group/ops-copilot/internal/model"
)

type anomalyRunRequest struct {
	Threshold  *float64 `json:"threshold"`
	WindowDays *int     `json:"window_days"`
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	status := model.AnomalyStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.AnomalyStatusOpen
	}

	items, err := s.store.AnomaliesByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	role := roleFrom(r.Context())
	visible := make([]model.Anomaly, 0, len(items))
	for _, item := range items {
		if kpi.VisibleTo(role, item.KPIName) {
			visible = append(visible, item)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":   role,
		"status": status,
		"count":  len(visible),
		"items":  visible,
	})
}

// handleAnomalyRun rescoring is synchronous: the caller gets the fresh
// anomaly set back, and matching automations fire before the response.
func (s *Server) handleAnomalyRun(w http.ResponseWriter, r *http.Request) {
	var req anomalyRunRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	params := s.scorer
	if req.Threshold != nil {
		params.Threshold = *req.Threshold
	}
	if req.WindowDays != nil {
		params.WindowDays = *req.WindowDays
		params.MinHistory = *req.WindowDays
		if params.MinHistory < 8 {
			params.MinHistory = 8
		}
	}
	if err := params.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	anomalies, err := s.detector.Recompute(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runs, err := s.trigger.FireForAnomalies(r.Context(), anomalies)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	role := roleFrom(r.Context())
	visible := make([]model.Anomaly, 0, len(anomalies))
	for _, item := range anomalies {
		if kpi.VisibleTo(role, item.KPIName) {
			visible = append(visible, item)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":                      role,
		"detected_count":            len(anomalies),
		"visible_count":             len(visible),
		"anomalies":                 visible,
		"automation_runs_triggered": runs,
	})
}
