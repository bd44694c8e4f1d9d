package server

import (
	"net/http"
	"time"

	"github.com/sells-group/ops-copilot/internal/kpi"
	"github.com/sells-group/ops-copilot/internal/model"
)

// parseRange resolves the from/to query params, defaulting to the trailing
// 30 days ending today.
func parseRange(r *http.Request) (start, end string, ok bool) {
	endDate := time.Now().UTC()
	if to := r.URL.Query().Get("to"); to != "" {
		d, err := time.Parse("2006-01-02", to)
		if err != nil {
			return "", "", false
		}
		endDate = d
	}

	startDate := endDate.AddDate(0, 0, -29)
	if from := r.URL.Query().Get("from"); from != "" {
		d, err := time.Parse("2006-01-02", from)
		if err != nil {
			return "", "", false
		}
		startDate = d
	}

	if startDate.After(endDate) {
		return "", "", false
	}
	return startDate.Format("2006-01-02"), endDate.Format("2006-01-02"), true
}

func (s *Server) handleKPISummary(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Dates must be YYYY-MM-DD and 'from' must not exceed 'to'")
		return
	}

	rows, err := s.store.KPISummary(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	role := roleFrom(r.Context())
	visible := make([]model.KPISummaryRow, 0, len(rows))
	for _, row := range rows {
		if kpi.VisibleTo(role, row.KPIName) {
			visible = append(visible, row)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from": start,
		"to":   end,
		"role": role,
		"kpis": visible,
	})
}

func (s *Server) handleKPITimeseries(w http.ResponseWriter, r *http.Request) {
	kpiName := r.URL.Query().Get("kpi_name")
	if kpiName == "" {
		writeError(w, http.StatusBadRequest, "kpi_name is required")
		return
	}
	role := roleFrom(r.Context())
	if !kpi.VisibleTo(role, kpiName) {
		writeError(w, http.StatusForbidden, "Role does not have access to this KPI")
		return
	}

	start, end, ok := parseRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Dates must be YYYY-MM-DD and 'from' must not exceed 'to'")
		return
	}

	points, err := s.store.KPITimeseries(r.Context(), kpiName, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kpi_name": kpiName,
		"from":     start,
		"to":       end,
		"role":     role,
		"points":   points,
	})
}

func (s *Server) handleKPIDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.KPIDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	role := roleFrom(r.Context())
	visible := make([]model.KPIDefinition, 0, len(defs))
	for _, def := range defs {
		if kpi.VisibleTo(role, def.KPIName) {
			visible = append(visible, def)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"definitions": visible,
	})
}
