package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ops-copilot/internal/kpi"
	"github.com/sells-group/ops-copilot/internal/mart"
)

type explainRequest struct {
	KPIName string `json:"kpi_name"`
	Date    string `json:"date"`
}

type askRequest struct {
	Question string `json:"question"`
	KPIName  string `json:"kpi_name"`
	Date     string `json:"date"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req explainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	role := roleFrom(r.Context())
	if !kpi.VisibleTo(role, req.KPIName) {
		writeError(w, http.StatusForbidden, "Role does not have access to this KPI")
		return
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	explanation, err := s.assembler.Explain(r.Context(), req.KPIName, req.Date, requestIDFrom(r.Context()))
	if err != nil {
		if eris.Is(err, mart.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"explanation": explanation,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	role := roleFrom(r.Context())
	if req.KPIName != "" && !kpi.VisibleTo(role, req.KPIName) {
		writeError(w, http.StatusForbidden, "Role does not have access to this KPI")
		return
	}

	response, err := s.assembler.Ask(r.Context(), req.Question, req.KPIName, req.Date)
	if err != nil {
		if eris.Is(err, mart.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response["role"] = role
	writeJSON(w, http.StatusOK, response)
}
