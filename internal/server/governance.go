package server

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ops-copilot/internal/kpi"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/quality"
)

type feedbackRequest struct {
	AuditID int64  `json:"audit_id"`
	Rating  int    `json:"rating"`
	Notes   string `json:"notes"`
}

// handleScorecard re-evaluates data quality so the scorecard is always
// current, then folds in the adoption, utilisation, and satisfaction
// proxies.
func (s *Server) handleScorecard(w http.ResponseWriter, r *http.Request) {
	result, err := s.evaluator.Evaluate(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	defs, err := s.store.KPIDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	usage, err := s.store.APIUsageByEndpoint(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	avgRating, feedbackCount, err := s.store.FeedbackSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	totalRequests := 0
	for _, u := range usage {
		totalRequests += u.RequestCount
	}

	var latestDQ *float64
	if date, err := s.store.LatestKPIDate(r.Context(), kpi.KPIDataQuality); err == nil {
		if value, err := s.store.KPIValue(r.Context(), kpi.KPIDataQuality, date); err == nil {
			latestDQ = &value
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":     roleFrom(r.Context()),
		"markdown": quality.RenderScorecard(result),
		"checks":   result.Checks,
		"metrics": map[string]any{
			"framework_adoption_proxy_pct": kpi.FrameworkAdoption(defs),
			"latest_data_quality_score":    latestDQ,
			"bi_utilisation_proxy": map[string]any{
				"total_requests": totalRequests,
				"by_endpoint":    usage,
			},
			"stakeholder_satisfaction_proxy": map[string]any{
				"average_rating": avgRating,
				"feedback_count": feedbackCount,
			},
		},
	})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	log, err := s.store.ContractLog(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"role":           roleFrom(r.Context()),
		"validation_log": log,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	if err := s.store.AttachFeedback(r.Context(), req.AuditID, req.Rating, req.Notes); err != nil {
		if eris.Is(err, mart.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_id": req.AuditID,
		"rating":   req.Rating,
		"notes":    req.Notes,
	})
}
