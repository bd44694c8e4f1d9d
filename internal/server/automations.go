package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/ops-copilot/internal/automation"
	"github.com/sells-group/ops-copilot/internal/model"
)

type automationRegisterRequest struct {
	Name       string          `json:"name"`
	TriggerKPI string          `json:"trigger_kpi"`
	Condition  json.RawMessage `json:"condition_json"`
	WebhookURL string          `json:"webhook_url"`
	Enabled    *bool           `json:"enabled"`
}

type automationTestRequest struct {
	Name       string          `json:"name"`
	WebhookURL string          `json:"webhook_url"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *Server) handleAutomationRegister(w http.ResponseWriter, r *http.Request) {
	var req automationRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" || req.TriggerKPI == "" || req.WebhookURL == "" {
		writeError(w, http.StatusBadRequest, "name, trigger_kpi, and webhook_url are required")
		return
	}

	defs, err := s.store.KPIDefinitions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	known := false
	for _, def := range defs {
		if def.KPIName == req.TriggerKPI {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "Unknown KPI: "+req.TriggerKPI)
		return
	}

	condition := "{}"
	if len(req.Condition) > 0 {
		condition = string(req.Condition)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	id, err := s.store.RegisterAutomation(r.Context(), model.Automation{
		Name:       req.Name,
		TriggerKPI: req.TriggerKPI,
		Condition:  condition,
		WebhookURL: req.WebhookURL,
		Enabled:    enabled,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			writeError(w, http.StatusConflict, "Automation name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"name":    req.Name,
		"enabled": enabled,
	})
}

// handleAutomationTest fires a one-off webhook without touching the run
// log, so the rule can be verified before it is armed.
func (s *Server) handleAutomationTest(w http.ResponseWriter, r *http.Request) {
	var req automationTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WebhookURL == "" {
		writeError(w, http.StatusBadRequest, "webhook_url is required")
		return
	}

	payload := req.Payload
	if len(payload) == 0 {
		body := map[string]any{
			"event":     "automation_test",
			"name":      req.Name,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		payload, _ = json.Marshal(body)
	}

	dispatcher := automation.NewDispatcher(0)
	result, err := dispatcher.Dispatch(r.Context(), req.WebhookURL, payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":          req.Name,
		"webhook_url":   req.WebhookURL,
		"status":        result.Status,
		"response_code": result.ResponseCode,
		"response_body": result.ResponseBody,
	})
}

func (s *Server) handleAutomationList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.Automations(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type listedAutomation struct {
		model.Automation
		Condition automation.Condition `json:"condition_json"`
	}
	listed := make([]listedAutomation, 0, len(items))
	for _, item := range items {
		listed = append(listed, listedAutomation{
			Automation: item,
			Condition:  automation.ParseCondition(item.Condition),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(listed),
		"items": listed,
	})
}

func (s *Server) handleAutomationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.AutomationRuns(r.Context(), 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(runs),
		"items": runs,
	})
}
