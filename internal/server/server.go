// Package server exposes the mart over HTTP: KPI summaries, anomaly runs,
// explanations, governance surfaces, and automation management. Access is
// keyed: every request carries an x-api-key header mapping to a role, and
// role scoping narrows which KPIs each caller can see.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/anomaly"
	"github.com/sells-group/ops-copilot/internal/automation"
	"github.com/sells-group/ops-copilot/internal/config"
	"github.com/sells-group/ops-copilot/internal/drivers"
	"github.com/sells-group/ops-copilot/internal/explain"
	"github.com/sells-group/ops-copilot/internal/mart"
	"github.com/sells-group/ops-copilot/internal/quality"
)

// Server wires the HTTP surface to the analytics core.
type Server struct {
	store     mart.Store
	detector  *anomaly.Detector
	engine    *drivers.Engine
	assembler *explain.Assembler
	evaluator *quality.Evaluator
	trigger   *automation.Trigger

	cfg    config.ServerConfig
	scorer anomaly.Params
}

func New(
	store mart.Store,
	detector *anomaly.Detector,
	engine *drivers.Engine,
	assembler *explain.Assembler,
	evaluator *quality.Evaluator,
	trigger *automation.Trigger,
	cfg config.ServerConfig,
	scorer anomaly.Params,
) *Server {
	return &Server{
		store:     store,
		detector:  detector,
		engine:    engine,
		assembler: assembler,
		evaluator: evaluator,
		trigger:   trigger,
		cfg:       cfg,
		scorer:    scorer,
	}
}

// Router builds the chi router with the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(s.requestID)
	r.Use(s.resolveRole)
	r.Use(s.recordUsage)

	r.Get("/health", s.handleHealth)
	r.Get("/auth/whoami", s.handleWhoami)

	r.Group(func(r chi.Router) {
		r.Use(s.requireRole)

		r.Get("/kpis/summary", s.handleKPISummary)
		r.Get("/kpis/timeseries", s.handleKPITimeseries)
		r.Get("/kpis/definitions", s.handleKPIDefinitions)

		r.Get("/anomalies", s.handleAnomalies)
		r.Post("/anomalies/run", s.handleAnomalyRun)

		r.Post("/explain", s.handleExplain)
		r.Post("/explain/ask", s.handleAsk)

		r.Get("/governance/scorecard", s.handleScorecard)
		r.Get("/governance/contracts", s.handleContracts)
		r.Post("/feedback", s.handleFeedback)

		r.Get("/automations", s.handleAutomationList)
		r.Post("/automations/register", s.handleAutomationRegister)
		r.Post("/automations/test", s.handleAutomationTest)
		r.Get("/automations/runs", s.handleAutomationRuns)
	})

	return r
}

// ListenAndServe starts the server and shuts down cleanly when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", s.cfg.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	latest, err := s.store.LatestKPIDate(r.Context(), "data_quality_score")
	if err != nil {
		latest = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"latest_kpi_date": latest,
	})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"resolved_role": roleFrom(r.Context()),
		"message":       "Use the x-api-key header to authenticate.",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
