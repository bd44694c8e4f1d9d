package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/ops-copilot/internal/model"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	roleKey      contextKey = "role"

	roleAnonymous = "anonymous"
)

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func roleFrom(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return roleAnonymous
}

// requestID tags every request with a uuid, echoed back in x-request-id and
// threaded through to the explain audit log.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// resolveRole maps the x-api-key header to a role. Unknown or missing keys
// resolve to anonymous; enforcement happens in requireRole so open routes
// like /health still see a role.
func (s *Server) resolveRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := roleAnonymous
		if key := r.Header.Get("X-API-Key"); key != "" {
			if mapped, ok := s.cfg.APIKeys[key]; ok {
				role = mapped
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey, role)))
	})
}

func (s *Server) requireRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if roleFrom(r.Context()) == roleAnonymous {
			writeError(w, http.StatusUnauthorized, "Invalid or missing x-api-key.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the usage log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// recordUsage appends one api_usage_log row per request. Health checks are
// skipped so probes don't inflate the BI utilisation KPI.
func (s *Server) recordUsage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if strings.HasPrefix(r.URL.Path, "/health") {
			return
		}

		usage := model.APIUsage{
			Endpoint:    r.URL.Path,
			Method:      r.Method,
			Role:        roleFrom(r.Context()),
			StatusCode:  rec.status,
			RequestedAt: time.Now().UTC().Format(time.RFC3339),
			RequestID:   requestIDFrom(r.Context()),
		}
		if err := s.store.RecordAPIUsage(r.Context(), usage); err != nil {
			zap.L().Debug("usage log failed", zap.Error(err))
		}
	})
}
