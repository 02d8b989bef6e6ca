package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/patterns"
	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/safety"
	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/session"
)

const maxRequestBodyBytes = 64 << 10

type ReadinessCheck func(ctx context.Context) error

// Asker runs one question through the pipeline.
type Asker interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Asker
	Metrics           *pipeline.Metrics
	Validator         *safety.Validator
	Schemas           *schema.Cache
	Source            schema.Source
	Sessions          *session.Manager
	Patterns          patterns.Store
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/metrics/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if deps.Metrics == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "METRICS_NOT_CONFIGURED", "pipeline metrics are not configured", false, nil)
			return
		}
		writeJSON(w, http.StatusOK, deps.Metrics.Snapshot())
	})

	h := &handlers{cfg: cfg, deps: deps}
	protected := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"POST /v1/ask":                h.handleAsk,
		"POST /v1/validate":           h.handleValidate,
		"GET /v1/schema":              h.handleSchema,
		"POST /v1/schema/refresh":     h.handleSchemaRefresh,
		"GET /v1/sessions/{id}/turns": h.handleSessionTurns,
		"DELETE /v1/sessions/{id}":    h.handleSessionClose,
		"GET /v1/patterns":            h.handleTopPatterns,
		"GET /v1/patterns/lookup":     h.handlePatternLookup,
		"GET /v1/patterns/similar":    h.handleSimilarPatterns,
	}
	for pattern, handler := range routes {
		protected.HandleFunc(pattern, handler)
	}

	var protectedHandler http.Handler = auth.RequireRole(auth.RoleAnalyst)(protected)
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range routes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	middlewares = append(middlewares, observability.SpanMiddleware, observability.MetricsMiddleware)
	return chain(mux, middlewares...)
}

type handlers struct {
	cfg  config.Config
	deps Dependencies
}

// details returns err's text for the error context when the deployment allows
// it, and nil otherwise.
func (h *handlers) details(err error) map[string]any {
	if err == nil || !h.cfg.API.ExposeErrorDetails {
		return nil
	}
	return map[string]any{"details": err.Error()}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// CheckPing adapts anything with a Ping method, such as a query source or the
// object store, into a readiness check.
func CheckPing(name string, pinger interface{ Ping(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		if pinger == nil {
			return errors.New(name + " is not configured")
		}
		if err := pinger.Ping(ctx); err != nil {
			return errors.New(name + " is not reachable: " + err.Error())
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
