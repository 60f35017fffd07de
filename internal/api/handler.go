package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hfsql/hfsql/internal/auth"
	"github.com/hfsql/hfsql/internal/config"
	"github.com/hfsql/hfsql/internal/explorer"
	"github.com/hfsql/hfsql/internal/observability"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Explorer          *explorer.Session
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

	routes := map[string]http.HandlerFunc{
		"GET /v1/views":               func(w http.ResponseWriter, r *http.Request) { handleListViews(deps, w, r) },
		"POST /v1/views":              func(w http.ResponseWriter, r *http.Request) { handleRegisterViews(deps, w, r) },
		"POST /v1/views/load":         func(w http.ResponseWriter, r *http.Request) { handleLoadViews(deps, w, r) },
		"POST /v1/query":              func(w http.ResponseWriter, r *http.Request) { handleQuery(deps, w, r) },
		"GET /v1/query/rows":          func(w http.ResponseWriter, r *http.Request) { handleQueryRows(deps, w, r) },
		"POST /v1/query/cancel":       func(w http.ResponseWriter, r *http.Request) { handleQueryCancel(deps, w, r) },
		"GET /v1/query/status":        func(w http.ResponseWriter, r *http.Request) { handleQueryStatus(deps, w, r) },
		"GET /v1/preferences":         func(w http.ResponseWriter, r *http.Request) { handleGetPreferences(deps, w, r) },
		"PUT /v1/preferences":         func(w http.ResponseWriter, r *http.Request) { handlePutPreferences(deps, w, r) },
		"POST /v1/exports":            func(w http.ResponseWriter, r *http.Request) { handleCreateExport(deps, w, r) },
		"GET /v1/exports":             func(w http.ResponseWriter, r *http.Request) { handleListExports(deps, w, r) },
		"GET /v1/exports/{key...}":    func(w http.ResponseWriter, r *http.Request) { handleGetExport(deps, w, r) },
		"DELETE /v1/exports/{key...}": func(w http.ResponseWriter, r *http.Request) { handleDeleteExport(deps, w, r) },
	}

	var wrap func(http.Handler) http.Handler
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			wrap = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		} else {
			wrap = deps.AuthMiddleware
		}
	}
	for pattern, handler := range routes {
		var h http.Handler = handler
		if deps.Explorer == nil {
			h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_INITIALIZED", "explorer is not configured", true, nil)
			})
		}
		if wrap != nil {
			h = wrap(h)
		}
		mux.Handle(pattern, h)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckEngine fails until the engine accepts queries.
func CheckEngine(session *explorer.Session) ReadinessCheck {
	return func(ctx context.Context) error {
		if session == nil {
			return errors.New("explorer is not configured")
		}
		if _, err := session.Views(ctx); err != nil {
			return fmt.Errorf("engine not ready: %w", err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return nil
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
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

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func principalFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Principal
	}
	return ""
}

// requireRole passes unauthenticated requests; auth is then disabled.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.Allows(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func isAdmin(r *http.Request) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	return !ok || identity.HasRole(auth.RoleExplorerAdmin)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
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
