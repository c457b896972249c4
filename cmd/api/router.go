package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/ledger-reconciler/pkg/interceptors"
	"github.com/FACorreiaa/ledger-reconciler/pkg/observability"
)

// publicPaths skip bearer-token verification.
var publicPaths = []string{"/health", "/ready", "/metrics"}

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	jwtSecret := []byte(deps.Config.Auth.JWTSecret)
	if len(jwtSecret) == 0 {
		deps.Logger.Warn("JWT secret is empty; authentication middleware will reject requests")
	}

	var limiter *rate.Limiter
	if deps.Config.Server.RateLimit > 0 && deps.Config.Server.RateBurst > 0 {
		limiter = rate.NewLimiter(rate.Limit(deps.Config.Server.RateLimit), deps.Config.Server.RateBurst)
	}

	registerDomainRoutes(mux, deps)
	registerUtilityRoutes(mux, deps)

	// the metrics middleware must sit directly on the mux to see r.Pattern
	var inner http.Handler = mux
	if deps.Config.Observability.MetricsEnabled {
		inner = observability.NewMetricsMiddleware(mux)
	}

	tracer := otel.GetTracerProvider().Tracer("ledger-reconciler/api")
	handler := interceptors.Chain(inner,
		interceptors.NewRequestIDMiddleware("X-Request-ID"),
		interceptors.NewTracingMiddleware(tracer),
		interceptors.NewLoggingMiddleware(deps.Logger),
		interceptors.NewRecoveryMiddleware(deps.Logger),
		interceptors.NewRateLimitMiddleware(limiter),
		interceptors.NewAuthMiddleware(jwtSecret, publicPaths...),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           7200,
	})

	return corsHandler.Handler(handler)
}

// registerDomainRoutes registers the bank statement and reconciliation routes
func registerDomainRoutes(mux *http.ServeMux, deps *Dependencies) {
	deps.ImportHandler.Register(mux)
	deps.ReconcileHandler.Register(mux)
	deps.Logger.Info("domain routes configured", slog.String("prefix", "/v1/bank-transactions"))
}

// registerUtilityRoutes registers health check, metrics, and other utility routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, writeErr := w.Write([]byte("database unhealthy")); writeErr != nil {
				deps.Logger.Error("failed to write health response", slog.Any("error", writeErr))
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			deps.Logger.Error("failed to write health response", slog.Any("error", err))
		}
	})

	mux.HandleFunc("GET /health/details", func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			Status string `json:"status"`
			Detail string `json:"detail,omitempty"`
		}
		result := map[string]status{
			"db":     {Status: "ok"},
			"assist": {Status: "ok"},
			"ready":  {Status: "ok"},
		}

		if err := deps.DB.Health(r.Context()); err != nil {
			result["db"] = status{Status: "fail", Detail: err.Error()}
			result["ready"] = status{Status: "fail", Detail: "db unavailable"}
		}
		if deps.Assist == nil {
			result["assist"] = status{Status: "warn", Detail: "collaborator disabled, deterministic fallbacks in use"}
		}

		code := http.StatusOK
		if result["ready"].Status == "fail" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(result); err != nil {
			deps.Logger.Error("failed to encode health details", slog.Any("error", err))
		}
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			deps.Logger.Error("failed to write readiness response", slog.Any("error", err))
		}
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		interceptors.WriteJSON(w, http.StatusOK, map[string]string{
			"message": "Ledger reconciliation API",
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", slog.String("path", "/metrics"))
	}
}
