package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/fichaclinica/intake-api/internal/http/middleware"
	"github.com/fichaclinica/intake-api/internal/intake"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Intake             *intake.Handler
	PractitionerSecret string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	Version            string

	// Ping reports backend health for /health (optional).
	Ping func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Practitioner API
	if cfg.Intake != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.PractitionerJWT(cfg.PractitionerSecret))
			if cfg.RateLimitRPS > 0 {
				burst := cfg.RateLimitBurst
				if burst <= 0 {
					burst = int(cfg.RateLimitRPS) + 1
				}
				api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, burst))
			}
			cfg.Intake.Routes(api)
		})
	}

	return r
}

func healthHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok"}
		if cfg.Version != "" {
			resp["version"] = cfg.Version
		}
		status := http.StatusOK
		if cfg.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.Ping(ctx); err != nil {
				if cfg.Logger != nil {
					cfg.Logger.Warn("health check failed", "error", err)
				}
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
