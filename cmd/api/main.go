package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fichaclinica/intake-api/internal/api/router"
	"github.com/fichaclinica/intake-api/internal/app/bootstrap"
	"github.com/fichaclinica/intake-api/internal/audit"
	appconfig "github.com/fichaclinica/intake-api/internal/config"
	"github.com/fichaclinica/intake-api/internal/intake"
	"github.com/fichaclinica/intake-api/internal/observability/metrics"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

const sweepInterval = time.Minute

func main() {
	// Local development reads .env; deployments set the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting ficha clinica intake API",
		"env", cfg.Env,
		"port", cfg.Port,
		"version", cfg.AppVersion,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	formCfg, err := cfg.Form()
	if err != nil {
		logger.Error("failed to load form settings", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, cfg.DraftBackend == appconfig.DraftBackendRedis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	draftStore, closeDrafts, err := bootstrap.BuildDraftStore(cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build draft store", "error", err)
		os.Exit(1)
	}
	defer closeDrafts()

	metricsHandler, intakeMetrics := setupMetrics()
	repo := bootstrap.BuildRepository(pool, logger)

	opts := intake.Options{
		Config:     formCfg,
		Repository: repo,
		Drafts:     draftStore,
		Metrics:    intakeMetrics,
		Logger:     logger,
	}
	if sqlDB := bootstrap.OpenSQLDB(pool); sqlDB != nil {
		defer sqlDB.Close()
		opts.Audit = audit.NewStore(sqlDB)
	}

	forms := intake.NewRegistry(opts, cfg.FormIdleTTL)
	go forms.Run(ctx, sweepInterval)

	handler := intake.NewHandler(forms, repo, opts.Audit, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Intake:             handler,
		PractitionerSecret: cfg.PractitionerSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		Version:            cfg.AppVersion,
		Ping:               pingFunc(pool),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	forms.Close()

	logger.Info("server exited")
}

// setupMetrics creates a dedicated registry so /metrics only exposes this
// service plus the Go runtime collectors.
func setupMetrics() (http.Handler, *metrics.IntakeMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewIntakeMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func pingFunc(pool *pgxpool.Pool) func(ctx context.Context) error {
	if pool == nil {
		return nil
	}
	return pool.Ping
}
