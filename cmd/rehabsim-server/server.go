package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/rehabsim/scheduler/internal/config"
	"github.com/rehabsim/scheduler/internal/domain/analytics"
	"github.com/rehabsim/scheduler/internal/domain/scheduling"
	"github.com/rehabsim/scheduler/internal/platform/auth"
	"github.com/rehabsim/scheduler/internal/platform/db"
	"github.com/rehabsim/scheduler/internal/platform/lock"
	"github.com/rehabsim/scheduler/internal/platform/metrics"
	"github.com/rehabsim/scheduler/internal/platform/middleware"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// router holds what the HTTP surface needs. pool may be nil in tests that
// never reach a cohort route.
type router struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	registry  *prometheus.Registry
	scheduler *scheduling.Service
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (r *router) build() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(r.logger))
	e.Use(middleware.RequestID())
	e.Use(metrics.NewHTTPMetrics(r.registry).Middleware())
	e.Use(middleware.Logger(r.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: r.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.CohortHeader},
	}))
	e.Use(middleware.RequestTimeout(requestTimeout, "/metrics"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if r.pool != nil {
		e.GET("/health/db", db.HealthHandler(r.pool))
	}
	e.GET("/metrics", metrics.Handler(r.registry))

	api := e.Group("/api/v1")
	api.Use(auth.JWTMiddleware(jwtConfig(r.cfg)))
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	if r.pool != nil {
		api.Use(db.CohortMiddleware(r.pool, r.cfg.DefaultCohort))
	}

	scheduling.NewHandler(r.scheduler).RegisterRoutes(api)
	analytics.NewHandler(analytics.NewService(r.scheduler)).RegisterRoutes(api)

	return e
}

// newLocker uses Redis when REDIS_URL is set so several replicas share
// clinician locks; a single process falls back to an in-memory locker.
func newLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set, using in-process clinician locks")
		return lock.NewLocalLocker(), func() {}, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info().Msg("clinician locks backed by redis")
	return lock.NewRedisLocker(client), func() { client.Close() }, nil
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if cfg.IsDev() {
		n, err := db.NewMigrator(pool, migrationSource("")).Up(ctx, db.CohortSchema(cfg.DefaultCohort))
		if err != nil {
			return fmt.Errorf("migrate default cohort: %w", err)
		}
		logger.Info().Int("applied", n).Str("cohort", cfg.DefaultCohort).Msg("default cohort migrated")
	}

	locker, closeLocker, err := newLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	reg := newRegistry()
	svc, err := newSchedulingService(cfg, pool, locker, metrics.NewSchedulingMetrics(reg), logger)
	if err != nil {
		return err
	}

	e := (&router{cfg: cfg, logger: logger, pool: pool, registry: reg, scheduler: svc}).build()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
