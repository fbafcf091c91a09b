package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/labprice/labprice/internal/config"
	"github.com/labprice/labprice/internal/domain/bundle"
	"github.com/labprice/labprice/internal/domain/catalog"
	"github.com/labprice/labprice/internal/domain/comparison"
	"github.com/labprice/labprice/internal/domain/mapping"
	"github.com/labprice/labprice/internal/platform/auth"
	"github.com/labprice/labprice/internal/platform/db"
	"github.com/labprice/labprice/internal/platform/middleware"
	"github.com/labprice/labprice/internal/platform/scheduling"
	"github.com/labprice/labprice/internal/platform/telemetry"
)

const version = "0.1.0"

type services struct {
	catalog     *catalog.Service
	mappings    *mapping.Service
	deals       *bundle.Service
	comparisons *comparison.Service
}

// newServices wires repositories and services. metrics may be nil.
func newServices(pool *pgxpool.Pool, logger zerolog.Logger, metrics *telemetry.Metrics) *services {
	tx := db.NewTxRunner(pool)

	catalogSvc := catalog.NewService(
		catalog.NewLaboratoryRepoPG(pool),
		catalog.NewPriceListRepoPG(pool),
		catalog.NewTestRepoPG(pool),
		tx, logger.With().Str("component", "catalog").Logger(),
	)
	mappingSvc := mapping.NewService(mapping.NewMappingRepoPG(pool), catalogSvc, tx,
		logger.With().Str("component", "mapping").Logger())
	// Activation repoints mapping entries onto the new list.
	catalogSvc.SetRepointer(mappingSvc)
	catalogSvc.SetMetrics(metrics)

	dealSvc := bundle.NewService(bundle.NewDealRepoPG(pool), mappingSvc, tx,
		logger.With().Str("component", "bundle").Logger())

	comparisonSvc := comparison.NewService(mappingSvc, dealSvc, tx,
		logger.With().Str("component", "comparison").Logger())
	comparisonSvc.SetMetrics(metrics)

	return &services{
		catalog:     catalogSvc,
		mappings:    mappingSvc,
		deals:       dealSvc,
		comparisons: comparisonSvc,
	}
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, svcs *services, metrics *telemetry.Metrics, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Validator = middleware.NewRequestValidator()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if metrics != nil {
		e.Use(metrics.Middleware())
		e.GET("/metrics", metrics.Handler())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Auth middleware
	apiV1 := e.Group("/api/v1")
	if cfg.AuthSigningKey != "" {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	} else {
		apiV1.Use(auth.DevAuthMiddleware())
	}

	catalog.NewHandler(svcs.catalog).RegisterRoutes(apiV1)
	mapping.NewHandler(svcs.mappings).RegisterRoutes(apiV1)
	bundle.NewHandler(svcs.deals).RegisterRoutes(apiV1)
	comparison.NewHandler(svcs.comparisons).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var metrics *telemetry.Metrics
	if cfg.MetricsEnabled {
		metrics = telemetry.NewMetrics(true)
	}
	svcs := newServices(pool, logger, metrics)
	e := newServer(cfg, pool, svcs, metrics, logger)

	// Scheduled activation
	sched := scheduling.New(logger.With().Str("component", "scheduler").Logger())
	scheduled, err := sched.ScheduleActivation(cfg.ActivationSchedule, svcs.catalog)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ACTIVATION_SCHEDULE")
	}
	if scheduled {
		sched.Start()
		logger.Info().Str("schedule", cfg.ActivationSchedule).Msg("price list activation scheduled")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	<-sched.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
