package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/estacao/agenda/internal/config"
	"github.com/estacao/agenda/internal/domain/scheduling"
	"github.com/estacao/agenda/internal/platform/auth"
	"github.com/estacao/agenda/internal/platform/cache"
	"github.com/estacao/agenda/internal/platform/db"
	"github.com/estacao/agenda/internal/platform/metrics"
	"github.com/estacao/agenda/internal/platform/middleware"
)

// backend is the storage the server runs on plus what /health/db reports.
type backend struct {
	store  scheduling.SlotStore
	pinger db.Pinger
	stats  func() *db.PoolStats
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func runServer(seeds []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulingMetrics(reg)

	var be backend
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn().Msg("using the in-memory slot store; data is lost on restart")
		be = backend{
			store:  scheduling.NewMemoryStore(),
			pinger: pingFunc(func(context.Context) error { return nil }),
		}
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		be = backend{
			store:  scheduling.NewSlotRepoPG(pool),
			pinger: pool,
			stats:  func() *db.PoolStats { return db.GetPoolStats(pool) },
		}
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			// Listings still work straight from the store.
			logger.Warn().Err(err).Msg("slot cache disabled")
		} else {
			defer client.Close()
			rc := cache.NewRedisRangeCache(client, "", cfg.SlotCacheTTL)
			be.store = scheduling.NewCachedStore(be.store, rc, logger, m)
			logger.Info().Dur("ttl", cfg.SlotCacheTTL).Msg("slot cache enabled")
		}
	}

	if len(seeds) > 0 {
		zones, err := scheduling.NewFixedZone(cfg.PractitionerTimezone)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid practitioner timezone")
		}
		gen := scheduling.NewGenerator(be.store, zones, logger)
		if _, err := seedCalendars(ctx, gen, seeds, time.Now().In(zones.Loc), cfg.CalendarHorizonDays); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed calendars")
		}
	}

	e, err := newServer(cfg, logger, be, reg, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// seedCalendars generates the calendar of each practitioner id in ids and
// returns how many slots were created in total.
func seedCalendars(ctx context.Context, gen *scheduling.Generator, ids []string, from time.Time, days int) (int, error) {
	total := 0
	for _, raw := range ids {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return total, fmt.Errorf("--seed %q must be a uuid: %w", raw, err)
		}
		n, err := gen.Generate(ctx, id, from, days)
		if err != nil {
			return total, fmt.Errorf("seed %s: %w", id, err)
		}
		total += n
	}
	return total, nil
}

// newServer wires the scheduling services onto an echo instance.
func newServer(cfg *config.Config, logger zerolog.Logger, be backend, reg *prometheus.Registry, m *metrics.SchedulingMetrics) (*echo.Echo, error) {
	zones, err := scheduling.NewFixedZone(cfg.PractitionerTimezone)
	if err != nil {
		return nil, fmt.Errorf("practitioner timezone: %w", err)
	}

	queries := scheduling.NewQueryEngine(be.store)
	toggles := scheduling.NewPropagator(be.store, logger, m)
	guard := scheduling.NewConflictGuard(be.store, zones)
	bookings := scheduling.NewCoordinator(be.store, guard, zones,
		scheduling.WithStoreTimeout(cfg.StoreTimeout),
		scheduling.WithLogger(logger),
		scheduling.WithMetrics(m),
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Auth middleware
	if cfg.DevAuth() {
		logger.Warn().Msg("development auth: requests are not authenticated")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(be.pinger, be.stats))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(queries, toggles, bookings, guard, logger).RegisterRoutes(apiV1)

	return e, nil
}
