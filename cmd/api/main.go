// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/modelforge/internal/admin"
	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/conversion"
	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/health"
	"github.com/carterperez-dev/modelforge/internal/identity"
	"github.com/carterperez-dev/modelforge/internal/ledger"
	"github.com/carterperez-dev/modelforge/internal/metrics"
	"github.com/carterperez-dev/modelforge/internal/middleware"
	"github.com/carterperez-dev/modelforge/internal/migration"
	"github.com/carterperez-dev/modelforge/internal/payment"
	"github.com/carterperez-dev/modelforge/internal/plan"
	"github.com/carterperez-dev/modelforge/internal/server"
)

const (
	drainDelay = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// store is the ledger backend chosen by config together with what the
// health and admin surfaces need to observe it.
type store struct {
	repo    ledger.Repository
	checker health.Checker
	dbStats func() sql.DBStats
	close   func(ctx context.Context) error
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath string) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"store", cfg.Store.Driver,
	)

	var telemetry *core.Telemetry
	if cfg.Otel.Enabled {
		tel, telErr := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
		if telErr != nil {
			logger.Warn("failed to initialize telemetry", "error", telErr)
		} else {
			telemetry = tel
			logger.Info("OpenTelemetry tracer initialized",
				"endpoint", cfg.Otel.Endpoint,
			)
		}
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	catalog, err := plan.NewCatalog(cfg.Plans)
	if err != nil {
		return err
	}
	planHandler := plan.NewHandler(catalog)

	ledgerSvc := ledger.NewService(st.repo, cfg.Credits.StarterBalance, collector, logger)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	gate := ledger.NewGate(ledgerSvc, ledger.NewRedisLocker(redis.Client), cfg.Conversion.LockTTL)

	keys := identity.NewRemoteKeys(cfg.Identity.JWKSURL, cfg.Identity.RefreshInterval, logger)
	if _, keyErr := keys.KeySet(ctx, false); keyErr != nil {
		logger.Warn("initial JWKS fetch failed, will retry on demand", "error", keyErr)
	}
	verifier := identity.NewVerifier(keys, cfg.Identity)
	logger.Info("identity verifier initialized",
		"jwks_url", cfg.Identity.JWKSURL,
		"issuer", cfg.Identity.Issuer,
	)

	paymentSvc := payment.NewService(payment.ServiceConfig{
		Gateway: payment.NewRazorpayClient(cfg.Payment),
		Catalog: catalog,
		Ledger:  ledgerSvc,
		Payment: cfg.Payment,
		Metrics: collector,
		Logger:  logger,
	})
	paymentHandler := payment.NewHandler(paymentSvc)

	proxy, err := conversion.NewProxy(cfg.Conversion)
	if err != nil {
		return err
	}
	conversionHandler := conversion.NewHandler(conversion.HandlerConfig{
		Converter:      proxy,
		Gate:           gate,
		MaxUploadBytes: cfg.Conversion.MaxUploadBytes,
		Metrics:        collector,
		Logger:         logger,
	})

	healthHandler := health.NewHandler(
		health.Dependency{Name: cfg.Store.Driver, Checker: st.checker},
		health.Dependency{Name: "redis", Checker: redis},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		StoreDriver: cfg.Store.Driver,
		DBStats:     st.dbStats,
		StorePing:   st.checker.Ping,
		RedisStats:  redis.PoolStats,
		RedisPing:   redis.Ping,
		RedisKeys:   redis.KeyCount,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	globalLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit: middleware.PerMinute(
			cfg.RateLimit.Requests,
			cfg.RateLimit.Burst,
		),
		FailOpen:   true,
		BypassFunc: isProbe(cfg.Metrics.Path),
	})
	conversionLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit: middleware.PerMinute(
			cfg.RateLimit.ConversionRequests,
			cfg.RateLimit.ConversionBurst,
		),
		KeyFunc:  middleware.KeyByUserAndEndpoint,
		FailOpen: true,
	})

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	if collector != nil {
		router.Use(middleware.Metrics(collector))
	}
	router.Use(globalLimiter.Handler)
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)
	if collector != nil {
		router.Method(http.MethodGet, cfg.Metrics.Path, collector.Handler())
	}

	authenticator := middleware.Authenticator(verifier)
	optionalAuth := middleware.OptionalAuth(verifier)
	adminOnly := middleware.RequireAdmin(cfg.Admin.Emails)

	planHandler.RegisterRoutes(router)
	ledgerHandler.RegisterRoutes(router, authenticator)
	paymentHandler.RegisterRoutes(router, optionalAuth)
	conversionHandler.RegisterRoutes(router, authenticator, conversionLimiter.Handler)

	router.Route("/v1", func(r chi.Router) {
		ledgerHandler.RegisterAdminRoutes(r, authenticator, adminOnly)
		adminHandler.RegisterRoutes(r, authenticator, adminOnly)
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	globalLimiter.Close()
	conversionLimiter.Close()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := st.close(shutdownCtx); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("application stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		m, err := core.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		if err := ledger.EnsureIndexes(ctx, m.DB); err != nil {
			//nolint:errcheck // cleanup on startup failure
			_ = m.Close(context.Background())
			return nil, err
		}
		logger.Info("mongo connected",
			"database", cfg.Mongo.Database,
			"max_pool_size", cfg.Mongo.MaxPoolSize,
		)
		return &store{
			repo:    ledger.NewMongoRepository(m.DB),
			checker: m,
			close:   m.Close,
		}, nil

	case config.StorePostgres:
		db, err := core.NewDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := migration.Up(db.DB.DB, logger); err != nil {
				_ = db.Close() //nolint:errcheck // cleanup on startup failure
				return nil, err
			}
		}
		logger.Info("database connected",
			"max_open_conns", cfg.Database.MaxOpenConns,
			"max_idle_conns", cfg.Database.MaxIdleConns,
		)
		return &store{
			repo:    ledger.NewPostgresRepository(db.DB),
			checker: db,
			dbStats: db.Stats,
			close:   func(context.Context) error { return db.Close() },
		}, nil

	case config.StoreMemory:
		repo := ledger.NewMemoryRepository()
		logger.Warn("using in-memory ledger, balances are lost on restart")
		return &store{
			repo:    repo,
			checker: repo,
			close:   func(context.Context) error { return nil },
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func isProbe(metricsPath string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		switch r.URL.Path {
		case "/healthz", "/livez", "/readyz", metricsPath:
			return true
		}
		return false
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
