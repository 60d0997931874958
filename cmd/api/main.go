// Package main is the entrypoint for the stackstart API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/stackstart/stackstart/internal/cache"
	"github.com/stackstart/stackstart/internal/config"
	"github.com/stackstart/stackstart/internal/handler"
	"github.com/stackstart/stackstart/internal/identity"
	"github.com/stackstart/stackstart/internal/metrics"
	"github.com/stackstart/stackstart/internal/middleware"
	"github.com/stackstart/stackstart/internal/provisioning"
	"github.com/stackstart/stackstart/internal/repository"
	"github.com/stackstart/stackstart/internal/server"
	"github.com/stackstart/stackstart/internal/spam"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	// A local .env is optional and never overrides the real environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	reportPanics := false
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.AppEnv,
			Release:     "stackstart@" + version,
		}); err != nil {
			logger.Error("failed to initialize sentry", "error", err)
			os.Exit(1)
		}
		reportPanics = true
	}

	if cfg.MigrateOnStart {
		if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Error("failed to run migrations",
				slog.String("error", config.SanitizeError(err, cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", config.SanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", config.RedactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		repo.Close()
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", config.SanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", config.RedactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	verifier, err := identity.NewVerifier(identity.VerifierConfig{
		Secret:   []byte(cfg.IdentityJWTSecret),
		Issuer:   cfg.IdentityJWTIssuer,
		Audience: cfg.IdentityJWTAudience,
	})
	if err != nil {
		logger.Error("failed to create identity verifier", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	svc := provisioning.NewService(repo, provisioning.StaticEntitlements{}, logger, recorder,
		provisioning.WithTxTimeout(cfg.ProvisioningTxTimeout),
	)

	var classifier handler.SpamClassifier
	if cfg.SpamCheckEnabled() {
		c, err := spam.New(spam.Config{
			URL:               cfg.SpamClassifierURL,
			APIKey:            cfg.SpamClassifierAPIKey,
			Model:             cfg.SpamClassifierModel,
			Timeout:           cfg.SpamClassifierTimeout,
			RequestsPerSecond: cfg.SpamClassifierRPS,
		}, logger)
		if err != nil {
			logger.Error("failed to create spam classifier", "error", err)
			os.Exit(1)
		}
		classifier = c
	}

	deps := routerDeps{
		cfg:          cfg,
		logger:       logger,
		svc:          svc,
		repo:         repo,
		cache:        cacheClient,
		verifier:     verifier,
		recorder:     recorder,
		registry:     registry,
		classifier:   classifier,
		reportPanics: reportPanics,
	}
	r := setupRouter(deps)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	srv.OnShutdown("postgres", func(ctx context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(ctx context.Context) error {
		return cacheClient.Close()
	})
	if reportPanics {
		srv.OnShutdown("sentry", func(ctx context.Context) error {
			sentry.Flush(2 * time.Second)
			return nil
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"version", version,
		"spam_check_enabled", cfg.SpamCheckEnabled(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "stackstart")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// keyStore is the slice of the repository the router needs.
type keyStore interface {
	handler.HealthChecker
	middleware.APIKeyStore
}

// keyCache is the slice of the Redis cache the router needs.
type keyCache interface {
	handler.HealthChecker
	middleware.AuthCache
	middleware.RateLimiter
}

type routerDeps struct {
	cfg          *config.Config
	logger       *slog.Logger
	svc          *provisioning.Service
	repo         keyStore
	cache        keyCache
	verifier     middleware.TokenVerifier
	recorder     metrics.Recorder
	registry     *prometheus.Registry
	classifier   handler.SpamClassifier // nil disables the spam route
	reportPanics bool
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	logger := d.logger

	h := handler.New(version)
	healthHandler := handler.NewHealthHandler(d.repo, d.cache, logger)
	teamHandler := handler.NewTeamHandler(d.svc)
	projectHandler := handler.NewProjectHandler(d.svc, logger)
	apiKeyHandler := handler.NewAPIKeyHandler(d.svc)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger, d.cfg.IsDevelopment()))
	if d.reportPanics {
		// Re-panics so Recoverer still writes the response.
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/", h.Info)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Handle("/metrics", metrics.Handler(d.registry))

	identityAuth := middleware.Identity(d.verifier, logger)
	apiKeyAuth := middleware.APIKeyAuth(middleware.APIKeyAuthConfig{
		Logger:  logger,
		Store:   d.repo,
		Cache:   d.cache,
		Metrics: d.recorder,
	})
	rateLimit := middleware.RateLimitAPIKey(middleware.RateLimitConfig{
		Logger:            logger,
		Limiter:           d.cache,
		Metrics:           d.recorder,
		Enabled:           d.cfg.RateLimitAPIEnabled,
		RequestsPerMinute: d.cfg.RateLimitAPIRPM,
		Burst:             d.cfg.RateLimitAPIBurst,
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Identity-provider sessions
		r.Group(func(r chi.Router) {
			r.Use(identityAuth)

			r.Post("/me/team", teamHandler.Ensure)
			r.Get("/me/team", teamHandler.Get)

			r.Route("/teams/{teamID}", func(r chi.Router) {
				r.Use(teamHandler.RequireMember)
				r.Get("/projects", projectHandler.List)
				r.Post("/projects", projectHandler.Create)
				r.Get("/entitlements", teamHandler.Entitlements)
			})

			r.Post("/projects/{projectID}/api-keys", apiKeyHandler.Create)
		})

		// Project API keys
		r.Group(func(r chi.Router) {
			r.Use(apiKeyAuth)
			r.Use(rateLimit)

			r.Get("/key", handler.Whoami)
			if d.classifier != nil {
				r.Post("/spam-check", handler.NewSpamHandler(d.classifier, logger).Check)
			}
		})
	})

	return r
}
