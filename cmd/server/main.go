package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yourorg/cliniccore/internal/handler"
	"github.com/yourorg/cliniccore/internal/infrastructure/logger"
	"github.com/yourorg/cliniccore/internal/infrastructure/redis"
	"github.com/yourorg/cliniccore/internal/observability/metrics"
	"github.com/yourorg/cliniccore/internal/observability/tracing"
	"github.com/yourorg/cliniccore/internal/repository"
	"github.com/yourorg/cliniccore/internal/security/audit"
	"github.com/yourorg/cliniccore/internal/security/auth"
	"github.com/yourorg/cliniccore/internal/security/middleware"
	"github.com/yourorg/cliniccore/internal/security/ratelimit"
	"github.com/yourorg/cliniccore/internal/service"
	"github.com/yourorg/cliniccore/internal/tenant"
	"github.com/yourorg/cliniccore/internal/worker"
	"github.com/yourorg/cliniccore/pkg/config"
	"github.com/yourorg/cliniccore/pkg/database"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}

	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting cliniccore",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log, "cliniccore", cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	pool, err := database.NewPool(ctx, &database.Config{
		Host:     cfg.DatabaseHost,
		Port:     cfg.DatabasePort,
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		Database: cfg.DatabaseName,
		SSLMode:  cfg.DatabaseSSLMode,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := tenant.ApplyGlobal(ctx, pool.DB(), log); err != nil {
		return fmt.Errorf("failed to apply global migrations: %w", err)
	}

	// Redis is optional: the resolver and denylist degrade to
	// Postgres-only behavior without it.
	var redisClient *redis.Client
	if rc, err := redis.NewClient(cfg.RedisURL); err != nil {
		log.Warn("redis unavailable, running without shared cache", slog.String("error", err.Error()))
	} else {
		redisClient = rc
		defer redisClient.Close()
	}

	tenantRepo := repository.NewTenantRepository(pool.DB())
	directoryRepo := repository.NewDirectoryRepository(pool.DB())
	billingRepo := repository.NewBillingRepository(pool.DB())
	userStores := repository.NewUserStores(pool)

	auditLog := audit.NewLogger(log)
	resolver := tenant.NewResolver(tenantRepo, redisClient, cfg.TenantCacheTTL, log)
	provisioner := tenant.NewProvisioner(pool.DB(), auditLog, log)
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	authService := service.NewAuthService(directoryRepo, tenantRepo, userStores, tokenManager, redisClient, auditLog, log)

	limiter := ratelimit.NewLimiter(300, time.Minute)
	defer limiter.Stop()

	authHandler := handler.NewAuthHandler(authService, limiter, log)
	provisionHandler := handler.NewProvisionHandler(provisioner, limiter, cfg.DefaultPlanSlug, log)
	tenantHandler := handler.NewTenantHandler(tenantRepo, resolver, log)
	healthHandler := handler.NewHealthHandler(pool, redisClient, log)

	requireAuth := middleware.Authenticate(authService, log)
	requireAdmin := middleware.AdminKey(cfg.AdminAPIKey)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler.Live)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.Handle("POST /api/auth/logout", middleware.Chain(http.HandlerFunc(authHandler.Logout), requireAuth))
	mux.Handle("GET /api/auth/me", middleware.Chain(http.HandlerFunc(authHandler.Me), requireAuth))

	mux.HandleFunc("POST /api/signup", provisionHandler.Signup)
	mux.HandleFunc("GET /api/tenants/{slug}/exists", tenantHandler.Exists)

	mux.Handle("POST /api/admin/tenants", middleware.Chain(http.HandlerFunc(provisionHandler.Create), requireAdmin))
	mux.Handle("GET /api/admin/tenants", middleware.Chain(http.HandlerFunc(tenantHandler.List), requireAdmin))
	mux.Handle("PATCH /api/admin/tenants/{id}/status", middleware.Chain(http.HandlerFunc(tenantHandler.UpdateStatus), requireAdmin))

	root := middleware.Chain(mux,
		middleware.CORS(cfg.CORSAllowedOrigins),
		metrics.Middleware,
		middleware.TenantContext(resolver, log),
		middleware.RateLimit(limiter),
		middleware.ValidateJSON,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      otelhttp.NewHandler(root, "cliniccore"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweeper := worker.NewTenantSweeper(pool, tenantRepo, billingRepo, cfg.SweepInterval, log)
	go sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}
