package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/background"
	"github.com/BradenHooton/garage/internal/config"
	"github.com/BradenHooton/garage/internal/database"
	"github.com/BradenHooton/garage/internal/handlers"
	middlewareCustom "github.com/BradenHooton/garage/internal/middleware"
	"github.com/BradenHooton/garage/internal/observability"
	"github.com/BradenHooton/garage/internal/repositories"
	"github.com/BradenHooton/garage/internal/routes"
	"github.com/BradenHooton/garage/internal/services"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
	pkglogger "github.com/BradenHooton/garage/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("garage api exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("admission_store", cfg.Admission.Store),
		slog.Bool("google_simulated", cfg.Google.Simulated()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Repositories
	principalRepo := repositories.NewPrincipalRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	oauthRepo := repositories.NewOAuthAccountRepository(db)
	mfaRepo := repositories.NewMFAEnrollmentRepository(db)
	auditRepo := repositories.NewLoginAuditRepository(db)
	requestRepo := repositories.NewRequestLogRepository(db)
	vehicleRepo := repositories.NewVehicleRepository(db)
	attemptRepo := repositories.NewAttemptRecordRepository(db)

	healthDeps := map[string]handlers.Pinger{
		"database": handlers.PingFunc(db.HealthCheck),
	}

	// Admission store
	policy := services.BackoffPolicy{IdleWindow: cfg.Admission.IdleWindow, Steps: cfg.Admission.Steps}
	recordTTL := policy.IdleWindow + policy.MaxLockout()

	var attemptStore services.AttemptStore
	var suspicious services.SuspiciousClientLister
	switch cfg.Admission.Store {
	case config.AdmissionStoreMemory:
		attemptStore = repositories.NewMemoryAttemptStore(cfg.Admission.MemoryMaxEntries, recordTTL)
	case config.AdmissionStoreRedis:
		client, err := repositories.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()
		store := repositories.NewRedisAttemptStore(client, cfg.Redis.KeyPrefix, recordTTL)
		attemptStore = store
		healthDeps["redis"] = store
	default:
		attemptStore = attemptRepo
		suspicious = attemptRepo
	}

	admission := services.NewAdmissionController(attemptStore, policy, cfg.Admission.StoreTimeout, logger,
		services.WithAdmissionMetrics(metrics))

	// Auth primitives
	tokenManager := auth.NewTokenManager(auth.TokenConfig{
		Secret:       cfg.Auth.JWTSecret,
		Issuer:       cfg.Auth.JWTIssuer,
		Audience:     cfg.Auth.JWTAudience,
		SessionTTL:   cfg.Auth.SessionTTL,
		ChallengeTTL: cfg.Auth.ChallengeTTL,
	})

	totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		return err
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingBaseDelayMs,
		RandomDelayMs: cfg.Auth.TimingRandomDelayMs,
	})

	var identities auth.IdentityVerifier = auth.SimulatedVerifier{}
	if !cfg.Google.Simulated() {
		google, err := auth.NewGoogleVerifier(ctx, cfg.Google.ClientID)
		if err != nil {
			return err
		}
		identities = google
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, delegated logins are simulated")
	}

	var notifier services.Notifier = services.NewLogNotifier(logger)
	if cfg.Email.Enabled() {
		ses, err := services.NewSESNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			return err
		}
		notifier = ses
	}

	// Services
	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(auditRepo, requestRepo, suspicious, auditLogger, logger, 2*time.Second)
	mfaService := services.NewMFAService(mfaRepo, totpManager, notifier, auditLogger, logger)
	loginService := services.NewLoginService(
		principalRepo,
		credentialRepo,
		oauthRepo,
		mfaService,
		admission,
		auditService,
		tokenManager,
		identities,
		timingDelay,
		metrics,
		services.LoginConfig{EnforceOnHashed: cfg.MFA.EnforceOnHashed},
		logger,
	)
	registrationService := services.NewRegistrationService(principalRepo, auditLogger, logger)
	principalService := services.NewPrincipalService(principalRepo, auditLogger, logger)
	vehicleService := services.NewVehicleService(vehicleRepo, logger)

	if cfg.Bootstrap.AdminUsername != "" && cfg.Bootstrap.AdminPassword != "" {
		var email *string
		if cfg.Bootstrap.AdminEmail != "" {
			email = &cfg.Bootstrap.AdminEmail
		}
		bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		created, err := registrationService.BootstrapSuperAdmin(bootCtx, cfg.Bootstrap.AdminUsername, email, cfg.Bootstrap.AdminPassword)
		cancel()
		if err != nil {
			logger.Error("failed to bootstrap super admin", slog.Any("error", err))
		} else if created {
			logger.Info("super admin created", slog.String("username", cfg.Bootstrap.AdminUsername))
		}
	}

	// HTTP
	ipConfig, invalid := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	for _, entry := range invalid {
		logger.Warn("ignoring invalid trusted proxy", slog.String("entry", entry))
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middlewareCustom.AuditRequests(auditService, ipConfig))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middleware.Timeout(30 * time.Second))

	authRateLimit := middlewareCustom.DefaultAuthRateLimit(ipConfig)
	if cfg.Auth.RateLimitPerMinute > 0 {
		authRateLimit.RequestsPerMinute = cfg.Auth.RateLimitPerMinute
	}

	routes.RegisterRoutes(router, routes.Handlers{
		Auth:       handlers.NewAuthHandler(loginService, registrationService, ipConfig, logger),
		MFA:        handlers.NewMFAHandler(mfaService, principalRepo, logger),
		Audit:      handlers.NewAuditHandler(auditService, logger),
		Principals: handlers.NewPrincipalHandler(principalService, logger),
		Vehicles:   handlers.NewVehicleHandler(vehicleService, logger),
		Health:     handlers.NewHealthHandler(healthDeps, logger),
		Metrics:    metrics.Handler(),
	}, tokenManager, principalRepo, authRateLimit, logger)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Background cleanup
	retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
	cleanupManager := background.NewCleanupManager(admission, auditService,
		func(context.Context) { metrics.RecordPoolStats(db.Pool.Stat()) },
		background.CleanupConfig{Interval: cfg.Admission.SweepInterval, AuditRetention: retention},
		logger)
	go cleanupManager.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	cleanupManager.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	auditService.Wait()

	logger.Info("server stopped gracefully")
	return nil
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
