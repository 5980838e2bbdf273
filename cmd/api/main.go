package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/motorshield/warranty-api/internal/di"
	"github.com/motorshield/warranty-api/internal/handlers"
	"github.com/motorshield/warranty-api/internal/platform/config"
	"github.com/motorshield/warranty-api/internal/platform/idempotency"
	"github.com/motorshield/warranty-api/internal/platform/observability"
	"github.com/motorshield/warranty-api/internal/platform/requestctx"
	"github.com/motorshield/warranty-api/internal/platform/secrets"
	"github.com/motorshield/warranty-api/internal/services"
)

const installmentsWebhookSecret = "installments"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(baseLogger),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), container.Idempotency, cfg.Idempotency)
	}()

	router := handlers.NewRouter(routerOptions(logger, cfg, container, buildInfo)...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("warranty api listening", zap.String("environment", buildInfo.Environment), zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func routerOptions(logger *zap.Logger, cfg config.Config, container *di.Container, build services.BuildInfo) []handlers.Option {
	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(container.Services.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
	}

	if container.Services.Quotes != nil {
		limiter := handlers.NewRateLimiter(cfg.Pricing.QuoteRateLimit, cfg.Pricing.QuoteRateWindow, time.Now)
		quoteHandlers := handlers.NewQuoteHandlers(container.Services.Quotes, handlers.WithQuoteRateLimit(limiter))
		opts = append(opts, handlers.WithQuoteRoutes(quoteHandlers.Routes))
	}

	idempotencyMiddleware := idempotency.Middleware(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
		idempotency.WithOptionalKey(),
		idempotency.WithScope(func(r *http.Request) string { return requestctx.SessionID(r.Context()) }),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout, container.Tokens,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
	)
	opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.Routes))

	var installmentsAuth func(http.Handler) http.Handler
	if _, ok := cfg.Security.HMAC.Secrets[installmentsWebhookSecret]; ok {
		installmentsAuth = container.Webhooks.RequireHMAC(installmentsWebhookSecret)
	} else {
		logger.Warn("installments webhook secret not configured; installments webhooks disabled")
	}
	webhookHandlers := handlers.NewPaymentWebhookHandlers(container.Payments, container.Services.Checkout, installmentsAuth)
	opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))

	return opts
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	if store == nil || cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["WARRANTY_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("WARRANTY_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("WARRANTY_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("WARRANTY_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter("github.com/motorshield/warranty-api/cmd/api")),
	}
	if raw := lookup("WARRANTY_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse WARRANTY_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets startup cannot proceed without. PSP credentials are
// optional because a missing provider degrades to the other payment method.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Sessions.TokenSecret"}
	if strings.EqualFold(strings.TrimSpace(env["WARRANTY_SESSIONS_BACKEND"]), config.SessionsBackendRedis) &&
		strings.TrimSpace(env["WARRANTY_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	if strings.TrimSpace(env["WARRANTY_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	if strings.TrimSpace(env["WARRANTY_STORAGE_SIGNER_KEY"]) != "" {
		required = append(required, "Storage.SignerKey")
	}
	for _, key := range parseHMACSecretKeys(env["WARRANTY_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

func parseHMACSecretKeys(raw string) []string {
	var keys []string
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if ok && name != "" && strings.TrimSpace(value) != "" {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys
}
