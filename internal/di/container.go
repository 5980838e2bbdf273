package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/payments"
	"github.com/motorshield/warranty-api/internal/platform/auth"
	"github.com/motorshield/warranty-api/internal/platform/config"
	pfirestore "github.com/motorshield/warranty-api/internal/platform/firestore"
	"github.com/motorshield/warranty-api/internal/platform/idempotency"
	"github.com/motorshield/warranty-api/internal/platform/jobs"
	"github.com/motorshield/warranty-api/internal/platform/observability"
	pstorage "github.com/motorshield/warranty-api/internal/platform/storage"
	"github.com/motorshield/warranty-api/internal/repositories"
	firestoreRepo "github.com/motorshield/warranty-api/internal/repositories/firestore"
	"github.com/motorshield/warranty-api/internal/repositories/memory"
	redisRepo "github.com/motorshield/warranty-api/internal/repositories/redis"
	"github.com/motorshield/warranty-api/internal/services"
	"github.com/motorshield/warranty-api/internal/vehicles"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Quotes   services.QuoteService
	Checkout services.CheckoutService
	System   services.SystemService
}

// Repositories groups the stores checkout persists into. Tests may supply in-memory versions.
type Repositories struct {
	Sessions  repositories.CheckoutSessionStore
	Orders    repositories.OrderRepository
	Discounts repositories.DiscountCodeRepository
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
	Payments     *payments.Manager
	Tokens       *auth.SessionTokens
	Webhooks     *auth.HMACValidator
	Idempotency  idempotency.Store

	guard   *services.DuplicateGuard
	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	clock    func() time.Time
	logger   *zap.Logger
	build    services.BuildInfo
	repos    *Repositories
	vehicles services.VehicleLookup
}

// WithClock injects the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the base logger; services receive named children.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the version reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithRepositories bypasses backend selection.
func WithRepositories(repos Repositories) Option {
	return func(o *containerOptions) {
		o.repos = &repos
	}
}

// WithVehicleLookup replaces the HTTP registration lookup client.
func WithVehicleLookup(lookup services.VehicleLookup) Option {
	return func(o *containerOptions) {
		o.vehicles = lookup
	}
}

// NewContainer constructs the runtime dependencies. Resources opened here are released by Close
// in reverse order, including on a failed build.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	options := containerOptions{clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	clock := func() time.Time { return options.clock().UTC() }
	logger := options.logger

	c = &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	var provider *pfirestore.Provider
	if cfg.Firestore.ProjectID != "" {
		provider = pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
	}

	var redisClient goredis.UniversalClient
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisClient = client
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	}

	if options.repos != nil {
		c.Repositories = *options.repos
	} else {
		repos, err := buildRepositories(cfg, provider, redisClient, clock)
		if err != nil {
			return c, err
		}
		c.Repositories = repos
	}

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		MaxMileage: cfg.Pricing.MaxMileage,
		CacheTTL:   cfg.Pricing.QuoteCacheTTL,
		Now:        clock,
		Logger:     observability.EventLogger(logger, "pricing"),
	})
	if err != nil {
		return c, fmt.Errorf("build pricing engine: %w", err)
	}

	quotes, err := buildQuoteService(ctx, cfg, options, pricing, clock)
	if err != nil {
		return c, err
	}
	c.Services.Quotes = quotes

	recorder, err := c.buildAbandonedCartRecorder(ctx, cfg)
	if err != nil {
		return c, err
	}
	guardDeps := services.DuplicateGuardDeps{
		Orders:        c.Repositories.Orders,
		Window:        cfg.Checkout.DuplicateWindow,
		RecordTimeout: cfg.Checkout.AbandonedCartTimeout,
		Now:           clock,
		Logger:        observability.EventLogger(logger, "duplicates"),
	}
	if recorder != nil {
		guardDeps.Recorder = recorder
	}
	guard, err := services.NewDuplicateGuard(guardDeps)
	if err != nil {
		return c, fmt.Errorf("build duplicate guard: %w", err)
	}
	c.guard = guard

	discounts, err := services.NewDiscountService(services.DiscountServiceDeps{
		Codes:         c.Repositories.Discounts,
		AutoDiscounts: cfg.Checkout.AutoDiscounts,
		Now:           clock,
		Logger:        observability.EventLogger(logger, "discounts"),
	})
	if err != nil {
		return c, fmt.Errorf("build discount service: %w", err)
	}

	manager, err := buildPaymentManager(cfg, logger, clock)
	if err != nil {
		return c, err
	}
	c.Payments = manager

	if provider != nil {
		store, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return c, fmt.Errorf("build idempotency store: %w", err)
		}
		c.Idempotency = store
	} else {
		c.Idempotency = idempotency.NewMemoryStore()
	}
	inFlight, err := idempotency.NewInFlightGuard(c.Idempotency, cfg.Checkout.InFlightTTL, clock)
	if err != nil {
		return c, fmt.Errorf("build in-flight guard: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions:                 c.Repositories.Sessions,
		Orders:                   c.Repositories.Orders,
		Pricing:                  pricing,
		Discounts:                discounts,
		Guard:                    guard,
		Payments:                 manager,
		InFlight:                 inFlight,
		DefaultPaymentMethod:     domain.PaymentMethod(cfg.Checkout.DefaultPaymentMethod),
		PayInFullDiscountPercent: cfg.Checkout.PayInFullDiscountPercent,
		SuccessURL:               cfg.PSP.SuccessURL,
		CancelURL:                cfg.PSP.CancelURL,
		Clock:                    clock,
		Logger:                   observability.EventLogger(logger, "checkout"),
	})
	if err != nil {
		return c, fmt.Errorf("build checkout service: %w", err)
	}
	c.Services.Checkout = checkout

	health, err := repositories.NewDependencyHealthRepository(healthChecks(cfg, provider, redisClient), repositories.WithHealthClock(clock))
	if err != nil {
		return c, fmt.Errorf("build health repository: %w", err)
	}
	build := options.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            clock,
		Build:            build,
	})
	if err != nil {
		return c, fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = system

	tokens, err := auth.NewSessionTokens(cfg.Sessions.TokenSecret, cfg.Sessions.TTL, clock)
	if err != nil {
		return c, fmt.Errorf("build session tokens: %w", err)
	}
	c.Tokens = tokens

	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if redisClient != nil {
		redisNonces, err := auth.NewRedisNonceStore(redisClient, cfg.Redis.KeyPrefix)
		if err != nil {
			return c, fmt.Errorf("build nonce store: %w", err)
		}
		nonces = redisNonces
	}
	hmac := cfg.Security.HMAC
	validator, err := auth.NewHMACValidator(auth.StaticSecrets(hmac.Secrets), nonces,
		auth.WithHMACLogger(logger.Named("webhooks")),
		auth.WithHMACClock(clock),
		auth.WithHMACHeaders(hmac.SignatureHeader, hmac.TimestampHeader, hmac.NonceHeader),
		auth.WithHMACWindow(hmac.ClockSkew, hmac.NonceTTL),
	)
	if err != nil {
		return c, fmt.Errorf("build hmac validator: %w", err)
	}
	c.Webhooks = validator

	return c, nil
}

// Close waits for background abandoned cart records, then releases clients in reverse order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.guard != nil {
		c.guard.Wait()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildRepositories(cfg config.Config, provider *pfirestore.Provider, redisClient goredis.UniversalClient, clock func() time.Time) (Repositories, error) {
	var repos Repositories

	switch cfg.Sessions.Backend {
	case config.SessionsBackendFirestore:
		if provider == nil {
			return repos, errors.New("firestore session backend requires a firestore project")
		}
		store, err := firestoreRepo.NewCheckoutSessionStore(provider,
			firestoreRepo.WithSessionTTL(cfg.Sessions.TTL),
			firestoreRepo.WithSessionClock(clock),
		)
		if err != nil {
			return repos, fmt.Errorf("build firestore session store: %w", err)
		}
		repos.Sessions = store
	case config.SessionsBackendRedis:
		if redisClient == nil {
			return repos, errors.New("redis session backend requires a redis address")
		}
		store, err := redisRepo.NewCheckoutSessionStore(redisClient, redisRepo.Options{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Sessions.TTL,
			Clock:     clock,
		})
		if err != nil {
			return repos, fmt.Errorf("build redis session store: %w", err)
		}
		repos.Sessions = store
	default:
		repos.Sessions = memory.NewCheckoutSessionStore(clock)
	}

	if provider == nil {
		repos.Orders = memory.NewOrderRepository()
		repos.Discounts = memory.NewDiscountCodeRepository()
		return repos, nil
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return repos, fmt.Errorf("build order repository: %w", err)
	}
	repos.Orders = orders
	discounts, err := firestoreRepo.NewDiscountCodeRepository(provider)
	if err != nil {
		return repos, fmt.Errorf("build discount repository: %w", err)
	}
	repos.Discounts = discounts
	return repos, nil
}

// buildQuoteService returns nil when no lookup endpoint is configured; quotes then answer 501.
func buildQuoteService(ctx context.Context, cfg config.Config, options containerOptions, pricing services.QuotePricer, clock func() time.Time) (services.QuoteService, error) {
	lookup := options.vehicles
	if lookup == nil {
		client, err := vehicles.NewClient(vehicles.Config{
			Endpoint: cfg.Vehicles.Endpoint,
			APIKey:   cfg.Vehicles.APIKey,
			Timeout:  cfg.Vehicles.Timeout,
			Logger:   observability.EventLogger(options.logger, "vehicles"),
		})
		if errors.Is(err, vehicles.ErrNotConfigured) {
			options.logger.Warn("vehicle lookup endpoint not configured; quotes disabled")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("build vehicle lookup: %w", err)
		}
		lookup = client
	}

	deps := services.QuoteServiceDeps{
		Vehicles: lookup,
		Pricing:  pricing,
		Clock:    clock,
		Logger:   observability.EventLogger(options.logger, "quotes"),
	}
	documents, err := buildPolicyDocuments(ctx, cfg.Storage, clock)
	if err != nil {
		return nil, err
	}
	if documents != nil {
		deps.Documents = documents
	}

	svc, err := services.NewQuoteService(deps)
	if err != nil {
		return nil, fmt.Errorf("build quote service: %w", err)
	}
	return svc, nil
}

// buildPolicyDocuments returns nil unless a bucket and a signer are configured. A service account
// key takes precedence over IAM signing.
func buildPolicyDocuments(ctx context.Context, cfg config.StorageConfig, clock func() time.Time) (*services.PolicyDocumentLocator, error) {
	bucket := strings.TrimSpace(cfg.PolicyBucket)
	if bucket == "" {
		return nil, nil
	}

	var signer pstorage.Signer
	switch {
	case strings.TrimSpace(cfg.SignerKey) != "":
		keySigner, err := pstorage.NewKeySignerFromJSON([]byte(cfg.SignerKey))
		if err != nil {
			return nil, fmt.Errorf("build storage signer: %w", err)
		}
		signer = keySigner
	case strings.TrimSpace(cfg.SignerEmail) != "":
		iamSigner, err := pstorage.NewIAMSigner(ctx, cfg.SignerEmail)
		if err != nil {
			return nil, fmt.Errorf("build storage signer: %w", err)
		}
		signer = iamSigner
	default:
		return nil, nil
	}

	urls, err := pstorage.NewClient(signer, pstorage.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("build signed url client: %w", err)
	}
	locator, err := services.NewPolicyDocumentLocator(services.PolicyDocumentLocatorDeps{
		Signer: urls,
		Bucket: bucket,
		TTL:    cfg.SignedURLTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("build policy document locator: %w", err)
	}
	return locator, nil
}

// buildAbandonedCartRecorder returns nil when no topic is configured.
func (c *Container) buildAbandonedCartRecorder(ctx context.Context, cfg config.Config) (*jobs.PubSubAbandonedCartPublisher, error) {
	topicName := strings.TrimSpace(cfg.PubSub.AbandonedCartTopic)
	if topicName == "" || cfg.PubSub.ProjectID == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	topic.EnableMessageOrdering = true
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	publisher, err := jobs.NewPubSubAbandonedCartPublisher(topic)
	if err != nil {
		return nil, fmt.Errorf("build abandoned cart publisher: %w", err)
	}
	return publisher, nil
}

func buildPaymentManager(cfg config.Config, logger *zap.Logger, clock func() time.Time) (*payments.Manager, error) {
	providers := map[domain.PaymentMethod]payments.Provider{
		domain.PaymentMethodInstallments: payments.NewInstallmentProvider(payments.InstallmentProviderConfig{
			Endpoint:   cfg.PSP.InstallmentsEndpoint,
			APIKey:     cfg.PSP.InstallmentsAPIKey,
			MerchantID: cfg.PSP.InstallmentsMerchantID,
			Logger:     observability.EventLogger(logger, "payments.installments"),
			Clock:      clock,
		}),
	}
	if cfg.PSP.StripeAPIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        observability.EventLogger(logger, "payments.stripe"),
			Clock:         clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[domain.PaymentMethodCard] = stripe
	}

	var opts []payments.ManagerOption
	if method := domain.PaymentMethod(cfg.Checkout.DefaultPaymentMethod); providers[method] != nil {
		opts = append(opts, payments.WithDefaultMethod(method))
	}
	manager, err := payments.NewManager(providers, opts...)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func healthChecks(cfg config.Config, provider *pfirestore.Provider, redisClient goredis.UniversalClient) []repositories.DependencyCheck {
	var checks []repositories.DependencyCheck
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Check: provider.Ping})
	}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Optional: cfg.Sessions.Backend != config.SessionsBackendRedis,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	return checks
}
