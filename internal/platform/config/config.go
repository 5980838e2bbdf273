package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile                  = ".env"
	defaultPort                     = "8080"
	defaultReadTimeout              = 15 * time.Second
	defaultWriteTimeout             = 30 * time.Second
	defaultIdleTimeout              = 120 * time.Second
	defaultSecurityEnvironment      = "local"
	defaultSessionsBackend          = SessionsBackendFirestore
	defaultSessionTTL               = 72 * time.Hour
	defaultRedisKeyPrefix           = "warranty:"
	defaultSignedURLTTL             = 15 * time.Minute
	defaultVehicleLookupTimeout     = 5 * time.Second
	defaultDuplicateWindow          = 5 * time.Minute
	defaultInFlightTTL              = 2 * time.Minute
	defaultPaymentMethod            = "card"
	defaultPayInFullDiscountPercent = 5
	defaultAbandonedCartTimeout     = 5 * time.Second
	defaultQuoteCacheTTL            = 10 * time.Minute
	defaultMaxMileage               = 150000
	defaultQuoteRateLimit           = 30
	defaultQuoteRateWindow          = time.Minute
	defaultHMACSignatureHeader      = "X-Signature"
	defaultHMACTimestampHeader      = "X-Signature-Timestamp"
	defaultHMACNonceHeader          = "X-Signature-Nonce"
	defaultHMACClockSkew            = 5 * time.Minute
	defaultHMACNonceTTL             = 5 * time.Minute
	defaultIdempotencyHeader        = "Idempotency-Key"
	defaultIdempotencyTTL           = 24 * time.Hour
	defaultIdempotencyInterval      = time.Hour
	defaultIdempotencyBatchSize     = 200
)

// Session persistence backends.
const (
	SessionsBackendFirestore = "firestore"
	SessionsBackendRedis     = "redis"
	SessionsBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	Sessions    SessionsConfig
	PSP         PSPConfig
	Vehicles    VehiclesConfig
	Checkout    CheckoutConfig
	Pricing     PricingConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port          string
	PublicBaseURL string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig points at the bucket holding policy wording documents. SignerKey, a service
// account JSON key, takes precedence over signing through IAM as SignerEmail.
type StorageConfig struct {
	PolicyBucket string
	SignerEmail  string
	SignerKey    string
	SignedURLTTL time.Duration
}

// PubSubConfig configures abandoned cart publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID          string
	AbandonedCartTopic string
}

// RedisConfig configures the optional Redis session backend.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SessionsConfig controls checkout session persistence and the tokens handed to browsers.
type SessionsConfig struct {
	Backend     string
	TTL         time.Duration
	TokenSecret string
}

// PSPConfig collects credentials for both payment providers.
type PSPConfig struct {
	StripeAPIKey           string
	StripeWebhookSecret    string
	InstallmentsEndpoint   string
	InstallmentsAPIKey     string
	InstallmentsMerchantID string
	SuccessURL             string
	CancelURL              string
}

// VehiclesConfig configures the registration lookup service.
type VehiclesConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// CheckoutConfig tunes the checkout flow.
type CheckoutConfig struct {
	DuplicateWindow          time.Duration
	InFlightTTL              time.Duration
	DefaultPaymentMethod     string
	PayInFullDiscountPercent int
	AutoDiscounts            map[string]int
	AbandonedCartTimeout     time.Duration
}

// PricingConfig tunes quote computation.
type PricingConfig struct {
	QuoteCacheTTL   time.Duration
	MaxMileage      int
	// QuoteRateLimit caps registration lookups per client address per QuoteRateWindow. Zero disables.
	QuoteRateLimit  int
	QuoteRateWindow time.Duration
}

// SecurityConfig groups environment and webhook signing settings.
type SecurityConfig struct {
	Environment string
	HMAC        HMACConfig
}

// HMACConfig captures webhook signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeAPIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles configuration from defaults, .env overrides, the environment and Secret Manager.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	env, err := newEnvLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:          env.str("WARRANTY_SERVER_PORT", defaultPort),
			PublicBaseURL: strings.TrimRight(env.str("WARRANTY_PUBLIC_BASE_URL", ""), "/"),
			ReadTimeout:   env.duration("WARRANTY_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:  env.duration("WARRANTY_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:   env.duration("WARRANTY_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("WARRANTY_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("WARRANTY_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			PolicyBucket: env.str("WARRANTY_STORAGE_POLICY_BUCKET", ""),
			SignerEmail:  env.str("WARRANTY_STORAGE_SIGNER_EMAIL", ""),
			SignerKey:    env.str("WARRANTY_STORAGE_SIGNER_KEY", ""),
			SignedURLTTL: env.duration("WARRANTY_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.str("WARRANTY_PUBSUB_PROJECT_ID", ""),
			AbandonedCartTopic: env.str("WARRANTY_PUBSUB_ABANDONED_CART_TOPIC", ""),
		},
		Redis: RedisConfig{
			Addr:      env.str("WARRANTY_REDIS_ADDR", ""),
			Password:  env.str("WARRANTY_REDIS_PASSWORD", ""),
			DB:        env.integer("WARRANTY_REDIS_DB", 0),
			KeyPrefix: env.str("WARRANTY_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Sessions: SessionsConfig{
			Backend:     strings.ToLower(env.str("WARRANTY_SESSIONS_BACKEND", defaultSessionsBackend)),
			TTL:         env.duration("WARRANTY_SESSIONS_TTL", defaultSessionTTL),
			TokenSecret: env.str("WARRANTY_SESSIONS_TOKEN_SECRET", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:           env.str("WARRANTY_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret:    env.str("WARRANTY_PSP_STRIPE_WEBHOOK_SECRET", ""),
			InstallmentsEndpoint:   env.str("WARRANTY_PSP_INSTALLMENTS_ENDPOINT", ""),
			InstallmentsAPIKey:     env.str("WARRANTY_PSP_INSTALLMENTS_API_KEY", ""),
			InstallmentsMerchantID: env.str("WARRANTY_PSP_INSTALLMENTS_MERCHANT_ID", ""),
			SuccessURL:             env.str("WARRANTY_PSP_SUCCESS_URL", ""),
			CancelURL:              env.str("WARRANTY_PSP_CANCEL_URL", ""),
		},
		Vehicles: VehiclesConfig{
			Endpoint: env.str("WARRANTY_VEHICLES_ENDPOINT", ""),
			APIKey:   env.str("WARRANTY_VEHICLES_API_KEY", ""),
			Timeout:  env.duration("WARRANTY_VEHICLES_TIMEOUT", defaultVehicleLookupTimeout),
		},
		Checkout: CheckoutConfig{
			DuplicateWindow:          env.duration("WARRANTY_CHECKOUT_DUPLICATE_WINDOW", defaultDuplicateWindow),
			InFlightTTL:              env.duration("WARRANTY_CHECKOUT_IN_FLIGHT_TTL", defaultInFlightTTL),
			DefaultPaymentMethod:     strings.ToLower(env.str("WARRANTY_CHECKOUT_DEFAULT_PAYMENT_METHOD", defaultPaymentMethod)),
			PayInFullDiscountPercent: env.integer("WARRANTY_CHECKOUT_PAY_IN_FULL_DISCOUNT_PERCENT", defaultPayInFullDiscountPercent),
			AutoDiscounts:            env.percentMap("WARRANTY_CHECKOUT_AUTO_DISCOUNTS"),
			AbandonedCartTimeout:     env.duration("WARRANTY_CHECKOUT_ABANDONED_CART_TIMEOUT", defaultAbandonedCartTimeout),
		},
		Pricing: PricingConfig{
			QuoteCacheTTL:   env.duration("WARRANTY_PRICING_QUOTE_CACHE_TTL", defaultQuoteCacheTTL),
			MaxMileage:      env.integer("WARRANTY_PRICING_MAX_MILEAGE", defaultMaxMileage),
			QuoteRateLimit:  env.integer("WARRANTY_PRICING_QUOTE_RATE_LIMIT", defaultQuoteRateLimit),
			QuoteRateWindow: env.duration("WARRANTY_PRICING_QUOTE_RATE_WINDOW", defaultQuoteRateWindow),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("WARRANTY_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			HMAC: HMACConfig{
				Secrets:         env.keyValues("WARRANTY_SECURITY_HMAC_SECRETS"),
				SignatureHeader: env.str("WARRANTY_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: env.str("WARRANTY_SECURITY_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     env.str("WARRANTY_SECURITY_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       env.duration("WARRANTY_SECURITY_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        env.duration("WARRANTY_SECURITY_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("WARRANTY_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("WARRANTY_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("WARRANTY_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("WARRANTY_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecrets(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	switch cfg.Sessions.Backend {
	case SessionsBackendFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case SessionsBackendRedis:
		check(cfg.Redis.Addr != "", "Redis.Addr")
	case SessionsBackendMemory:
	default:
		invalid = append(invalid, "Sessions.Backend")
	}
	check(cfg.Sessions.TTL > 0, "Sessions.TTL")
	check(strings.TrimSpace(cfg.Sessions.TokenSecret) != "", "Sessions.TokenSecret")
	check(cfg.Checkout.DefaultPaymentMethod == "card" || cfg.Checkout.DefaultPaymentMethod == "installments", "Checkout.DefaultPaymentMethod")
	check(cfg.Checkout.PayInFullDiscountPercent >= 0 && cfg.Checkout.PayInFullDiscountPercent < 100, "Checkout.PayInFullDiscountPercent")
	check(cfg.Checkout.DuplicateWindow > 0, "Checkout.DuplicateWindow")
	check(cfg.Checkout.InFlightTTL > 0, "Checkout.InFlightTTL")
	check(cfg.Pricing.MaxMileage > 0, "Pricing.MaxMileage")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
