package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalEnv() map[string]string {
	return map[string]string{
		"WARRANTY_FIRESTORE_PROJECT_ID":  "warranty-dev",
		"WARRANTY_SESSIONS_TOKEN_SECRET": "local-token-secret",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(minimalEnv()), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, SessionsBackendFirestore, cfg.Sessions.Backend)
	assert.Equal(t, "warranty-dev", cfg.PubSub.ProjectID, "pubsub project defaults to firestore project")
	assert.Equal(t, 5*time.Minute, cfg.Checkout.DuplicateWindow)
	assert.Equal(t, "card", cfg.Checkout.DefaultPaymentMethod)
	assert.Equal(t, 5, cfg.Checkout.PayInFullDiscountPercent)
	assert.Empty(t, cfg.Checkout.AutoDiscounts)
	assert.Equal(t, 150000, cfg.Pricing.MaxMileage)
	assert.Equal(t, 30, cfg.Pricing.QuoteRateLimit)
	assert.Equal(t, "local", cfg.Security.Environment)
	assert.Equal(t, defaultHMACSignatureHeader, cfg.Security.HMAC.SignatureHeader)
	assert.Equal(t, defaultIdempotencyHeader, cfg.Idempotency.Header)
	assert.Equal(t, defaultIdempotencyBatchSize, cfg.Idempotency.CleanupBatchSize)
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"WARRANTY_SERVER_PORT":                           "9090",
		"WARRANTY_PUBLIC_BASE_URL":                       "https://quotes.example.co.uk/",
		"WARRANTY_SESSIONS_BACKEND":                      "Redis",
		"WARRANTY_SESSIONS_TOKEN_SECRET":                 "sm://sessions/token",
		"WARRANTY_REDIS_ADDR":                            "localhost:6379",
		"WARRANTY_REDIS_DB":                              "2",
		"WARRANTY_PSP_STRIPE_API_KEY":                    "secret://stripe/api",
		"WARRANTY_PSP_STRIPE_WEBHOOK_SECRET":             "secret://stripe/webhook",
		"WARRANTY_PSP_INSTALLMENTS_API_KEY":              "secret://finance/key",
		"WARRANTY_CHECKOUT_DUPLICATE_WINDOW":             "10m",
		"WARRANTY_CHECKOUT_DEFAULT_PAYMENT_METHOD":       "INSTALLMENTS",
		"WARRANTY_CHECKOUT_PAY_IN_FULL_DISCOUNT_PERCENT": "7",
		"WARRANTY_CHECKOUT_AUTO_DISCOUNTS":               "second10=10, bad=abc, FRIEND=5",
		"WARRANTY_SECURITY_HMAC_SECRETS":                 "Installments=secret://hmac/finance",
		"WARRANTY_STORAGE_SIGNER_KEY":                    "secret://storage/signer",
	}
	secrets := map[string]string{
		"secret://sessions/token": "token-secret",
		"secret://stripe/api":     "sk_test",
		"secret://stripe/webhook": "whsec",
		"secret://finance/key":    "finance-key",
		"secret://hmac/finance":   "finance-hmac",
		"secret://storage/signer": `{"client_email":"docs@warranty.iam.gserviceaccount.com"}`,
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.StripeAPIKey", "Security.HMAC.Secrets[installments]"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "https://quotes.example.co.uk", cfg.Server.PublicBaseURL)
	assert.Equal(t, SessionsBackendRedis, cfg.Sessions.Backend)
	assert.Equal(t, "token-secret", cfg.Sessions.TokenSecret)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "sk_test", cfg.PSP.StripeAPIKey)
	assert.Equal(t, "whsec", cfg.PSP.StripeWebhookSecret)
	assert.Equal(t, "finance-key", cfg.PSP.InstallmentsAPIKey)
	assert.Equal(t, 10*time.Minute, cfg.Checkout.DuplicateWindow)
	assert.Equal(t, "installments", cfg.Checkout.DefaultPaymentMethod)
	assert.Equal(t, 7, cfg.Checkout.PayInFullDiscountPercent)
	assert.Equal(t, map[string]int{"SECOND10": 10, "FRIEND": 5}, cfg.Checkout.AutoDiscounts)
	assert.Equal(t, "finance-hmac", cfg.Security.HMAC.Secrets["installments"])
	assert.Equal(t, `{"client_email":"docs@warranty.iam.gserviceaccount.com"}`, cfg.Storage.SignerKey)
}

func TestLoadValidationError(t *testing.T) {
	env := map[string]string{
		"WARRANTY_SESSIONS_BACKEND":                "postgres",
		"WARRANTY_CHECKOUT_DEFAULT_PAYMENT_METHOD": "cheque",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.ElementsMatch(t, []string{"Sessions.Backend", "Sessions.TokenSecret", "Checkout.DefaultPaymentMethod"}, validation.Fields())
}

func TestLoadMemoryBackendNeedsNoProject(t *testing.T) {
	env := map[string]string{
		"WARRANTY_SESSIONS_BACKEND":      "memory",
		"WARRANTY_SESSIONS_TOKEN_SECRET": "x",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)
}

func TestLoadSecretResolutionFailure(t *testing.T) {
	env := minimalEnv()
	env["WARRANTY_PSP_STRIPE_API_KEY"] = "secret://stripe/api"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))

	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://stripe/api", secretErr.Ref)
	assert.ErrorIs(t, err, errSecretResolverNotConfigured)
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(minimalEnv()), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey", "Sessions.TokenSecret"))

	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"PSP.StripeAPIKey"}, missing.Names())
	assert.NotContains(t, missing.Error(), "StripeAPIKey")
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport WARRANTY_SERVER_PORT=7070\nWARRANTY_FIRESTORE_PROJECT_ID='from-dotenv'\nWARRANTY_SESSIONS_TOKEN_SECRET=\"dotenv-secret\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"WARRANTY_SERVER_PORT": "6060",
	}))
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port, "explicit map wins over .env")
	assert.Equal(t, "from-dotenv", cfg.Firestore.ProjectID)
	assert.Equal(t, "dotenv-secret", cfg.Sessions.TokenSecret)

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv())
	require.NoError(t, err)
	assert.Equal(t, "7070", values["WARRANTY_SERVER_PORT"])
}
