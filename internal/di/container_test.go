package di

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/platform/config"
	pstorage "github.com/motorshield/warranty-api/internal/platform/storage"
	"github.com/motorshield/warranty-api/internal/services"
	"github.com/motorshield/warranty-api/internal/vehicles"
)

type stubLookup struct{}

func (stubLookup) Lookup(_ context.Context, reg string, mileage int) (vehicles.Result, error) {
	return vehicles.Result{Found: true, Vehicle: domain.VehicleProfile{RegNumber: reg, Mileage: mileage, Year: 2022}}, nil
}

func memoryConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: "8080"},
		Sessions: config.SessionsConfig{Backend: config.SessionsBackendMemory, TTL: time.Hour, TokenSecret: strings.Repeat("s", 32)},
		Checkout: config.CheckoutConfig{
			DuplicateWindow:      24 * time.Hour,
			InFlightTTL:          time.Minute,
			DefaultPaymentMethod: "installments",
		},
		Pricing:     config.PricingConfig{MaxMileage: 150000, QuoteCacheTTL: time.Minute},
		Security:    config.SecurityConfig{Environment: "test", HMAC: config.HMACConfig{Secrets: map[string]string{"installments": "hook-secret"}}},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour, CleanupInterval: time.Minute, CleanupBatchSize: 10},
	}
}

func TestNewContainerMemoryBackend(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c, err := NewContainer(context.Background(), memoryConfig(),
		WithClock(func() time.Time { return now }),
		WithVehicleLookup(stubLookup{}),
		WithBuildInfo(services.BuildInfo{Version: "1.2.3"}),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(context.Background()); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	if c.Services.Quotes == nil || c.Services.Checkout == nil || c.Services.System == nil {
		t.Fatalf("expected all services, got %+v", c.Services)
	}
	if c.Payments.DefaultMethod() != domain.PaymentMethodInstallments {
		t.Fatalf("unexpected default method %q", c.Payments.DefaultMethod())
	}

	report, err := c.Services.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "1.2.3" || report.Environment != "test" {
		t.Fatalf("unexpected report %+v", report)
	}

	token, _, err := c.Tokens.Issue("session-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if id, err := c.Tokens.Parse(token); err != nil || id != "session-1" {
		t.Fatalf("parse: %q %v", id, err)
	}
}

func TestNewContainerWithoutLookupDisablesQuotes(t *testing.T) {
	c, err := NewContainer(context.Background(), memoryConfig())
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer c.Close(context.Background())
	if c.Services.Quotes != nil {
		t.Fatalf("expected quotes to be disabled")
	}
}

func TestNewContainerRejectsMisconfiguredBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Sessions.Backend = config.SessionsBackendFirestore
	if _, err := NewContainer(context.Background(), cfg); err == nil {
		t.Fatalf("expected firestore backend without project to fail")
	}

	cfg = memoryConfig()
	cfg.Sessions.TokenSecret = "short"
	if _, err := NewContainer(context.Background(), cfg, WithVehicleLookup(stubLookup{})); err == nil {
		t.Fatalf("expected short token secret to fail")
	}
}

func serviceAccountKey(t *testing.T, email string) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	data, err := json.Marshal(map[string]string{
		"client_email": email,
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return string(data)
}

func TestBuildPolicyDocumentsSignsWithServiceAccountKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	storageCfg := config.StorageConfig{
		PolicyBucket: "policy-docs",
		SignerEmail:  "ignored@warranty.iam.gserviceaccount.com",
		SignerKey:    serviceAccountKey(t, "docs@warranty.iam.gserviceaccount.com"),
		SignedURLTTL: 5 * time.Minute,
	}
	locator, err := buildPolicyDocuments(context.Background(), storageCfg, func() time.Time { return now })
	if err != nil {
		t.Fatalf("build policy documents: %v", err)
	}
	if locator == nil {
		t.Fatalf("expected a locator")
	}

	doc, err := locator.Locate(context.Background(), domain.VehicleProfile{FuelType: "Electric"})
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	parsed, err := url.Parse(doc.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.Contains(parsed.Path, "policies/electric/") {
		t.Fatalf("unexpected object path %q", parsed.Path)
	}
	if credential := parsed.Query().Get("X-Goog-Credential"); !strings.HasPrefix(credential, "docs@warranty.iam.gserviceaccount.com/") {
		t.Fatalf("expected key signer credential, got %q", credential)
	}
	if !doc.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", doc.ExpiresAt)
	}
}

func TestBuildPolicyDocumentsDisabledWithoutBucketOrSigner(t *testing.T) {
	key := serviceAccountKey(t, "docs@warranty.iam.gserviceaccount.com")
	for _, cfg := range []config.StorageConfig{
		{SignerKey: key},
		{PolicyBucket: "policy-docs"},
	} {
		locator, err := buildPolicyDocuments(context.Background(), cfg, time.Now)
		if err != nil || locator != nil {
			t.Fatalf("expected no locator for bucket %q, got %v %v", cfg.PolicyBucket, locator, err)
		}
	}
}

func TestNewContainerRejectsInvalidSignerKey(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage = config.StorageConfig{PolicyBucket: "policy-docs", SignerKey: `{"client_email":"docs@warranty.iam.gserviceaccount.com"}`}
	_, err := NewContainer(context.Background(), cfg, WithVehicleLookup(stubLookup{}))
	if !errors.Is(err, pstorage.ErrInvalidSignerKey) {
		t.Fatalf("expected invalid signer key error, got %v", err)
	}
}
