package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/motorshield/warranty-api/internal/domain"
	pstorage "github.com/motorshield/warranty-api/internal/platform/storage"
)

const defaultPolicyDocumentTTL = 10 * time.Minute

// PolicyDocument is a short-lived link to the wording that applies to a vehicle.
type PolicyDocument struct {
	Category  domain.FuelCategory
	URL       string
	ExpiresAt time.Time
}

// DocumentURLSigner issues signed download URLs.
type DocumentURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.DownloadOptions) (pstorage.SignedURLResult, error)
}

// PolicyDocumentLocatorDeps configures the locator.
type PolicyDocumentLocatorDeps struct {
	Signer  DocumentURLSigner
	Bucket  string
	Version string
	TTL     time.Duration
}

// PolicyDocumentLocator picks the wording document by fuel category. Documents never affect price.
type PolicyDocumentLocator struct {
	signer  DocumentURLSigner
	bucket  string
	version string
	ttl     time.Duration
}

// NewPolicyDocumentLocator validates the signer and bucket.
func NewPolicyDocumentLocator(deps PolicyDocumentLocatorDeps) (*PolicyDocumentLocator, error) {
	if deps.Signer == nil {
		return nil, errors.New("policy documents: signer is required")
	}
	bucket := strings.TrimSpace(deps.Bucket)
	if bucket == "" {
		return nil, errors.New("policy documents: bucket is required")
	}
	version := strings.TrimSpace(deps.Version)
	if version == "" {
		version = "current"
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultPolicyDocumentTTL
	}
	return &PolicyDocumentLocator{signer: deps.Signer, bucket: bucket, version: version, ttl: ttl}, nil
}

// Locate returns a signed link to the wording for the vehicle's fuel category.
func (l *PolicyDocumentLocator) Locate(ctx context.Context, vehicle domain.VehicleProfile) (PolicyDocument, error) {
	category := vehicle.FuelCategory()
	object, err := pstorage.PolicyWordingPath(pstorage.PolicyWordingParams{
		Category: string(category),
		Version:  l.version,
	})
	if err != nil {
		return PolicyDocument{}, err
	}
	signed, err := l.signer.SignedURL(ctx, l.bucket, object, pstorage.DownloadOptions{
		ExpiresIn:    l.ttl,
		Disposition:  fmt.Sprintf(`inline; filename="warranty-%s.pdf"`, category),
		ResponseType: "application/pdf",
	})
	if err != nil {
		return PolicyDocument{}, fmt.Errorf("policy documents: sign %s: %w", object, err)
	}
	return PolicyDocument{Category: category, URL: signed.URL, ExpiresAt: signed.ExpiresAt}, nil
}
