package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSignerKey is returned when a service account key cannot be used for URL signing.
var ErrInvalidSignerKey = errors.New("storage: invalid signer key")

// Signer signs policy document URLs on behalf of a service account.
type Signer interface {
	// Email is used as the GoogleAccessID of the signed URL.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs locally with the RSA key of a service account JSON key, avoiding the IAM
// credentials round trip. It is used when the key is delivered through Secret Manager.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

// NewKeySignerFromJSON parses a service account JSON key. Only client_email and
// private_key are read.
func NewKeySignerFromJSON(data []byte) (*KeySigner, error) {
	var doc struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidSignerKey)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignerKey, err)
	}

	email := strings.TrimSpace(doc.ClientEmail)
	if email == "" {
		return nil, fmt.Errorf("%w: client_email is required", ErrInvalidSignerKey)
	}
	key, err := decodeRSAKey(strings.TrimSpace(doc.PrivateKey))
	if err != nil {
		return nil, err
	}
	return &KeySigner{email: email, key: key}, nil
}

// Email returns the client_email of the key.
func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes returns an RSASSA-PKCS1-v1_5 SHA256 signature, the scheme V4 signed URLs expect.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if len(payload) == 0 {
		return nil, errors.New("storage: payload is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

// decodeRSAKey accepts PKCS#8, which Google issues, and falls back to PKCS#1.
func decodeRSAKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return nil, fmt.Errorf("%w: private_key is required", ErrInvalidSignerKey)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: private_key is not PEM encoded", ErrInvalidSignerKey)
	}

	parsed, pkcs8Err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if pkcs8Err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: private_key is not RSA", ErrInvalidSignerKey)
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignerKey, err)
	}
	return key, nil
}
