package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultClockSkew       = 5 * time.Minute
	defaultNonceTTL        = 5 * time.Minute
	maxSignedBody          = 256 * 1024
	instrumentationName    = "github.com/motorshield/warranty-api/internal/platform/auth"
)

// SecretProvider returns the shared secret for a named integration.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to SecretProvider.
type SecretProviderFunc func(context.Context, string) (string, error)

func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// StaticSecrets serves secrets from a resolved config map.
type StaticSecrets map[string]string

func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	secret := strings.TrimSpace(s[name])
	if secret == "" {
		return "", fmt.Errorf("auth: no secret configured for %q", name)
	}
	return secret, nil
}

// HMACValidator verifies provider callbacks signed as
// base64|hex(HMAC-SHA256(secret, METHOD\nPATH\nTIMESTAMP\nNONCE\nhex(sha256(body)))).
// Nonces are single use within the replay window.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore
	logger   *zap.Logger
	now      func() time.Time
	outcomes metric.Int64Counter

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator requires a secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) (*HMACValidator, error) {
	if provider == nil {
		return nil, errors.New("auth: hmac secret provider is required")
	}
	if nonces == nil {
		return nil, errors.New("auth: hmac nonce store is required")
	}
	outcomes, err := otel.GetMeterProvider().Meter(instrumentationName).Int64Counter(
		"auth.hmac.verifications",
		metric.WithDescription("Signed webhook verifications by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: register hmac metric: %w", err)
	}
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          zap.NewNop(),
		now:             time.Now,
		outcomes:        outcomes,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

func WithHMACLogger(logger *zap.Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders overrides header names; empty values keep the defaults.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACWindow sets the accepted clock skew and nonce retention.
func WithHMACWindow(skew, nonceTTL time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if skew > 0 {
			v.clockSkew = skew
		}
		if nonceTTL > 0 {
			v.nonceTTL = nonceTTL
		}
	}
}

// verificationError carries the HTTP status and reason of a rejected request.
type verificationError struct {
	status int
	reason string
	msg    string
}

func (e *verificationError) Error() string { return e.reason + ": " + e.msg }

func reject(status int, reason, msg string) *verificationError {
	return &verificationError{status: status, reason: reason, msg: msg}
}

// RequireHMAC verifies every request against the named secret before calling next.
// The body is restored for next.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := v.Verify(r, secretName); err != nil {
				var verr *verificationError
				if !errors.As(err, &verr) {
					verr = reject(http.StatusServiceUnavailable, "verification_unavailable", err.Error())
				}
				v.outcomes.Add(r.Context(), 1, metric.WithAttributes(
					attribute.String("secret", secretName),
					attribute.String("outcome", verr.reason),
				))
				v.logger.Warn("hmac verification rejected", zap.String("secret", secretName), zap.String("reason", verr.reason))
				respondAuthError(w, verr.status, verr.reason, verr.msg)
				return
			}
			v.outcomes.Add(r.Context(), 1, metric.WithAttributes(
				attribute.String("secret", secretName),
				attribute.String("outcome", "ok"),
			))
			next.ServeHTTP(w, r)
		})
	}
}

// Verify checks the signature headers of r. It consumes the nonce on success.
func (v *HMACValidator) Verify(r *http.Request, secretName string) error {
	ctx := r.Context()
	if secretName == "" {
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret not configured")
	}
	secret, err := v.provider.GetSecret(ctx, secretName)
	if err != nil || secret == "" {
		v.logger.Error("hmac secret lookup failed", zap.String("secret", secretName), zap.Error(err))
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable")
	}

	rawSignature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	rawTimestamp := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	switch {
	case rawSignature == "":
		return reject(http.StatusUnauthorized, "signature_missing", "signature header missing")
	case rawTimestamp == "":
		return reject(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
	case nonce == "":
		return reject(http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
	}

	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return reject(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
	}
	now := v.now()
	if skew := now.Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return reject(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
	}

	signature, err := decodeSignature(rawSignature)
	if err != nil {
		return reject(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
	}
	body, err := readAndRestoreBody(r)
	if err != nil {
		return reject(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
	}
	expected := computeHMAC([]byte(secret), buildCanonicalString(r, body, rawTimestamp, nonce))
	if !hmac.Equal(signature, expected) {
		return reject(http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
	}

	fresh, err := v.nonces.UseNonce(ctx, secretName, nonce, now.Add(v.nonceTTL))
	if err != nil {
		v.logger.Error("nonce store failed", zap.Error(err))
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
	}
	if !fresh {
		return reject(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
	}
	return nil
}

// Sign produces the header values for body. Used by tests and local tooling that simulate the provider.
func Sign(secret []byte, method, path string, body []byte, timestamp time.Time, nonce string) (signature, ts string) {
	ts = strconv.FormatInt(timestamp.Unix(), 10)
	req := &http.Request{Method: method, URL: mustURL(path)}
	return base64.StdEncoding.EncodeToString(computeHMAC(secret, buildCanonicalString(req, body, ts, nonce))), ts
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSignedBody {
		return nil, errors.New("auth: signed body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "sha256=")
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
	}
	return ts.UTC(), nil
}

func buildCanonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func mustURL(path string) *url.URL {
	u, err := url.Parse(path)
	if err != nil {
		return &url.URL{Path: path}
	}
	return u
}
