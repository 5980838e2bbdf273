package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	sessionTokenIssuer   = "warranty-api"
	sessionTokenAudience = "checkout"
	minTokenSecretLength = 32
)

var (
	// ErrInvalidSessionToken covers malformed, forged and expired tokens alike.
	ErrInvalidSessionToken = errors.New("auth: invalid session token")
)

// SessionTokens issues the opaque handle a browser uses to address its checkout session.
// The token is an HS256 JWT whose subject is the session id, so ids are never guessable from URLs.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens requires a secret of at least 32 bytes.
func NewSessionTokens(secret string, ttl time.Duration, clock func() time.Time) (*SessionTokens, error) {
	if len(strings.TrimSpace(secret)) < minTokenSecretLength {
		return nil, fmt.Errorf("auth: session token secret must be at least %d bytes", minTokenSecretLength)
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session token ttl must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionTokens{secret: []byte(secret), ttl: ttl, now: clock}, nil
}

// Issue signs a token for sessionID.
func (t *SessionTokens) Issue(sessionID string) (string, time.Time, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", time.Time{}, errors.New("auth: session id is required")
	}
	now := t.now().UTC()
	expires := now.Add(t.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    sessionTokenIssuer,
		Subject:   sessionID,
		Audience:  jwt.ClaimStrings{sessionTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, expires, nil
}

// Parse returns the session id carried by token.
func (t *SessionTokens) Parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	// Expiry is checked against the injected clock below.
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	parsed, err := parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidSessionToken
	}
	now := t.now()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyIssuer(sessionTokenIssuer, true) || !claims.VerifyAudience(sessionTokenAudience, true) {
		return "", ErrInvalidSessionToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidSessionToken
	}
	return claims.Subject, nil
}
