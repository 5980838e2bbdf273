package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// DefaultInFlightTTL frees a session whose submit crashed without releasing it.
	DefaultInFlightTTL  = 2 * time.Minute
	inFlightKeyPrefix   = "checkout-submit:"
	inFlightFingerprint = "submit"
)

// InFlightGuard marks a checkout session as submitting so a second submit is rejected.
type InFlightGuard struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewInFlightGuard wraps store. ttl <= 0 uses DefaultInFlightTTL.
func NewInFlightGuard(store Store, ttl time.Duration, clock func() time.Time) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency: store is required for in-flight guard")
	}
	if ttl <= 0 {
		ttl = DefaultInFlightTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &InFlightGuard{store: store, ttl: ttl, now: func() time.Time { return clock().UTC() }}, nil
}

// Acquire reports whether the caller now holds the session.
func (g *InFlightGuard) Acquire(ctx context.Context, sessionID string) (bool, error) {
	key, err := inFlightKey(sessionID)
	if err != nil {
		return false, err
	}
	reservation, err := g.store.Reserve(ctx, key, inFlightFingerprint, g.now(), g.ttl)
	if err != nil {
		return false, err
	}
	return reservation.State == ReservationStateNew, nil
}

// Release frees the session. Releasing a session nobody holds is a no-op.
func (g *InFlightGuard) Release(ctx context.Context, sessionID string) error {
	key, err := inFlightKey(sessionID)
	if err != nil {
		return err
	}
	return g.store.Release(ctx, key, inFlightFingerprint)
}

func inFlightKey(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("idempotency: session id is required")
	}
	return inFlightKeyPrefix + sessionID, nil
}
