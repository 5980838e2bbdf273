package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/motorshield/warranty-api/internal/domain"
	"github.com/motorshield/warranty-api/internal/repositories"
)

const (
	defaultKeyPrefix   = "warranty"
	defaultSessionTTL  = 24 * time.Hour
	maxOptimisticTries = 5
)

// CheckoutSessionStore keeps sessions as JSON values with a sliding TTL. Save uses WATCH/MULTI so
// concurrent patches to the same session are serialised.
type CheckoutSessionStore struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Options configures the Redis session store.
type Options struct {
	KeyPrefix string
	TTL       time.Duration
	Clock     func() time.Time
}

var _ repositories.CheckoutSessionStore = (*CheckoutSessionStore)(nil)

// NewCheckoutSessionStore wraps an existing go-redis client.
func NewCheckoutSessionStore(client goredis.UniversalClient, opts Options) (*CheckoutSessionStore, error) {
	if client == nil {
		return nil, errors.New("redis session store: client is required")
	}
	prefix := strings.Trim(strings.TrimSpace(opts.KeyPrefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CheckoutSessionStore{client: client, prefix: prefix, ttl: ttl, now: clock}, nil
}

// Create stores a new session; an existing key is a conflict.
func (s *CheckoutSessionStore) Create(ctx context.Context, session domain.CheckoutSession) error {
	payload, err := encodeSession(session)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(session.ID), payload, s.ttl).Result()
	if err != nil {
		return repositories.NewUnavailableError("redis.sessions.create", err)
	}
	if !ok {
		return repositories.NewConflictError("redis.sessions.create", "checkout session")
	}
	return nil
}

// Load reads the session and refreshes its TTL.
func (s *CheckoutSessionStore) Load(ctx context.Context, sessionID string) (domain.CheckoutSession, error) {
	key := s.key(sessionID)
	raw, err := s.client.GetEx(ctx, key, s.ttl).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.CheckoutSession{}, repositories.NewNotFoundError("redis.sessions.load", "checkout session")
	}
	if err != nil {
		return domain.CheckoutSession{}, repositories.NewUnavailableError("redis.sessions.load", err)
	}
	return decodeSession(raw)
}

// Save merges the patch under an optimistic WATCH transaction.
func (s *CheckoutSessionStore) Save(ctx context.Context, sessionID string, patch domain.CheckoutSessionPatch) (domain.CheckoutSession, error) {
	key := s.key(sessionID)
	var merged domain.CheckoutSession

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return repositories.NewNotFoundError("redis.sessions.save", "checkout session")
		}
		if err != nil {
			return err
		}
		current, err := decodeSession(raw)
		if err != nil {
			return err
		}
		merged = patch.Apply(current)
		merged.UpdatedAt = s.now().UTC()
		payload, err := encodeSession(merged)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxOptimisticTries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return domain.CheckoutSession{}, err
		}
		return domain.CheckoutSession{}, repositories.NewUnavailableError("redis.sessions.save", err)
	}
	return domain.CheckoutSession{}, repositories.NewConflictError("redis.sessions.save", "concurrent checkout session update")
}

// Clear removes the session.
func (s *CheckoutSessionStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return repositories.NewUnavailableError("redis.sessions.clear", err)
	}
	return nil
}

// Ping is used by the readiness probe.
func (s *CheckoutSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *CheckoutSessionStore) key(sessionID string) string {
	return fmt.Sprintf("%s:checkout:session:%s", s.prefix, strings.TrimSpace(sessionID))
}

func encodeSession(session domain.CheckoutSession) ([]byte, error) {
	if strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("redis session store: session id is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("redis session store: encode: %w", err)
	}
	return payload, nil
}

func decodeSession(raw []byte) (domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.CheckoutSession{}, fmt.Errorf("redis session store: decode: %w", err)
	}
	return session, nil
}
