package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const keyPrefix = "checkout:"

// SessionStore implements repository.SessionStore using Redis. Expiry is
// delegated to Redis key TTLs, so an expired session is simply a missing key.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a Redis-backed checkout session store.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
	}
}

// TTL is the lifetime granted to a session by Create and Set.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create stores a new session with SET NX.
func (s *SessionStore) Create(ctx context.Context, session *domain.CheckoutSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}

	created, err := s.client.SetNX(ctx, keyPrefix+session.ID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis create checkout session: %w", err)
	}
	if !created {
		return apperrors.Conflict(fmt.Sprintf("checkout session %s already exists", session.ID))
	}
	return nil
}

// Get reads a session without touching its TTL.
func (s *SessionStore) Get(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.SessionExpiredError(id)
		}
		return nil, fmt.Errorf("redis get checkout session: %w", err)
	}

	var session domain.CheckoutSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	return &session, nil
}

// Set overwrites a live session with SET XX and restarts its TTL. A session
// that expired in the meantime is not recreated.
func (s *SessionStore) Set(ctx context.Context, session *domain.CheckoutSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal checkout session: %w", err)
	}

	updated, err := s.client.SetXX(ctx, keyPrefix+session.ID, data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis set checkout session: %w", err)
	}
	if !updated {
		return domain.SessionExpiredError(session.ID)
	}
	return nil
}

// Delete removes a session. Only one of several concurrent callers observes
// true.
func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis del checkout session: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness checks.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
