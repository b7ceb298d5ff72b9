package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists wizard state keyed by session ID.
type Store interface {
	Load(ctx context.Context, sessionID string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisStore keeps state as JSON with a TTL matching the state expiry.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func stateKey(sessionID string) string {
	return "wizard:state:" + sessionID
}

// Load returns the state of sessionID or ErrSessionNotFound.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*State, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	payload, err := s.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load wizard state: %w", err)
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode wizard state: %w", err)
	}
	if state.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return &state, nil
}

// Save writes state with the time remaining until its expiry.
func (s *RedisStore) Save(ctx context.Context, state *State) error {
	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrSessionNotFound
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode wizard state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(state.SessionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("save wizard state: %w", err)
	}
	return nil
}

// Delete removes the state of sessionID.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, stateKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete wizard state: %w", err)
	}
	return nil
}
