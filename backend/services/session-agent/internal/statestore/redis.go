package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chargelog/backend/services/session-agent/internal/models"
)

// RedisStore keeps device states in redis. A Set that returned nil survives a redis crash
// only when the server runs with AOF enabled and appendfsync always; with the default
// everysec policy up to a second of acknowledged writes can be lost.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(deviceUID string) string {
	return fmt.Sprintf("chargers:state:%s", deviceUID)
}

// Get returns the stored state, Unknown when the key is absent.
func (s *RedisStore) Get(ctx context.Context, deviceUID string) (models.State, error) {
	result, err := s.client.Get(ctx, s.key(deviceUID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.StateUnknown, nil
		}
		return models.StateUnknown, fmt.Errorf("statestore: redis get %s: %w", deviceUID, err)
	}
	return models.ParseState(result), nil
}

// Set stores the state without expiry.
func (s *RedisStore) Set(ctx context.Context, deviceUID string, state models.State) error {
	if err := s.client.Set(ctx, s.key(deviceUID), state.String(), 0).Err(); err != nil {
		return fmt.Errorf("statestore: redis set %s: %w", deviceUID, err)
	}
	return nil
}
