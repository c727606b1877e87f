package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "weft:secrets:"

// RedisStore is a Getter backed by a shared Redis instance. Entries are
// stored as a JSON-encoded KV list under one key per secret name.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetSecret(ctx context.Context, name string) ([]KV, error) {
	raw, err := s.client.Get(ctx, keyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("redis secret %q: %w", name, err)
	}

	var kvs []KV
	if err := json.Unmarshal([]byte(raw), &kvs); err != nil {
		return nil, fmt.Errorf("decode secret %q: %w", name, err)
	}

	return kvs, nil
}

// SetSecret stores the entries of a named secret. Used by provisioning
// tooling; the engine itself only reads.
func (s *RedisStore) SetSecret(ctx context.Context, name string, kvs []KV) error {
	raw, err := json.Marshal(kvs)
	if err != nil {
		return fmt.Errorf("encode secret %q: %w", name, err)
	}

	return s.client.Set(ctx, keyPrefix+name, raw, 0).Err()
}
