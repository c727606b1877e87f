// Package secrets defines the secret getter collaborator the engine uses to
// satisfy SECRETS template references, plus the batch fetch helper bridging
// the extraction and substitution phases.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSecretNotFound indicates no secret exists under the requested name.
var ErrSecretNotFound = errors.New("secret not found")

// KV is one key/value entry of a named secret.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Getter is the boundary to the secret store. Implementations are expected
// to authenticate externally; the engine only sees resolved entries.
type Getter interface {
	GetSecret(ctx context.Context, name string) ([]KV, error)
}

// FetchAll resolves every named secret through the getter and shapes the
// result as the SECRETS template namespace: name -> key -> value. One call
// per name, no per-reference round-trips.
func FetchAll(ctx context.Context, getter Getter, names []string) (map[string]any, error) {
	out := make(map[string]any, len(names))

	for _, name := range names {
		kvs, err := getter.GetSecret(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("fetch secret %q: %w", name, err)
		}

		entry := make(map[string]any, len(kvs))
		for _, kv := range kvs {
			entry[kv.Key] = kv.Value
		}

		out[name] = entry
	}

	return out, nil
}

// MemoryStore is an in-process Getter for embedding and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string][]KV
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]KV)}
}

// Set replaces the entries of a named secret.
func (s *MemoryStore) Set(name string, kvs ...KV) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[name] = append([]KV(nil), kvs...)
}

func (s *MemoryStore) GetSecret(_ context.Context, name string) ([]KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kvs, ok := s.secrets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	return append([]KV(nil), kvs...), nil
}
