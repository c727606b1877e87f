// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/weftd/weft/pkg/actions/condition"
	"github.com/weftd/weft/pkg/actions/httprequest"
	"github.com/weftd/weft/pkg/actions/logaction"
	"github.com/weftd/weft/pkg/actions/transform"
	"github.com/weftd/weft/pkg/runner"
	"github.com/weftd/weft/pkg/secrets"
)

// NewRegistry builds the dispatch table with all native action runners
// registered.
func NewRegistry(logger *slog.Logger) *runner.Registry {
	reg := runner.NewRegistry(logger)

	reg.Register(httprequest.New())
	reg.Register(transform.New())
	reg.Register(condition.New())
	reg.Register(logaction.New(logger))

	return reg
}

// NewSecretStore selects the secret backend. An empty URL yields the
// in-memory store; otherwise Redis.
func NewSecretStore(redisURL string) secrets.Getter {
	if redisURL == "" {
		return secrets.NewMemoryStore()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic("invalid secrets Redis URL: " + err.Error())
	}

	return secrets.NewRedisStore(redis.NewClient(opts))
}
