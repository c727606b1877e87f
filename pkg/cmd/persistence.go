package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weftd/weft/pkg/persistence"
	"github.com/weftd/weft/pkg/persistence/file"
	"github.com/weftd/weft/pkg/persistence/postgres"
)

// NewPersistence picks the storage backend from the database URL scheme.
// postgres:// selects PostgreSQL; anything else is treated as a file root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgres.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to PostgreSQL: %w", err))
		}

		return p
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return provider
}
