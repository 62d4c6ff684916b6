// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/metis/pkg/persistence"
	"github.com/dukex/metis/pkg/persistence/file"
	"github.com/dukex/metis/pkg/persistence/mongodb"
	"github.com/dukex/metis/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "mongodb", "mongodb+srv"}

// NewPersistence opens the execution store selected by the URL scheme.
// URLs without a supported scheme are treated as file store paths.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.ExecutionStore {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return store
	case "mongodb", "mongodb+srv":
		store, err := mongodb.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create MongoDB persistence: %w", err))
		}

		return store
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
