package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stageflow/stageflow/pkg/persistence"
	"github.com/stageflow/stageflow/pkg/persistence/memory"
	"github.com/stageflow/stageflow/pkg/persistence/postgresql"
)

// NewPersistence creates a persistence layer from the database URL scheme.
// postgres URLs get the PostgreSQL implementation; anything else falls back
// to the in-memory store meant for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	default:
		return memory.NewPersistence()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
