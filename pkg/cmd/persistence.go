package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/journeyhq/journey/pkg/persistence"
	"github.com/journeyhq/journey/pkg/persistence/file"
	"github.com/journeyhq/journey/pkg/persistence/postgresql"
)

// NewPersistence picks the repository implementation from the database URL
// scheme. postgres:// runs migrations on startup; anything else is treated
// as a file root for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}
