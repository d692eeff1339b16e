package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harvestman-flow/harvestman/pkg/persistence"
	"github.com/harvestman-flow/harvestman/pkg/persistence/file"
	"github.com/harvestman-flow/harvestman/pkg/persistence/postgresql"
)

// NewPersistence selects a store from the database URL scheme. postgres://
// and postgresql:// get the SQL store; file:// or a bare path gets the file
// store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return file.NewPersistence(databaseURL), nil
	}

	switch scheme {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgresql store: %w", err)
		}

		return store, nil
	case "file":
		return file.NewPersistence(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported database url scheme %q", scheme)
	}
}
