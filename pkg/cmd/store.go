package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orchid-run/orchid/pkg/store"
	"github.com/orchid-run/orchid/pkg/store/file"
	"github.com/orchid-run/orchid/pkg/store/postgres"
)

// NewStore selects the persistence backend from the URL scheme:
// postgres://... for PostgreSQL, file://path or a bare path for the
// JSON file store.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (store.Store, error) {
	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return file.NewStore(databaseURL), nil
	}

	switch scheme {
	case "postgres", "postgresql":
		return postgres.NewStore(ctx, logger, databaseURL)
	case "file":
		return file.NewStore(rest), nil
	default:
		return nil, fmt.Errorf("unsupported database URL scheme: %s", scheme)
	}
}
