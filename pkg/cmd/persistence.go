package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cadenzr/cadenza/pkg/persistence"
	"github.com/cadenzr/cadenza/pkg/persistence/file"
	"github.com/cadenzr/cadenza/pkg/persistence/memory"
	"github.com/cadenzr/cadenza/pkg/persistence/postgresql"
)

// NewPersistence picks the store implementation from the database URL scheme:
// postgres:// and postgresql:// use PostgreSQL, file:// uses the filesystem
// store, "memory" keeps everything in process.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "file://"):
		return file.NewPersistence(databaseURL), nil
	case databaseURL == "memory", databaseURL == "":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported database url: %s", databaseURL)
	}
}
