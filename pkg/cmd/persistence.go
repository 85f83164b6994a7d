// Package cmd translates command line configuration into wired components.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowvia/flowvia/pkg/persistence"
	"github.com/flowvia/flowvia/pkg/persistence/memory"
	"github.com/flowvia/flowvia/pkg/persistence/postgresql"
)

// NewPersistence selects a backend from the database URL scheme.
// postgres:// runs migrations on connect; memory:// keeps everything
// in-process and loses it on exit.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	scheme, _, _ := strings.Cut(databaseURL, "://")

	switch scheme {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "memory":
		return memory.NewPersistence(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider: %q", scheme)
	}
}
