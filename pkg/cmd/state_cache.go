package cmd

import (
	"context"
	"log/slog"

	"github.com/flowvia/flowvia/pkg/engine"
)

// NewStateCache returns the redis-backed derived-state cache when an
// address is configured, and the no-op cache otherwise. Running without
// redis stays correct; every miss re-derives state from the log.
func NewStateCache(ctx context.Context, logger *slog.Logger, addr, password string, db int) (engine.StateCache, error) {
	if addr == "" {
		return engine.NoopStateCache{}, nil
	}

	return engine.NewRedisStateCache(ctx, logger, addr, password, db)
}
