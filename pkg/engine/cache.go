package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateCache memoizes derived flow state. Implementations cache only the
// pure reduction of snapshot and log; anything that depends on other flows,
// such as cross-flow dependency resolution, is settled by the engine after
// a cache hit.
type StateCache interface {
	Get(ctx context.Context, flowID string, revision int) (*FlowState, bool)
	Put(ctx context.Context, flowID string, state *FlowState)
}

// NoopStateCache disables memoization. Every query re-derives from the log.
type NoopStateCache struct{}

func (NoopStateCache) Get(_ context.Context, _ string, _ int) (*FlowState, bool) {
	return nil, false
}

func (NoopStateCache) Put(_ context.Context, _ string, _ *FlowState) {}

const stateCacheTTL = 10 * time.Minute

// RedisStateCache stores derived state in Redis keyed by flow ID and log
// revision. The revision is part of the key, so an entry can never be served
// for a log that has grown since it was written; superseded revisions expire.
type RedisStateCache struct {
	client redis.UniversalClient
	logger *slog.Logger
	ttl    time.Duration
}

func NewRedisStateCache(ctx context.Context, logger *slog.Logger, addr, password string, db int) (*RedisStateCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStateCache{
		client: client,
		logger: logger.With("module", "state_cache"),
		ttl:    stateCacheTTL,
	}, nil
}

// NewRedisStateCacheWithClient wraps an existing client. Used by tests.
func NewRedisStateCacheWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisStateCache {
	return &RedisStateCache{
		client: client,
		logger: logger.With("module", "state_cache"),
		ttl:    stateCacheTTL,
	}
}

func (c *RedisStateCache) Get(ctx context.Context, flowID string, revision int) (*FlowState, bool) {
	payload, err := c.client.Get(ctx, stateCacheKey(flowID, revision)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "State cache read failed", "flow_id", flowID, "error", err)
		}

		return nil, false
	}

	var state FlowState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		c.logger.WarnContext(ctx, "State cache entry is corrupt", "flow_id", flowID, "error", err)

		return nil, false
	}

	return &state, true
}

func (c *RedisStateCache) Put(ctx context.Context, flowID string, state *FlowState) {
	payload, err := json.Marshal(state)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to encode state for cache", "flow_id", flowID, "error", err)

		return
	}

	if err := c.client.Set(ctx, stateCacheKey(flowID, state.Revision), payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "State cache write failed", "flow_id", flowID, "error", err)
	}
}

func (c *RedisStateCache) Close() error {
	return c.client.Close()
}

func stateCacheKey(flowID string, revision int) string {
	return fmt.Sprintf("flowvia:flow_state:%s:%d", flowID, revision)
}
