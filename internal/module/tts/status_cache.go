package tts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocalize/tts-server/internal/module/tts/task"
)

const statusKeyPrefix = "tts:status:"

// StatusCache caches task records in Redis so status polling does not hit
// the database on every request. Writers invalidate on every transition;
// the store remains the source of truth.
type StatusCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStatusCache creates a status cache. A nil client disables caching.
func NewStatusCache(client redis.UniversalClient, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// Get returns the cached task, or nil on a miss. Cache errors read as
// misses.
func (c *StatusCache) Get(ctx context.Context, taskID string) *task.Task {
	if c == nil || c.client == nil {
		return nil
	}

	raw, err := c.client.Get(ctx, statusKeyPrefix+taskID).Bytes()
	if err != nil {
		return nil
	}

	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil
	}
	return &t
}

// Set caches the task record. Failures are silent.
func (c *StatusCache) Set(ctx context.Context, t *task.Task) {
	if c == nil || c.client == nil || t == nil {
		return
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, statusKeyPrefix+t.TaskID, raw, c.ttl).Err()
}

// Invalidate drops the cached record so the next read reflects the store.
func (c *StatusCache) Invalidate(ctx context.Context, taskID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, statusKeyPrefix+taskID).Err()
}
