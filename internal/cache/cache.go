// Package cache provides a Redis read-through cache for the two hot
// lookups on the evaluation path: the active policy config and the
// hard-stop status. Both are small, change rarely, and are read on every
// prediction. Cache misses and redis failures fall through to the source
// of truth; the cache never gates correctness.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/oddsforge/pickgate/internal/hardstop"
	"github.com/oddsforge/pickgate/internal/policy"
)

const (
	keyActiveConfig   = "pickgate:policy:active"
	keyHardStopStatus = "pickgate:hardstop:status"
)

// Cache wraps a redis client with JSON serialization and a fixed TTL
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// ActiveConfig returns the cached config, or nil on miss or redis error
func (c *Cache) ActiveConfig(ctx context.Context) *policy.Config {
	data, err := c.client.Get(ctx, keyActiveConfig).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("Config cache read failed")
		return nil
	}

	var cfg policy.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Msg("Config cache entry corrupt, ignoring")
		return nil
	}
	return &cfg
}

// SetActiveConfig stores the config; errors are logged, not surfaced
func (c *Cache) SetActiveConfig(ctx context.Context, cfg *policy.Config) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyActiveConfig, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("Config cache write failed")
	}
}

// InvalidateConfig drops the cached config after a version mutation
func (c *Cache) InvalidateConfig(ctx context.Context) {
	if err := c.client.Del(ctx, keyActiveConfig).Err(); err != nil {
		log.Debug().Err(err).Msg("Config cache invalidation failed")
	}
}

// HardStopStatus returns the cached status report, or nil on miss
func (c *Cache) HardStopStatus(ctx context.Context) *hardstop.StatusReport {
	data, err := c.client.Get(ctx, keyHardStopStatus).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("Hard stop cache read failed")
		return nil
	}

	var report hardstop.StatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		log.Warn().Err(err).Msg("Hard stop cache entry corrupt, ignoring")
		return nil
	}
	return &report
}

// SetHardStopStatus stores the status report
func (c *Cache) SetHardStopStatus(ctx context.Context, report *hardstop.StatusReport) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyHardStopStatus, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("Hard stop cache write failed")
	}
}

// InvalidateHardStopStatus drops the cached status after any state change
func (c *Cache) InvalidateHardStopStatus(ctx context.Context) {
	if err := c.client.Del(ctx, keyHardStopStatus).Err(); err != nil {
		log.Debug().Err(err).Msg("Hard stop cache invalidation failed")
	}
}
