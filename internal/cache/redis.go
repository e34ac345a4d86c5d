package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gatekeeper/internal/metrics"
	"gatekeeper/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// storeIfCurrent writes the snapshot only when the generation key still holds
// the value the recompute started under.
var storeIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// Redis is a Cache shared by every API replica and worker.
type Redis struct {
	client   redis.UniversalClient
	resolver Resolver
	prefix   string
	logger   zerolog.Logger
	group    singleflight.Group
}

// NewRedis creates a Redis-backed cache. Keys are namespaced by prefix.
func NewRedis(client redis.UniversalClient, resolver Resolver, prefix string, logger zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = "gatekeeper"
	}
	return &Redis{
		client:   client,
		resolver: resolver,
		prefix:   prefix,
		logger:   logger.With().Str("service", "CapabilityCache").Logger(),
	}
}

func (c *Redis) snapshotKey(userID string) string { return c.prefix + ":caps:" + userID }
func (c *Redis) genKey(userID string) string      { return c.prefix + ":capgen:" + userID }

func (c *Redis) Get(ctx context.Context, userID string) (*model.Capabilities, error) {
	raw, err := c.client.Get(ctx, c.snapshotKey(userID)).Bytes()
	switch {
	case err == nil:
		var caps model.Capabilities
		if jsonErr := json.Unmarshal(raw, &caps); jsonErr == nil {
			metrics.CapabilityCacheTotal.WithLabelValues("redis", "hit").Inc()
			return &caps, nil
		}
		c.logger.Warn().Str("user_id", userID).Msg("Discarding undecodable capability snapshot")
	case errors.Is(err, redis.Nil):
	default:
		// Redis being down must not block gates; resolve straight from the store.
		metrics.CapabilityCacheTotal.WithLabelValues("redis", "error").Inc()
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("Capability cache read failed, resolving uncached")
		return c.resolver.Resolve(ctx, userID)
	}
	metrics.CapabilityCacheTotal.WithLabelValues("redis", "miss").Inc()

	gen, err := c.client.Get(ctx, c.genKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		gen = "0"
	} else if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("Capability generation read failed, resolving uncached")
		return c.resolver.Resolve(ctx, userID)
	}

	return sharedResolve(ctx, &c.group, userID+"#"+gen, func(ctx context.Context) (*model.Capabilities, error) {
		caps, err := c.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(caps)
		if err != nil {
			return nil, fmt.Errorf("encode capabilities for user %s: %w", userID, err)
		}
		stored, err := storeIfCurrent.Run(ctx, c.client, []string{c.snapshotKey(userID), c.genKey(userID)}, gen, payload).Int()
		if err != nil {
			c.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to store capability snapshot")
		} else if stored == 0 {
			metrics.CapabilityCacheTotal.WithLabelValues("redis", "stale").Inc()
		}
		return caps, nil
	})
}

func (c *Redis) Invalidate(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(userID))
		pipe.Del(ctx, c.snapshotKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate capabilities for user %s: %w", userID, err)
	}
	return nil
}
