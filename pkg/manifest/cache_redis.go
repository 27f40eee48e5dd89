package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCacheSetScript stores a value with a TTL and evicts the manifest
// cache set down to maxEntries using Redis's sorted-set insertion-order
// tracking, keeping the eviction policy (insertion order, §4.4) atomic
// under concurrent writers from multiple processes.
//
// KEYS[1] = value key
// KEYS[2] = insertion-order sorted set key
// ARGV[1] = JSON-encoded value
// ARGV[2] = ttl seconds
// ARGV[3] = max entries
// ARGV[4] = current unix timestamp (score)
var redisCacheSetScript = redis.NewScript(`
local valueKey = KEYS[1]
local orderKey = KEYS[2]
local value = ARGV[1]
local ttl = tonumber(ARGV[2])
local maxEntries = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

redis.call("SET", valueKey, value, "EX", ttl)
redis.call("ZADD", orderKey, now, valueKey)

local count = redis.call("ZCARD", orderKey)
local evicted = 0
if count > maxEntries then
    local toRemove = redis.call("ZRANGE", orderKey, 0, count - maxEntries - 1)
    for _, k in ipairs(toRemove) do
        redis.call("DEL", k)
        redis.call("ZREM", orderKey, k)
        evicted = evicted + 1
    end
end

return evicted
`)

// RedisCache is the distributed tier for the manifest/data-page bounded
// cache, used when multiple replay processes should share hits across a
// fleet instead of each keeping a purely local Cache (§3 domain stack).
type RedisCache struct {
	client     *redis.Client
	orderKey   string
	ttl        time.Duration
	maxEntries int
}

// NewRedisCache builds a Redis-backed cache tier under a given logical
// segment namespace.
func NewRedisCache(addr, password string, db int, segment Segment, cfg CacheConfig) *RedisCache {
	return &RedisCache{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		orderKey:   fmt.Sprintf("replaycore:cache:%s:order", segment),
		ttl:        cfg.TTL,
		maxEntries: cfg.Capacity,
	}
}

// Get returns the cached value for key, or (nil, false) on miss.
func (c *RedisCache) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := c.client.Get(ctx, c.namespacedKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("manifest: redis cache get: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("manifest: redis cache decode: %w", err)
	}
	return v, true, nil
}

// Set inserts key with the segment's TTL, evicting the oldest entries
// past capacity.
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("manifest: redis cache encode: %w", err)
	}

	ttlSeconds := int(c.ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}

	_, err = redisCacheSetScript.Run(ctx, c.client,
		[]string{c.namespacedKey(key), c.orderKey},
		string(raw), ttlSeconds, c.maxEntries, float64(nowUnix()),
	).Result()
	if err != nil {
		return fmt.Errorf("manifest: redis cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) namespacedKey(key string) string {
	return fmt.Sprintf("replaycore:cache:%s", key)
}

// nowUnix is split out so the scheduling input is explicit and testable;
// it is wall-clock only for cache eviction scoring, never for hashed
// determinism-sensitive outputs.
func nowUnix() int64 { return timeNowFunc().Unix() }

var timeNowFunc = defaultNow

func defaultNow() time.Time { return time.Now() }
