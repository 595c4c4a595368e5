package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// defaultKeyTTL is assigned to unexpiring keys under the app prefix when
// the TTL fix runs with apply.
const defaultKeyTTL = 24 * time.Hour

// Cache watches a Redis instance and keeps the app keyspace tidy.
type Cache struct {
	*diag.BaseAgent
	rdb    *redis.Client
	prefix string
}

// NewCache connects to Redis and builds the cache agent. prefix scopes
// the keyspace hygiene tasks to this application's keys.
func NewCache(redisURL, prefix string, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected")

	c := &Cache{
		BaseAgent: diag.NewBaseAgent("cache", "Cache",
			"Redis connectivity, memory pressure and keyspace hygiene", logger),
		rdb:    rdb,
		prefix: prefix,
	}

	c.MustRegister(&diag.Task{
		ID:          "cache-ping",
		Name:        "Connectivity",
		Type:        diag.TaskStatusCheck,
		Description: "round-trip latency to Redis",
		Interval:    time.Minute,
		Handler:     c.checkPing,
	})
	c.MustRegister(&diag.Task{
		ID:          "cache-memory",
		Name:        "Memory pressure",
		Type:        diag.TaskMonitoring,
		Description: "used memory against the configured maxmemory",
		Interval:    2 * time.Minute,
		Handler:     c.checkMemory,
	})
	c.MustRegister(&diag.Task{
		ID:          "cache-ttl",
		Name:        "Unexpiring keys",
		Type:        diag.TaskErrorFix,
		Description: "give prefixed keys without a TTL a default expiry",
		Handler:     c.fixUnexpiringKeys,
	})
	c.MustRegister(&diag.Task{
		ID:          "cache-eviction-advice",
		Name:        "Eviction advice",
		Type:        diag.TaskDevelopment,
		Description: "suggest an eviction policy fitting the configuration",
		Handler:     c.developEviction,
	})
	return c, nil
}

// Close shuts down the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) checkPing(ctx context.Context) (*diag.Result, error) {
	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return diag.Fail(diag.StatusCritical, "redis unreachable: %v", err), nil
	}
	latency := time.Since(start)
	return diag.Healthy("redis reachable (%s round trip)", latency.Round(time.Millisecond)).
		WithData("latency_ms", latency.Milliseconds()), nil
}

// infoValue pulls one numeric field out of a raw INFO section.
func infoValue(info, field string) (int64, bool) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, field+":"); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			return n, err == nil
		}
	}
	return 0, false
}

func (c *Cache) checkMemory(ctx context.Context) (*diag.Result, error) {
	info, err := c.rdb.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("redis info memory: %w", err)
	}
	used, ok := infoValue(info, "used_memory")
	if !ok {
		return nil, fmt.Errorf("used_memory missing from INFO output")
	}
	max, _ := infoValue(info, "maxmemory")

	res := diag.Healthy("redis using %d bytes, no maxmemory limit", used)
	if max > 0 {
		ratio := float64(used) / float64(max)
		switch {
		case ratio >= 0.95:
			res = diag.Fail(diag.StatusCritical, "redis memory at %.0f%% of maxmemory", ratio*100)
		case ratio >= 0.8:
			res = diag.Warn("redis memory at %.0f%% of maxmemory", ratio*100)
		default:
			res = diag.Healthy("redis memory at %.0f%% of maxmemory", ratio*100)
		}
	}
	return res.WithData("used_bytes", used).WithData("maxmemory_bytes", max), nil
}

// unexpiringKeys scans the app prefix for keys without a TTL.
func (c *Cache) unexpiringKeys(ctx context.Context) ([]string, error) {
	var found []string
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("ttl %s: %w", key, err)
		}
		if ttl == -1*time.Second {
			found = append(found, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s*: %w", c.prefix, err)
	}
	return found, nil
}

func (c *Cache) fixUnexpiringKeys(ctx context.Context) (*diag.Result, error) {
	found, err := c.unexpiringKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return diag.Healthy("all %s* keys carry a TTL", c.prefix), nil
	}

	if !diag.ApplyEnabled(ctx) {
		return diag.Warn("%d keys under %s* have no TTL", len(found), c.prefix).
			WithData("keys", found).
			WithSuggestions(fmt.Sprintf("re-run fix with apply to set a %s TTL", defaultKeyTTL)), nil
	}

	outcomes := make(map[string]string, len(found))
	failed := 0
	for _, key := range found {
		if err := c.rdb.Expire(ctx, key, defaultKeyTTL).Err(); err != nil {
			outcomes[key] = err.Error()
			failed++
		} else {
			outcomes[key] = "expiry set"
		}
	}
	res := diag.Healthy("set TTL on %d keys", len(found)-failed)
	if failed > 0 {
		res = diag.Warn("set TTL on %d keys, %d failed", len(found)-failed, failed)
	}
	return res.WithData("outcomes", outcomes), nil
}

func (c *Cache) developEviction(ctx context.Context) (*diag.Result, error) {
	vals, err := c.rdb.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		return nil, fmt.Errorf("config get maxmemory-policy: %w", err)
	}
	policy := vals["maxmemory-policy"]

	res := diag.Healthy("eviction policy is %s", policy)
	info, err := c.rdb.Info(ctx, "memory").Result()
	if err == nil {
		if max, _ := infoValue(info, "maxmemory"); max > 0 && policy == "noeviction" {
			res.WithSuggestions("maxmemory is set with noeviction; cache writes will error under pressure, consider allkeys-lru")
		} else if max == 0 {
			res.WithSuggestions("no maxmemory limit configured; the cache can grow unbounded")
		}
	}
	return res.WithData("policy", policy), nil
}
