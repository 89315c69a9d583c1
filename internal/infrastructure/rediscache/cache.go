package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "colonyledger"
	defaultTTL    = time.Minute
)

type Config struct {
	Addr   string
	TTL    time.Duration
	Prefix string
}

// Cache stores settled colony views under a per-colony version. Bumping the version orphans
// every view of that colony; orphans expire with the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func New(ctx context.Context, cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Cache{client: client, ttl: cfg.TTL, prefix: cfg.Prefix}, nil
}

// Get decodes the cached view into dst. A miss is (false, nil).
func (c *Cache) Get(ctx context.Context, colony common.Address, view string, dst any) (bool, error) {
	version, err := c.version(ctx, colony)
	if err != nil {
		return false, err
	}
	cached, err := c.client.Get(ctx, c.viewKey(colony, version, view)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(cached, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, colony common.Address, view string, value any) error {
	version, err := c.version(ctx, colony)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.viewKey(colony, version, view), payload, c.ttl).Err()
}

// Invalidate drops every cached view of colony.
func (c *Cache) Invalidate(ctx context.Context, colony common.Address) error {
	return c.client.Incr(ctx, c.versionKey(colony)).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) version(ctx context.Context, colony common.Address) (string, error) {
	version, err := c.client.Get(ctx, c.versionKey(colony)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return version, err
}

func (c *Cache) versionKey(colony common.Address) string {
	return c.prefix + ":colony:" + strings.ToLower(colony.Hex()) + ":version"
}

func (c *Cache) viewKey(colony common.Address, version, view string) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(c.prefix)
	b.WriteString(":colony:")
	b.WriteString(strings.ToLower(colony.Hex()))
	b.WriteString(":v")
	b.WriteString(version)
	b.WriteByte(':')
	b.WriteString(view)
	return b.String()
}
