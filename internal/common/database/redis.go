// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"

	"leadflow/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient holds the connection the change bus publishes and listens on.
type RedisClient struct {
	rdb  *redis.Client
	addr string
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	// Reads stay unbounded: a pub/sub receive blocks until the next event.
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: config.GetDuration(cfg.DialTimeout),
	})
	return &RedisClient{rdb: rdb, addr: cfg.Address}, nil
}

// Ping doubles as the readiness check for the change bus.
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.addr, err)
	}
	return nil
}

func (c *RedisClient) Client() *redis.Client {
	return c.rdb
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
