package database

import (
	"context"
	"testing"

	"leadflow/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := NewRedis(config.RedisConfig{})
	assert.Error(t, err)
}

func TestRedisClient_Ping(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedis(config.RedisConfig{Address: mr.Addr(), PoolSize: 2, DialTimeout: 500})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Client().Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")

	addr := mr.Addr()
	mr.Close()
	err = c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
