package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"marketplace-settlement/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miniredisConfig(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return config.RedisConfig{
		Host:            mr.Host(),
		Port:            port,
		PoolSize:        4,
		DialTimeout:     time.Second,
		ConnectAttempts: 2,
	}
}

func TestNewClient_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), miniredisConfig(t, mr), zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewClient_GivesUpWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := miniredisConfig(t, mr)
	mr.Close()

	start := time.Now()
	_, err := NewClient(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.Addr())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewClient_HonoursCancelledContext(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := miniredisConfig(t, mr)
	mr.Close()
	cfg.ConnectAttempts = 50

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(ctx, cfg, zerolog.Nop())
	assert.Error(t, err)
}
