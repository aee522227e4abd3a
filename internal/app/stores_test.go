package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-rules/internal/storage/memory"
	redisstore "github.com/xenking/promo-rules/internal/storage/redis"
	"github.com/xenking/promo-rules/pkg/health"
)

func TestOpenStores_Memory(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Driver: DriverMemory}}

	st, err := OpenStores(context.Background(), cfg, health.New())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &memory.Promotions{}, st.Promotions)
	assert.IsType(t, &memory.Customers{}, st.Customers)
}

func TestOpenStores_MemoryWithCache(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Driver: DriverMemory},
		Redis:   RedisConfig{Addr: "127.0.0.1:1", TTL: time.Minute},
	}

	st, err := OpenStores(context.Background(), cfg, health.New())
	require.NoError(t, err)
	defer st.Close()

	assert.IsType(t, &redisstore.PromotionCache{}, st.Promotions)
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), &Config{Storage: StorageConfig{Driver: "csv"}}, health.New())
	assert.Error(t, err)
}
