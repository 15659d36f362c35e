package business

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStoreGetReturnsDefault(t *testing.T) {
	store := NewStore(setupTestRedis(t))

	cfg, err := store.Get(context.Background(), "salon-1")
	require.NoError(t, err)
	assert.Equal(t, "salon-1", cfg.BusinessID)
	assert.Equal(t, 30, cfg.SlotGranularityMinutes)
	assert.Equal(t, 20, cfg.AdvancePercent)
}

func TestStoreSetAndGet(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	ctx := context.Background()

	cfg := DefaultConfig("salon-2")
	cfg.BufferMinutes = 15
	cfg.BusinessHours.Monday = &DayHours{Open: "09:00", Close: "13:00"}
	require.NoError(t, store.Set(ctx, cfg))

	got, err := store.Get(ctx, "salon-2")
	require.NoError(t, err)
	assert.Equal(t, 15, got.BufferMinutes)
	require.NotNil(t, got.BusinessHours.Monday)
	assert.Equal(t, "13:00", got.BusinessHours.Monday.Close)
}

func TestStoreSetRejectsInvalid(t *testing.T) {
	store := NewStore(setupTestRedis(t))
	cfg := DefaultConfig("salon-3")
	cfg.SlotGranularityMinutes = 0
	assert.Error(t, store.Set(context.Background(), cfg))
}
