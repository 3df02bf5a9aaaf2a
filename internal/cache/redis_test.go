package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mostafaomar7/tadawi-checkout/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and a client pointing at it
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func testLines() []domain.CartLine {
	return []domain.CartLine{
		{ID: "1:10", PharmacyID: 1, MedicineID: 10, MedicineName: "Panadol", UnitPrice: 50, Quantity: 2},
		{ID: "2:20", PharmacyID: 2, MedicineID: 20, MedicineName: "Augmentin", UnitPrice: 100, Quantity: 1},
	}
}

func TestGet_Success(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 0)

	data, _ := json.Marshal(testLines())
	require.NoError(t, mr.Set(cacheKey("patient-1"), string(data)))

	lines, err := cache.Get(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, "Panadol", lines[0].MedicineName)
}

func TestGet_CacheMiss(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCache(client, 0)

	lines, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, lines)
}

func TestGet_InvalidJSON(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 0)

	require.NoError(t, mr.Set(cacheKey("patient-1"), `[{"id":`))

	_, err := cache.Get(context.Background(), "patient-1")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_WithTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)

	require.NoError(t, cache.Set(context.Background(), "patient-1", testLines()))

	stored, err := mr.Get(cacheKey("patient-1"))
	require.NoError(t, err)
	var lines []domain.CartLine
	require.NoError(t, json.Unmarshal([]byte(stored), &lines))
	assert.Len(t, lines, 2)

	ttl := mr.TTL(cacheKey("patient-1"))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 20*time.Minute, "TTL should be base + max jitter")
}

func TestSet_NilStoresEmptyCart(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCache(client, 0)

	require.NoError(t, cache.Set(context.Background(), "patient-1", nil))
	lines, err := cache.Get(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestDelete(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 0)

	require.NoError(t, cache.Set(context.Background(), "patient-1", testLines()))
	assert.True(t, mr.Exists(cacheKey("patient-1")))

	require.NoError(t, cache.Delete(context.Background(), "patient-1"))
	assert.False(t, mr.Exists(cacheKey("patient-1")))

	// Deleting non-existent key should not error
	assert.NoError(t, cache.Delete(context.Background(), "nobody"))
}

func TestCaptureLock_SecondLockRefused(t *testing.T) {
	client, mr := setupTestRedis(t)
	lock := NewRedisCaptureLock(client)
	ctx := context.Background()

	ok, err := lock.TryLock(ctx, "PAYPAL-ORDER-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = lock.TryLock(ctx, "PAYPAL-ORDER-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = lock.TryLock(ctx, "PAYPAL-ORDER-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lock.Release(ctx, "PAYPAL-ORDER-1"))
	assert.False(t, mr.Exists(lockKey("PAYPAL-ORDER-1")))
}

func TestMemoryImplementations(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	_, err := mc.Get(ctx, "p")
	assert.ErrorIs(t, err, ErrCacheMiss)

	lines := testLines()
	require.NoError(t, mc.Set(ctx, "p", lines))
	lines[0].Quantity = 99
	got, err := mc.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].Quantity)

	ml := NewMemoryCaptureLock()
	ok, _ := ml.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
	ok, _ = ml.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)
	require.NoError(t, ml.Release(ctx, "k"))
	ok, _ = ml.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
}
