package license

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResultCacheGetSet(t *testing.T) {
	cache := NewResultCache(time.Minute, 4)

	_, hit := cache.Get("k1")
	assert.False(t, hit)

	cache.Set("k1", true)
	ok, hit := cache.Get("k1")
	assert.True(t, hit)
	assert.True(t, ok)

	cache.Set("k2", false)
	ok, hit = cache.Get("k2")
	assert.True(t, hit)
	assert.False(t, ok, "negative results are cached too")
}

func TestResultCacheTTLExpiry(t *testing.T) {
	cache := NewResultCache(10*time.Millisecond, 4)
	cache.Set("k", true)

	time.Sleep(20 * time.Millisecond)
	_, hit := cache.Get("k")
	assert.False(t, hit)
}

func TestResultCacheBoundedSize(t *testing.T) {
	cache := NewResultCache(time.Minute, 3)
	for i := 0; i < 10; i++ {
		cache.Set(fmt.Sprintf("k%d", i), true)
	}

	_, _, size := cache.Stats()
	assert.LessOrEqual(t, size, 3)
}

func TestResultCacheZeroSizeStoresNothing(t *testing.T) {
	cache := NewResultCache(time.Minute, 0)
	cache.Set("k", true)

	_, hit := cache.Get("k")
	assert.False(t, hit)
}

func TestResultCacheIsolatedInstances(t *testing.T) {
	a := NewResultCache(time.Minute, 4)
	b := NewResultCache(time.Minute, 4)

	a.Set("shared-key", true)
	_, hit := b.Get("shared-key")
	assert.False(t, hit, "caches must not share state")
}
