package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, parts ...any) Key {
	t.Helper()
	k, err := KeyOf(parts...)
	require.NoError(t, err)
	return k
}

func TestKeyOf(t *testing.T) {
	points := [][]float64{{0, 0}, {1, 1}}

	t.Run("same parts same key", func(t *testing.T) {
		assert.Equal(t, mustKey(t, points, "kmeans", 42), mustKey(t, points, "kmeans", 42))
	})

	t.Run("any difference changes the key", func(t *testing.T) {
		base := mustKey(t, points, "kmeans", 42)
		assert.NotEqual(t, base, mustKey(t, points, "kmeans", 43))
		assert.NotEqual(t, base, mustKey(t, points, "dbscan", 42))
		assert.NotEqual(t, base, mustKey(t, [][]float64{{0, 0}, {1, 2}}, "kmeans", 42))
	})

	t.Run("map order does not matter", func(t *testing.T) {
		a := map[string]int{"x": 1, "y": 2, "z": 3}
		b := map[string]int{"z": 3, "y": 2, "x": 1}
		assert.Equal(t, mustKey(t, a), mustKey(t, b))
	})

	t.Run("unencodable part", func(t *testing.T) {
		_, err := KeyOf(make(chan int))
		assert.Error(t, err)
	})
}

func TestResultCache_GetPut(t *testing.T) {
	c := New(10, 0)
	k := mustKey(t, "a")

	_, ok := c.Get(k)
	assert.False(t, ok)

	c.Put(k, "value")
	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "value", v)

	c.Put(k, "updated")
	v, _ = c.Get(k)
	assert.Equal(t, "updated", v)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 66.67, stats.HitRate, 0.01)
}

func TestResultCache_LRUEviction(t *testing.T) {
	c := New(2, 0)
	k1, k2, k3 := mustKey(t, 1), mustKey(t, 2), mustKey(t, 3)

	c.Put(k1, 1)
	c.Put(k2, 2)
	c.Get(k1) // k2 is now least recently used
	c.Put(k3, 3)

	_, ok := c.Get(k2)
	assert.False(t, ok)
	_, ok = c.Get(k1)
	assert.True(t, ok)
	_, ok = c.Get(k3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	// Overwriting an existing key is not an eviction.
	c.Put(k3, 33)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestResultCache_TTL(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	k := mustKey(t, "ttl")
	c.Put(k, true)

	_, ok := c.Get(k)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(k)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestResultCache_RemoveClear(t *testing.T) {
	c := New(0, 0)
	assert.Equal(t, 256, c.Stats().MaxSize)

	k1, k2 := mustKey(t, 1), mustKey(t, 2)
	c.Put(k1, 1)
	c.Put(k2, 2)

	c.Remove(k1)
	assert.Equal(t, 1, c.Len())
	c.Clear()
	assert.Zero(t, c.Len())
}

func TestResultCache_Concurrent(t *testing.T) {
	c := New(50, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k, _ := KeyOf(g, i%100)
				c.Put(k, i)
				c.Get(k)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
