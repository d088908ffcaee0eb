package tape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelStoreBucketsByTickSize(t *testing.T) {
	store := newLevelStore(0.5, 30*time.Minute)
	now := time.Now()

	store.add(100.1, 10, 1, 0.7, now)
	store.add(99.9, 10, 1, 0.7, now)
	store.add(100.4, 10, 1, 0.7, now)

	// 100.1 and 99.9 round to 100.0; 100.4 rounds to 100.5.
	assert.Equal(t, 2, store.size())
	level := store.get(100.0)
	require.NotNil(t, level)
	assert.Equal(t, 100.0, level.Price)
	assert.InDelta(t, 20.0, level.TotalVolume, 1e-9)
	assert.Equal(t, 2, level.Touches)
}

func TestLevelStoreDirectionalSplit(t *testing.T) {
	store := newLevelStore(0.5, 30*time.Minute)
	now := time.Now()

	up := store.add(100, 100, 1, 0.7, now)
	assert.InDelta(t, 70.0, up.BuyVolume, 1e-9)
	assert.InDelta(t, 30.0, up.SellVolume, 1e-9)

	down := store.add(200, 100, -1, 0.7, now)
	assert.InDelta(t, 30.0, down.BuyVolume, 1e-9)
	assert.InDelta(t, 70.0, down.SellVolume, 1e-9)

	flat := store.add(300, 100, 0, 0.7, now)
	assert.InDelta(t, 50.0, flat.BuyVolume, 1e-9)
	assert.InDelta(t, 50.0, flat.SellVolume, 1e-9)
}

func TestLevelStoreEviction(t *testing.T) {
	store := newLevelStore(0.5, 30*time.Minute)
	base := time.Now()

	store.add(100, 10, 1, 0.7, base)
	store.add(200, 10, 1, 0.7, base.Add(29*time.Minute))

	store.evict(base.Add(31 * time.Minute))

	assert.Nil(t, store.get(100), "stale level should be evicted")
	assert.NotNil(t, store.get(200), "recent level should survive")
}

func TestLevelStoreTopByVolume(t *testing.T) {
	store := newLevelStore(0.5, 30*time.Minute)
	now := time.Now()

	store.add(100, 50, 1, 0.7, now)
	store.add(101, 150, 1, 0.7, now)
	store.add(102, 100, 1, 0.7, now)

	top := store.topByVolume(2)
	require.Len(t, top, 2)
	assert.Equal(t, 101.0, top[0].Price)
	assert.Equal(t, 102.0, top[1].Price)

	all := store.topByVolume(0)
	assert.Len(t, all, 3)
}
