package volume

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/volren/internal/gpu/gputest"
)

// headerVolume builds a volume of int16 slices without loading any of them.
func headerVolume(id string, w, h, d int) func() (*Volume, error) {
	return func() (*Volume, error) {
		slices := make([]Slice, d)
		for i := range slices {
			slices[i] = &MemSlice{Geom: SliceGeometry{InstanceNumber: i}}
		}
		return NewVolume(Options{
			ID:     id,
			Slices: slices,
			Header: Header{Width: w, Height: h, Channels: 1, Type: SampleInt16},
		})
	}
}

const mb = 1024 * 1024

func TestNewCache_Defaults(t *testing.T) {
	gctx, _ := gputest.NewContext()
	c := NewCache(gctx, CacheConfig{BudgetMB: 1, EvictionThreshold: 2})
	s := c.Stats()
	assert.Equal(t, uint64(DefaultBudgetMB*mb), s.TotalBytes)
	assert.Equal(t, "Cache[0.0% used, 0/256 MB, 0 volumes, 0 evictions]", s.String())
}

func TestCache_GetOrBuildBuildsOnce(t *testing.T) {
	gctx, _ := gputest.NewContext()
	c := NewCache(gctx, CacheConfig{BudgetMB: MinBudgetMB})
	builds := 0
	build := func() (*Volume, error) {
		builds++
		return headerVolume("a", 64, 64, 4)()
	}
	v1, err := c.GetOrBuild("a", build)
	require.NoError(t, err)
	v2, err := c.GetOrBuild("a", build)
	require.NoError(t, err)
	assert.Same(t, v1, v2)
	assert.Equal(t, 1, builds)
	assert.Equal(t, uint64(64*64*4*2), c.Stats().UsedBytes)
}

func TestCache_BuildError(t *testing.T) {
	gctx, _ := gputest.NewContext()
	c := NewCache(gctx, CacheConfig{})
	boom := errors.New("unreadable series")
	_, err := c.GetOrBuild("x", func() (*Volume, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Stats().VolumeCount)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	gctx, _ := gputest.NewContext()
	// 16 MB budget, eviction above 12.8 MB.
	c := NewCache(gctx, CacheConfig{BudgetMB: 16, EvictionThreshold: 0.8})

	a, err := c.GetOrBuild("a", headerVolume("a", 256, 256, 32)) // 4 MB
	require.NoError(t, err)
	_, err = c.GetOrBuild("b", headerVolume("b", 256, 256, 32)) // 4 MB
	require.NoError(t, err)
	c.Touch("a")

	_, err = c.GetOrBuild("c", headerVolume("c", 256, 256, 64)) // 8 MB
	require.NoError(t, err)

	assert.NotNil(t, c.Get("a"))
	assert.Nil(t, c.Get("b"))
	assert.NotNil(t, c.Get("c"))
	s := c.Stats()
	assert.Equal(t, 2, s.VolumeCount)
	assert.Equal(t, uint64(1), s.EvictionCount)
	assert.Equal(t, uint64(12*mb), s.UsedBytes)
	assert.False(t, a.Texture().IsDestroyed())
}

func TestCache_TooLarge(t *testing.T) {
	gctx, _ := gputest.NewContext()
	c := NewCache(gctx, CacheConfig{BudgetMB: 16})
	_, err := c.GetOrBuild("huge", headerVolume("huge", 512, 512, 64)) // 32 MB
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestCache_EvictStopsLoaderAndDestroysTexture(t *testing.T) {
	gctx, _ := gputest.NewContext()
	c := NewCache(gctx, CacheConfig{})
	v, err := c.GetOrBuild("ct", func() (*Volume, error) {
		return NewVolume(Options{ID: "ct", Slices: ctSlices(3, 2, 2, 0)})
	})
	require.NoError(t, err)
	l := NewLoader(gctx, v, LoaderOptions{Evictor: c})
	l.Start()
	waitDone(t, l)
	require.True(t, v.IsReadyForDisplay())

	assert.True(t, c.Evict("ct"))
	assert.False(t, c.Evict("ct"))
	assert.True(t, v.Texture().IsDestroyed())
	assert.False(t, v.IsReadyForDisplay())
	assert.Nil(t, c.Get("ct"))
}

func TestCache_UploadFailureEvicts(t *testing.T) {
	gctx, q := gputest.NewContext()
	q.FailAfter(1, errors.New("out of memory"))
	c := NewCache(gctx, CacheConfig{})
	v, err := c.GetOrBuild("mr", func() (*Volume, error) {
		return NewVolume(Options{ID: "mr", Slices: ctSlices(4, 2, 2, 0)})
	})
	require.NoError(t, err)
	l := NewLoader(gctx, v, LoaderOptions{Evictor: c})
	l.Start()

	assert.Eventually(t, func() bool { return c.Get("mr") == nil }, waitTimeout, time.Millisecond)
	assert.Eventually(t, func() bool { return v.Texture().IsDestroyed() }, waitTimeout, time.Millisecond)
	assert.Equal(t, LoaderFailed, l.State())

	// A failed volume can stream again onto a fresh texture.
	q.FailAfter(-1, nil)
	l.Start()
	waitDone(t, l)
	assert.Equal(t, LoaderCompleted, l.State())
	assert.True(t, v.IsReadyForDisplay())
}

func TestCache_Close(t *testing.T) {
	gctx, _ := gputest.NewContext()
	c := NewCache(gctx, CacheConfig{})
	v, err := c.GetOrBuild("a", headerVolume("a", 8, 8, 2))
	require.NoError(t, err)
	c.Close()
	c.Close()
	assert.True(t, v.Texture().IsDestroyed())
	_, err = c.GetOrBuild("b", headerVolume("b", 8, 8, 2))
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.Zero(t, c.Stats().VolumeCount)
}
