package volume

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/volren/internal/gpu"
	"github.com/gogpu/volren/internal/vlog"
)

// Cache errors.
var (
	// ErrBudgetExceeded is returned when a volume cannot fit the budget even
	// after eviction.
	ErrBudgetExceeded = errors.New("volume: cache budget exceeded")

	// ErrCacheClosed is returned when operating on a closed cache.
	ErrCacheClosed = errors.New("volume: cache closed")
)

// Default cache limits.
const (
	// DefaultBudgetMB is the default GPU memory budget (256 MB).
	DefaultBudgetMB = 256

	// DefaultEvictionThreshold is when eviction starts (80% of budget).
	DefaultEvictionThreshold = 0.8

	// MinBudgetMB is the minimum allowed budget (16 MB).
	MinBudgetMB = 16
)

// CacheStats contains cache usage statistics.
type CacheStats struct {
	// TotalBytes is the budget in bytes.
	TotalBytes uint64

	// UsedBytes is the texture memory of the cached volumes.
	UsedBytes uint64

	// VolumeCount is the number of cached volumes.
	VolumeCount int

	// EvictionCount is the total number of evicted volumes.
	EvictionCount uint64

	// Utilization is the fraction of the budget in use (0.0 to 1.0).
	Utilization float64
}

// String returns a human-readable string of cache stats.
func (s CacheStats) String() string {
	return fmt.Sprintf("Cache[%.1f%% used, %d/%d MB, %d volumes, %d evictions]",
		s.Utilization*100,
		s.UsedBytes/(1024*1024),
		s.TotalBytes/(1024*1024),
		s.VolumeCount,
		s.EvictionCount)
}

type cacheEntry struct {
	vol      *Volume
	size     uint64
	lastUsed time.Time
	element  *list.Element
}

// CacheConfig holds configuration for creating a Cache.
type CacheConfig struct {
	// BudgetMB is the memory budget in megabytes.
	// Defaults to DefaultBudgetMB if below MinBudgetMB.
	BudgetMB int

	// EvictionThreshold is the fill fraction at which eviction starts.
	// Defaults to DefaultEvictionThreshold if not in (0, 1].
	EvictionThreshold float64
}

// Cache keeps built volumes by series id within a GPU memory budget,
// evicting the least recently used ones.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	gctx *gpu.Context

	budgetBytes uint64
	usedBytes   uint64
	threshold   float64

	entries map[string]*cacheEntry

	// front = most recently used
	lru *list.List

	evictionCount uint64
	closed        bool
}

// NewCache creates an empty cache. Evicted textures are destroyed on gctx.
func NewCache(gctx *gpu.Context, config CacheConfig) *Cache {
	budget := config.BudgetMB
	if budget < MinBudgetMB {
		budget = DefaultBudgetMB
	}
	threshold := config.EvictionThreshold
	if threshold <= 0 || threshold > 1.0 {
		threshold = DefaultEvictionThreshold
	}
	//nolint:gosec // G115: budget is at least MinBudgetMB
	return &Cache{
		gctx:        gctx,
		budgetBytes: uint64(budget) * 1024 * 1024,
		threshold:   threshold,
		entries:     make(map[string]*cacheEntry),
		lru:         list.New(),
	}
}

// GetOrBuild returns the volume cached under id, or calls build and caches
// its result. Least recently used volumes are evicted to make room.
func (c *Cache) GetOrBuild(id string, build func() (*Volume, error)) (*Volume, error) {
	if v := c.Get(id); v != nil {
		return v, nil
	}

	// Building loads a slice; it runs without the lock.
	v, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCacheClosed
	}
	if e, ok := c.entries[id]; ok {
		// Another caller won the race.
		c.touchLocked(e)
		c.mu.Unlock()
		return e.vol, nil
	}
	size := v.SizeBytes()
	if size > c.budgetBytes {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: volume %s needs %d MB, budget is %d MB",
			ErrBudgetExceeded, id, size/(1024*1024), c.budgetBytes/(1024*1024))
	}
	victims := c.selectVictimsLocked(size)
	e := &cacheEntry{vol: v, size: size, lastUsed: time.Now()}
	e.element = c.lru.PushFront(id)
	c.entries[id] = e
	c.usedBytes += size
	c.mu.Unlock()

	c.release(victims)
	return v, nil
}

// selectVictimsLocked unlinks LRU entries until adding required bytes keeps
// usage under the eviction threshold.
func (c *Cache) selectVictimsLocked(required uint64) []*cacheEntry {
	target := uint64(float64(c.budgetBytes) * c.threshold)
	var victims []*cacheEntry
	for c.usedBytes+required > target && c.lru.Len() > 0 {
		back := c.lru.Back()
		id, _ := back.Value.(string)
		e := c.entries[id]
		c.removeLocked(id, e)
		c.evictionCount++
		victims = append(victims, e)
	}
	return victims
}

func (c *Cache) removeLocked(id string, e *cacheEntry) {
	c.lru.Remove(e.element)
	delete(c.entries, id)
	c.usedBytes -= e.size
}

func (c *Cache) touchLocked(e *cacheEntry) {
	e.lastUsed = time.Now()
	c.lru.MoveToFront(e.element)
}

// release stops loaders and destroys textures outside the lock.
func (c *Cache) release(victims []*cacheEntry) {
	for _, e := range victims {
		if l := e.vol.Loader(); l != nil {
			l.Stop()
		}
		if err := e.vol.Destroy(c.gctx); err != nil {
			vlog.Logger().Warn("volume: release evicted texture", "id", e.vol.ID(), "err", err)
		}
		vlog.Logger().Debug("volume: evicted", "id", e.vol.ID(), "bytes", e.size)
	}
}

// Get returns the cached volume and marks it recently used, or nil.
func (c *Cache) Get(id string) *Volume {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || c.closed {
		return nil
	}
	c.touchLocked(e)
	return e.vol
}

// Touch marks the volume recently used. Call this when it is rendered.
func (c *Cache) Touch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.touchLocked(e)
	}
}

// Evict removes the volume, stops its loader and destroys its texture. It
// reports whether the volume was cached.
func (c *Cache) Evict(id string) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.removeLocked(id, e)
	c.evictionCount++
	c.mu.Unlock()

	c.release([]*cacheEntry{e})
	return true
}

// Stats returns current usage statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var utilization float64
	if c.budgetBytes > 0 {
		utilization = float64(c.usedBytes) / float64(c.budgetBytes)
	}
	return CacheStats{
		TotalBytes:    c.budgetBytes,
		UsedBytes:     c.usedBytes,
		VolumeCount:   len(c.entries),
		EvictionCount: c.evictionCount,
		Utilization:   utilization,
	}
}

// Close evicts every volume. Subsequent GetOrBuild calls fail.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	victims := make([]*cacheEntry, 0, len(c.entries))
	for el := c.lru.Front(); el != nil; el = el.Next() {
		id, _ := el.Value.(string)
		victims = append(victims, c.entries[id])
	}
	c.entries = make(map[string]*cacheEntry)
	c.lru.Init()
	c.usedBytes = 0
	c.mu.Unlock()

	c.release(victims)
}
