// Package cache holds upstream responses for a bounded time.
package cache

import (
	"sync"
	"time"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
)

// Options configures a ResponseCache
type Options struct {
	TTL             time.Duration
	MaxEntries      int           // 0 means unbounded
	StaleFor        time.Duration // how long expired entries stay readable through GetStale
	CleanupInterval time.Duration
	Logger          *logging.StructuredLogger
	// OnCleanup is called after every periodic cleanup that removed entries
	OnCleanup func(evicted, remaining int, duration time.Duration)
}

type entry struct {
	body      []byte
	storedAt  time.Time
	expiresAt time.Time
}

// ResponseCache maps request keys to response bodies. Expired entries are
// kept for StaleFor so callers can fall back to them while the upstream is down.
type ResponseCache struct {
	entries map[string]*entry
	opts    Options
	mutex   sync.RWMutex
	stats   CacheStats
	now     func() time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	StaleHits     int64     `json:"staleHits"`
	Evictions     int64     `json:"evictions"`
	Invalidations int64     `json:"invalidations"`
	LastCleanup   time.Time `json:"lastCleanup"`
}

// NewResponseCache creates a cache and starts its cleanup goroutine
func NewResponseCache(opts Options) *ResponseCache {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	if opts.StaleFor < 0 {
		opts.StaleFor = 0
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = opts.TTL
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewStructuredLogger("cache")
	}

	rc := &ResponseCache{
		entries:     make(map[string]*entry),
		opts:        opts,
		stats:       CacheStats{LastCleanup: time.Now()},
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	rc.cleanupTicker = time.NewTicker(opts.CleanupInterval)
	go rc.periodicCleanup()

	return rc
}

func (rc *ResponseCache) periodicCleanup() {
	for {
		select {
		case <-rc.cleanupTicker.C:
			rc.Cleanup()
		case <-rc.stopCleanup:
			rc.cleanupTicker.Stop()
			return
		}
	}
}

// Get returns a fresh entry. Missing and expired keys return a cache error.
func (rc *ResponseCache) Get(key string) ([]byte, error) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	e, exists := rc.entries[key]
	if !exists {
		rc.stats.Misses++
		return nil, errors.NewCacheError(errors.ErrCodeCacheMiss,
			"Response not found in cache", nil).
			WithContext("key", key)
	}
	if !rc.now().Before(e.expiresAt) {
		rc.stats.Misses++
		return nil, errors.NewCacheError(errors.ErrCodeCacheExpired,
			"Cached response expired", nil).
			WithContext("key", key).
			WithContext("expired_at", e.expiresAt)
	}

	rc.stats.Hits++
	return e.body, nil
}

// GetStale returns an entry that may have expired, along with its age.
// Entries past the stale window are not returned.
func (rc *ResponseCache) GetStale(key string) ([]byte, time.Duration, bool) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	e, exists := rc.entries[key]
	now := rc.now()
	if !exists || now.After(e.expiresAt.Add(rc.opts.StaleFor)) {
		return nil, 0, false
	}

	rc.stats.StaleHits++
	return e.body, now.Sub(e.storedAt), true
}

// Set stores body under key, evicting the oldest entry when full
func (rc *ResponseCache) Set(key string, body []byte) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if _, exists := rc.entries[key]; !exists && rc.opts.MaxEntries > 0 && len(rc.entries) >= rc.opts.MaxEntries {
		rc.evictOldest()
	}

	now := rc.now()
	rc.entries[key] = &entry{
		body:      body,
		storedAt:  now,
		expiresAt: now.Add(rc.opts.TTL),
	}
}

// evictOldest must be called with the lock held
func (rc *ResponseCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range rc.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey, oldest = key, e.storedAt
		}
	}
	if oldestKey == "" {
		return
	}

	delete(rc.entries, oldestKey)
	rc.stats.Evictions++
	rc.opts.Logger.LogCacheOperation("evict", oldestKey, true, map[string]interface{}{
		"reason": "max_entries",
	})
}

// Invalidate removes a response from the cache
func (rc *ResponseCache) Invalidate(key string) {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if _, exists := rc.entries[key]; exists {
		delete(rc.entries, key)
		rc.stats.Invalidations++
	}
}

// Clear removes all entries
func (rc *ResponseCache) Clear() {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	rc.stats.Invalidations += int64(len(rc.entries))
	rc.entries = make(map[string]*entry)
}

// Cleanup drops entries whose stale window has passed
func (rc *ResponseCache) Cleanup() {
	start := time.Now()

	rc.mutex.Lock()
	now := rc.now()
	var evicted int
	for key, e := range rc.entries {
		if now.After(e.expiresAt.Add(rc.opts.StaleFor)) {
			delete(rc.entries, key)
			evicted++
		}
	}
	rc.stats.Evictions += int64(evicted)
	rc.stats.LastCleanup = now
	remaining := len(rc.entries)
	rc.mutex.Unlock()

	if evicted > 0 && rc.opts.OnCleanup != nil {
		rc.opts.OnCleanup(evicted, remaining, time.Since(start))
	}
}

// Close stops the cleanup goroutine
func (rc *ResponseCache) Close() {
	rc.stopOnce.Do(func() { close(rc.stopCleanup) })
}

// Size returns the number of stored entries, fresh or stale
func (rc *ResponseCache) Size() int {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	return len(rc.entries)
}

// GetStats returns cache performance statistics
func (rc *ResponseCache) GetStats() CacheStats {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	return rc.stats
}

// GetCacheHitRatio returns the cache hit ratio as a percentage
func (rc *ResponseCache) GetCacheHitRatio() float64 {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	total := rc.stats.Hits + rc.stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(rc.stats.Hits) / float64(total) * 100.0
}

// GetPerformanceMetrics returns detailed performance metrics for monitoring
func (rc *ResponseCache) GetPerformanceMetrics() map[string]interface{} {
	ratio := rc.GetCacheHitRatio()

	rc.mutex.RLock()
	defer rc.mutex.RUnlock()

	return map[string]interface{}{
		"entries":         len(rc.entries),
		"max_entries":     rc.opts.MaxEntries,
		"ttl_seconds":     rc.opts.TTL.Seconds(),
		"cache_hits":      rc.stats.Hits,
		"cache_misses":    rc.stats.Misses,
		"stale_hits":      rc.stats.StaleHits,
		"cache_hit_ratio": ratio,
		"evictions":       rc.stats.Evictions,
		"invalidations":   rc.stats.Invalidations,
		"last_cleanup":    rc.stats.LastCleanup,
	}
}
