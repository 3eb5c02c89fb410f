package cache

import (
	"context"
	"time"
)

// Cache is the interface shared by the decision cache and the compiled
// schema cache. Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a value. Returns the value and true when found.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value with a TTL. ttl <= 0 selects the implementation's
	// default.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error

	// Metrics returns cache statistics.
	Metrics() *Metrics
}

// Metrics holds cache performance statistics.
type Metrics struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0.0
	}
	return float64(m.Hits) / float64(total)
}
