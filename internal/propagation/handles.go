package propagation

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/orbview/orbview/internal/metrics"
)

// ElementsKey returns a stable content hash of an element pair. Handles are
// keyed by element content, not satellite ID: two IDs could in principle
// share elements, but one ID must never map to two handles.
func ElementsKey(line1, line2 string) uint64 {
	d := xxhash.New()
	d.WriteString(line1)
	d.WriteString("\n")
	d.WriteString(line2)
	return d.Sum64()
}

// HandleCache holds compiled handles keyed by element content hash.
// Concurrent callers compiling the same elements race harmlessly: compilation
// is deterministic, so the loser's handle is equivalent to the winner's.
type HandleCache struct {
	mu      sync.RWMutex
	handles map[uint64]*Handle
}

// NewHandleCache creates an empty HandleCache.
func NewHandleCache() *HandleCache {
	return &HandleCache{handles: make(map[uint64]*Handle)}
}

// Get returns the handle for the given element pair, compiling and caching it
// on first use.
func (c *HandleCache) Get(line1, line2 string) (*Handle, error) {
	key := ElementsKey(line1, line2)

	c.mu.RLock()
	h, ok := c.handles[key]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	h, err := Compile(line1, line2)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if existing, ok := c.handles[key]; ok {
		h = existing
	} else {
		c.handles[key] = h
	}
	size := len(c.handles)
	c.mu.Unlock()

	metrics.SetHandleCacheSize(size)
	return h, nil
}

// Len returns the number of cached handles.
func (c *HandleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
