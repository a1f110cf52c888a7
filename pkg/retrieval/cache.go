package retrieval

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/atomic"

	"github.com/oceanbase/memstore/pkg/model"
)

// resultCache stores ranked results. Entries are keyed by the generation of
// their scope; bumping the generation makes every older entry unreachable,
// and ristretto evicts them in time.
type resultCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	epoch *atomic.Uint64

	mu   sync.Mutex
	gens map[string]*atomic.Uint64
}

func newResultCache(maxCost int64, ttl time.Duration) (*resultCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &resultCache{
		cache: cache,
		ttl:   ttl,
		epoch: atomic.NewUint64(0),
		gens:  make(map[string]*atomic.Uint64),
	}, nil
}

func (c *resultCache) counter(scope string) *atomic.Uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gens[scope]
	if !ok {
		g = atomic.NewUint64(0)
		c.gens[scope] = g
	}
	return g
}

// generation combines the global epoch with the scope generation.
func (c *resultCache) generation(scope string) uint64 {
	return c.epoch.Load()<<32 | c.counter(scope).Load()
}

func (c *resultCache) invalidate(scope string) {
	c.counter(scope).Inc()
}

func (c *resultCache) invalidateAll() {
	c.epoch.Inc()
}

func (c *resultCache) get(key string) ([]*model.Memory, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return cloneAll(v.([]*model.Memory)), true
}

func (c *resultCache) set(key string, results []*model.Memory) {
	c.cache.SetWithTTL(key, cloneAll(results), 1, c.ttl)
	c.cache.Wait()
}

func (c *resultCache) close() {
	c.cache.Close()
}

func cloneAll(in []*model.Memory) []*model.Memory {
	out := make([]*model.Memory, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
