package pools

import (
	"sync"
	"sync/atomic"
)

// Resettable objects are cleared before going back to an ObjectPool
type Resettable interface {
	Reset()
}

// ObjectPool is a typed sync.Pool with usage counters
type ObjectPool[T Resettable] struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64
}

// NewObjectPool creates a pool that allocates with newFunc
func NewObjectPool[T Resettable](newFunc func() T) *ObjectPool[T] {
	p := &ObjectPool[T]{}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

func (p *ObjectPool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool
func (p *ObjectPool[T]) Put(obj T) {
	obj.Reset()
	p.puts.Add(1)
	p.pool.Put(obj)
}

// ObjectPoolStats reports pool usage. HitRate is the share of gets served
// without allocating.
type ObjectPoolStats struct {
	Gets    uint64  `json:"gets"`
	Puts    uint64  `json:"puts"`
	HitRate float64 `json:"hit_rate"`
}

func (p *ObjectPool[T]) Stats() ObjectPoolStats {
	g := p.gets.Load()
	n := p.news.Load()

	stats := ObjectPoolStats{Gets: g, Puts: p.puts.Load()}
	if g > 0 && g >= n {
		stats.HitRate = float64(g-n) / float64(g)
	}
	return stats
}
