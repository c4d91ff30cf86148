package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a tiered pool of connection buffers. Tiers double in size
// so a growing read buffer moves up one tier at a time.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

// Connection buffer tiers, 4KiB to 1MiB
var defaultSizes = []int{
	4 << 10,
	8 << 10,
	16 << 10,
	32 << 10,
	64 << 10,
	128 << 10,
	256 << 10,
	512 << 10,
	1 << 20,
}

// NewBytePool creates a pool with the default tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a pool with custom ascending tiers
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a zero-length slice with capacity of at least size
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, tier := range bp.sizes {
		if size <= tier {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:0]
		}
	}

	bp.misses.Add(1)
	return make([]byte, 0, size)
}

// Grow returns a buffer of at least size capacity holding a copy of
// buf[:len(buf)], and releases buf
func (bp *BytePool) Grow(buf []byte, size int) []byte {
	if cap(buf) >= size {
		return buf
	}
	grown := append(bp.Get(size), buf...)
	bp.Put(buf)
	return grown
}

// Put returns buf to its tier. Slices not allocated by the pool are dropped.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, tier := range bp.sizes {
		if capacity == tier {
			bp.puts.Add(1)
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// BytePoolStats reports pool usage
type BytePoolStats struct {
	Gets   uint64
	Puts   uint64
	Misses uint64
}

func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Puts:   bp.puts.Load(),
		Misses: bp.misses.Load(),
	}
}
