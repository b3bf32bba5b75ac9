// Package pool provides object pooling for the insert hot path.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool is a typed object pool with usage statistics.
// The zero value is not usable; construct with New.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)

	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// Stats reports pool activity counters.
type Stats struct {
	Gets  int64
	Puts  int64
	News  int64
	InUse int64
}

// New creates a pool producing values with newFn. resetFn, if non-nil, is
// applied to every value on Put before it re-enters the pool.
func New[T any](newFn func() T, resetFn func(T)) *Pool[T] {
	p := &Pool[T]{reset: resetFn}
	p.pool.New = func() interface{} {
		p.news.Add(1)
		return newFn()
	}
	return p
}

// Get retrieves a value from the pool, allocating if empty.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put resets v and returns it to the pool.
func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.puts.Add(1)
	p.pool.Put(v)
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	gets := p.gets.Load()
	puts := p.puts.Load()
	return Stats{
		Gets:  gets,
		Puts:  puts,
		News:  p.news.Load(),
		InUse: gets - puts,
	}
}

// Global pools shared across the pipeline.

const defaultByteSliceCap = 4096

var (
	// MapPool recycles row maps between processing passes.
	MapPool = New(
		func() map[string]interface{} {
			return make(map[string]interface{}, 16)
		},
		func(m map[string]interface{}) {
			clear(m)
		},
	)

	// ByteSlicePool recycles scratch byte slices.
	ByteSlicePool = New(
		func() []byte {
			return make([]byte, 0, defaultByteSliceCap)
		},
		nil,
	)
)

// GetMap retrieves a cleared row map.
func GetMap() map[string]interface{} {
	return MapPool.Get()
}

// PutMap returns a row map to the pool.
func PutMap(m map[string]interface{}) {
	if m == nil {
		return
	}
	MapPool.Put(m)
}

// GetByteSlice retrieves an empty byte slice with retained capacity.
func GetByteSlice() []byte {
	return ByteSlicePool.Get()[:0]
}

// PutByteSlice returns a byte slice to the pool. Slices that grew beyond
// maxRetainedCap are dropped so one huge row cannot pin memory forever.
func PutByteSlice(b []byte) {
	const maxRetainedCap = 1 << 20
	if b == nil || cap(b) > maxRetainedCap {
		return
	}
	ByteSlicePool.Put(b[:0])
}

var idCounter atomic.Int64

// GenerateID returns a unique identifier with the given prefix, used to tag
// insert calls in logs and traces.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}
