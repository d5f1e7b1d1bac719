// Package bufpool provides a reusable allocator for RPC message buffers.
//
// Every handle owns two scratch buffers sized to the transport's maximum
// expected message size, allocated at handle creation and released at
// destruction. Round-trip-heavy workloads churn through handles quickly,
// so buffers are recycled through a sync.Pool instead of hitting the
// allocator on every call.
//
// Buffers returned by Get are zeroed: the header codec relies on
// reserved fields reading back as zero, and a recycled payload must not
// leak into the next call.
//
// All operations are safe for concurrent use.
package bufpool

import "sync"

// Pool recycles byte slices of a fixed size class.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a pool whose recycled buffers are size bytes long.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the pool's buffer size class.
func (p *Pool) Size() int { return p.size }

// Get returns a zeroed buffer of at least size bytes. Requests larger
// than the pool's size class are allocated directly and will not be
// recycled by Put.
func (p *Pool) Get(size int) []byte {
	if size > p.size {
		return make([]byte, size)
	}

	buf := *(p.pool.Get().(*[]byte))
	clear(buf)
	return buf[:size]
}

// Put returns a buffer obtained from Get to the pool. Buffers of a
// foreign size class are dropped for the GC to collect.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}
