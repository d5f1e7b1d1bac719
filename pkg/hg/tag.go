package hg

import (
	"sync/atomic"

	"github.com/marmos91/hermes/pkg/na"
)

// tagAllocator hands out per-request tags for expected receives. The
// counter wraps to 0 after max, so tags cycle through [0, max] and stay
// within NA's advertised range.
type tagAllocator struct {
	counter atomic.Uint32
	max     uint32
}

func newTagAllocator(max na.Tag) *tagAllocator {
	return &tagAllocator{max: uint32(max)}
}

// next returns the next tag in the wrapping sequence. Lock-free; safe
// for concurrent callers.
func (t *tagAllocator) next() na.Tag {
	for {
		cur := t.counter.Load()
		next := cur + 1
		if cur >= t.max {
			next = 0
		}
		if t.counter.CompareAndSwap(cur, next) {
			return na.Tag(next)
		}
	}
}
