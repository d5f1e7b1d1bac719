package loopback

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/hermes/pkg/na"
)

// expectKey matches an expected message to its pre-posted receive: the
// receiver keys by the peer it expects from plus the exchange tag.
type expectKey struct {
	peer string
	tag  na.Tag
}

// message is a buffered in-flight payload.
type message struct {
	data   []byte
	source string
	tag    na.Tag
}

// operation is a posted send or receive. done guards against the
// completion/cancellation race: whichever flips it first wins.
type operation struct {
	ctx  *Context
	cb   na.Callback
	buf  []byte
	done atomic.Bool
}

// Cancel implements na.Operation.
func (o *operation) Cancel() error {
	if !o.done.CompareAndSwap(false, true) {
		return nil
	}
	o.ctx.enqueue(o.cb, &na.CallbackInfo{Err: na.ErrCanceled})
	return nil
}

// Context is a loopback NA context. Completion callbacks queue on ready
// and run only from Trigger, matching the NA contract.
type Context struct {
	class *Class

	mu     sync.Mutex
	cond   *sync.Cond
	closed bool

	ready []func()

	unexpRecvs []*operation
	unexpMsgs  []*message
	expRecvs   map[expectKey][]*operation
	expMsgs    map[expectKey][]*message
}

var _ na.Context = (*Context)(nil)

// enqueue schedules a completion callback for Trigger.
func (c *Context) enqueue(cb na.Callback, info *na.CallbackInfo) {
	c.mu.Lock()
	c.ready = append(c.ready, func() { cb(info) })
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Context) checkSize(buf []byte) error {
	if len(buf) > c.class.maxSize {
		return fmt.Errorf("loopback: %d byte message: %w", len(buf), na.ErrSizeExceeded)
	}
	return nil
}

// SendUnexpected implements na.Context.
func (c *Context) SendUnexpected(cb na.Callback, buf []byte, peer na.Address, tag na.Tag) (na.Operation, error) {
	if err := c.checkSize(buf); err != nil {
		return nil, err
	}
	target, err := c.resolve(peer)
	if err != nil {
		return nil, err
	}

	msg := &message{data: append([]byte(nil), buf...), source: c.class.name, tag: tag}
	target.deliverUnexpected(msg)

	// The payload is copied out, so the send completes immediately.
	op := &operation{ctx: c, cb: cb}
	op.done.Store(true)
	c.enqueue(cb, &na.CallbackInfo{})
	return op, nil
}

// RecvUnexpected implements na.Context.
func (c *Context) RecvUnexpected(cb na.Callback, buf []byte) (na.Operation, error) {
	op := &operation{ctx: c, cb: cb, buf: buf}

	c.mu.Lock()
	if len(c.unexpMsgs) > 0 {
		msg := c.unexpMsgs[0]
		c.unexpMsgs = c.unexpMsgs[1:]
		c.mu.Unlock()
		c.completeRecv(op, msg, true)
		return op, nil
	}
	c.unexpRecvs = append(c.unexpRecvs, op)
	c.mu.Unlock()
	return op, nil
}

// SendExpected implements na.Context.
func (c *Context) SendExpected(cb na.Callback, buf []byte, peer na.Address, tag na.Tag) (na.Operation, error) {
	if err := c.checkSize(buf); err != nil {
		return nil, err
	}
	target, err := c.resolve(peer)
	if err != nil {
		return nil, err
	}

	msg := &message{data: append([]byte(nil), buf...), source: c.class.name, tag: tag}
	target.deliverExpected(msg)

	op := &operation{ctx: c, cb: cb}
	op.done.Store(true)
	c.enqueue(cb, &na.CallbackInfo{})
	return op, nil
}

// RecvExpected implements na.Context.
func (c *Context) RecvExpected(cb na.Callback, buf []byte, peer na.Address, tag na.Tag) (na.Operation, error) {
	key := expectKey{peer: peer.String(), tag: tag}
	op := &operation{ctx: c, cb: cb, buf: buf}

	c.mu.Lock()
	if queued := c.expMsgs[key]; len(queued) > 0 {
		msg := queued[0]
		if len(queued) == 1 {
			delete(c.expMsgs, key)
		} else {
			c.expMsgs[key] = queued[1:]
		}
		c.mu.Unlock()
		c.completeRecv(op, msg, false)
		return op, nil
	}
	c.expRecvs[key] = append(c.expRecvs[key], op)
	c.mu.Unlock()
	return op, nil
}

// Trigger implements na.Context.
func (c *Context) Trigger(timeout time.Duration, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	c.mu.Lock()
	if len(c.ready) == 0 && timeout > 0 {
		c.waitLocked(timeout)
	}
	if len(c.ready) == 0 {
		c.mu.Unlock()
		if timeout > 0 {
			return 0, na.ErrTimeout
		}
		return 0, nil
	}

	n := max
	if n > len(c.ready) {
		n = len(c.ready)
	}
	batch := make([]func(), n)
	copy(batch, c.ready[:n])
	c.ready = c.ready[n:]
	c.mu.Unlock()

	for _, run := range batch {
		run()
	}
	return n, nil
}

// Close implements na.Context: pending receives complete cancelled.
func (c *Context) Close() error {
	c.mu.Lock()
	pending := make([]*operation, 0, len(c.unexpRecvs))
	pending = append(pending, c.unexpRecvs...)
	for _, ops := range c.expRecvs {
		pending = append(pending, ops...)
	}
	c.unexpRecvs = nil
	c.expRecvs = make(map[expectKey][]*operation)
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, op := range pending {
		_ = op.Cancel()
	}
	return nil
}

// waitReady blocks until a completion is queued or the timeout expires.
func (c *Context) waitReady(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ready) > 0 {
		return nil
	}
	c.waitLocked(timeout)
	if len(c.ready) > 0 {
		return nil
	}
	return na.ErrTimeout
}

// waitLocked waits on the condition variable with a deadline. The caller
// holds c.mu.
func (c *Context) waitLocked(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(c.ready) == 0 && !c.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		// sync.Cond has no timed wait; poke the condvar when the
		// deadline passes so the wait cannot hang.
		timer := time.AfterFunc(remaining, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
		c.cond.Wait()
		timer.Stop()
		if time.Now().After(deadline) {
			return
		}
	}
}

func (c *Context) resolve(peer na.Address) (*Context, error) {
	if peer == nil {
		return nil, fmt.Errorf("loopback: nil peer address")
	}
	endpoint, ok := c.class.network.lookup(peer.String())
	if !ok {
		return nil, fmt.Errorf("loopback: peer %q: %w", peer.String(), na.ErrAddrNotFound)
	}
	return endpoint.deliveryContext()
}

// deliverUnexpected hands an inbound unexpected message to a posted
// receive, or buffers it until one is posted.
func (c *Context) deliverUnexpected(msg *message) {
	c.mu.Lock()
	for len(c.unexpRecvs) > 0 {
		op := c.unexpRecvs[0]
		c.unexpRecvs = c.unexpRecvs[1:]
		if op.done.Load() {
			continue // cancelled while posted
		}
		c.mu.Unlock()
		c.completeRecv(op, msg, true)
		return
	}
	c.unexpMsgs = append(c.unexpMsgs, msg)
	c.mu.Unlock()
}

// deliverExpected matches an inbound expected message against the
// receive posted for (source, tag), buffering on no match.
func (c *Context) deliverExpected(msg *message) {
	key := expectKey{peer: msg.source, tag: msg.tag}

	c.mu.Lock()
	for ops := c.expRecvs[key]; len(ops) > 0; ops = c.expRecvs[key] {
		op := ops[0]
		if len(ops) == 1 {
			delete(c.expRecvs, key)
		} else {
			c.expRecvs[key] = ops[1:]
		}
		if op.done.Load() {
			continue
		}
		c.mu.Unlock()
		c.completeRecv(op, msg, false)
		return
	}
	c.expMsgs[key] = append(c.expMsgs[key], msg)
	c.mu.Unlock()
}

// completeRecv copies the payload into the posted buffer and queues the
// receive completion. unexpected selects which info fields are reported.
func (c *Context) completeRecv(op *operation, msg *message, unexpected bool) {
	if !op.done.CompareAndSwap(false, true) {
		return
	}

	info := &na.CallbackInfo{}
	if len(msg.data) > len(op.buf) {
		info.Err = fmt.Errorf("loopback: %d bytes into %d byte buffer: %w",
			len(msg.data), len(op.buf), na.ErrSizeExceeded)
	} else {
		copy(op.buf, msg.data)
		if unexpected {
			info.Source = &addr{name: msg.source}
			info.SourceTag = msg.tag
			info.ActualSize = len(msg.data)
		} else {
			info.ActualSize = len(msg.data)
		}
	}
	c.enqueue(op.cb, info)
}
