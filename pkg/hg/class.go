// Package hg implements the core RPC engine layered on a Network
// Abstraction (NA).
//
// Callers register named RPC functions on a Class, originate calls with
// Create and Forward, and drive delivery with the Progress/Trigger pair.
// Listening endpoints keep a backlog of pre-posted unexpected receives;
// incoming requests are decoded, dispatched to the registered handler,
// and answered with Respond. The engine composes NA's unexpected and
// expected messaging into a request/response protocol with framed
// headers, per-call tags and cookies, and user-callback completion — it
// never touches the wire itself.
//
// A typical deployment runs one Progress goroutine per context and
// dispatches user callbacks from one or more Trigger goroutines:
//
//	for {
//		if err := hg.Progress(class, ctx, 100*time.Millisecond); err != nil &&
//			!errors.Is(err, hg.ErrTimeout) {
//			return err
//		}
//		if _, err := hg.Trigger(class, ctx, 0, 16); err != nil &&
//			!errors.Is(err, hg.ErrTimeout) {
//			return err
//		}
//	}
package hg

import (
	"fmt"
	"sync/atomic"

	"github.com/marmos91/hermes/pkg/bufpool"
	"github.com/marmos91/hermes/pkg/na"
)

// Class is the process-level engine anchor: it ties an NA endpoint to
// the function registry, the tag allocator and the buffer allocator.
type Class struct {
	na    na.Class
	naCtx na.Context

	registry *registry
	tags     *tagAllocator
	cookies  atomic.Uint32

	pool        *bufpool.Pool
	maxExpected int

	bulk      Bulk
	bulkOwned bool

	metrics Metrics
}

// InitOptions tunes class creation.
type InitOptions struct {
	// Bulk supplies an external bulk-transfer subsystem. When nil the
	// class creates and owns a built-in no-op subsystem.
	Bulk Bulk

	// Metrics receives engine events; nil disables instrumentation.
	Metrics Metrics
}

// Init creates a class on top of an NA endpoint and context.
func Init(naClass na.Class, naCtx na.Context, opts *InitOptions) (*Class, error) {
	if naClass == nil || naCtx == nil {
		return nil, fmt.Errorf("init: nil NA class or context: %w", ErrInvalidParam)
	}

	maxExpected := naClass.MaxExpectedSize()
	if maxExpected <= 0 {
		return nil, fmt.Errorf("init: NA max expected size %d: %w", maxExpected, ErrSize)
	}

	c := &Class{
		na:          naClass,
		naCtx:       naCtx,
		registry:    newRegistry(),
		tags:        newTagAllocator(naClass.MaxTag()),
		pool:        bufpool.New(maxExpected),
		maxExpected: maxExpected,
	}

	if opts != nil && opts.Bulk != nil {
		c.bulk = opts.Bulk
	} else {
		c.bulk = noopBulk{}
		c.bulkOwned = true
	}
	if opts != nil {
		c.metrics = opts.Metrics
	}
	return c, nil
}

// Finalize tears the class down: registered entries run their deleters
// and the owned bulk subsystem is closed. Contexts must be destroyed
// first.
func Finalize(c *Class) error {
	if c == nil {
		return fmt.Errorf("finalize: %w", ErrInvalidParam)
	}

	c.registry.teardown()
	if c.bulkOwned {
		if err := c.bulk.Close(); err != nil {
			return fmt.Errorf("finalize: close bulk subsystem: %w", err)
		}
	}
	return nil
}

// nextCookie returns the per-call correlation nonce.
func (c *Class) nextCookie() uint32 {
	return c.cookies.Add(1)
}

// RegisterRPC registers handler under name and returns the operation id
// derived from it. Registering a duplicate name, or a name whose hash
// collides with a different registered name, fails.
func RegisterRPC(c *Class, name string, handler Handler) (uint32, error) {
	if c == nil {
		return 0, fmt.Errorf("register rpc: %w", ErrInvalidParam)
	}
	return c.registry.register(name, handler)
}

// RegisteredRPC reports whether name is registered, and its id.
func RegisteredRPC(c *Class, name string) (bool, uint32) {
	if c == nil {
		return false, 0
	}
	return c.registry.registered(name)
}

// RegisterData attaches user data to a registered operation id. The
// deleter, when non-nil, runs if the data is replaced and at finalize.
func RegisterData(c *Class, id uint32, data any, deleter func(any)) error {
	if c == nil {
		return fmt.Errorf("register data: %w", ErrInvalidParam)
	}
	return c.registry.attachData(id, data, deleter)
}

// RegisteredData returns the user data attached to id, nil when absent.
func RegisteredData(c *Class, id uint32) any {
	if c == nil {
		return nil
	}
	return c.registry.lookupData(id)
}
