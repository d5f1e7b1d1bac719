// Package loopback implements the NA contract in-process.
//
// A Network connects named endpoints; messages are delivered by copying
// between posted buffers under a lock, never touching a wire. Unexpected
// messages arriving before a receive is posted are buffered, matching
// the behavior of transports that maintain an unexpected message queue.
//
// The package exists to exercise the RPC engine end to end: unit tests
// and the bench CLI run complete forward/respond round trips between two
// loopback endpoints.
package loopback

import (
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/hermes/pkg/na"
)

// Default limits advertised by loopback classes.
const (
	DefaultMaxMsgSize = 4 << 10
	DefaultMaxTag     = na.Tag(1<<16 - 1)
)

// Options tunes a loopback class at creation time.
type Options struct {
	// MaxMsgSize overrides the advertised maximum message size.
	MaxMsgSize int

	// MaxTag overrides the advertised maximum tag value.
	MaxTag na.Tag
}

// Network is the in-process fabric connecting loopback endpoints.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Class
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Class)}
}

// NewClass registers a named endpoint on the fabric. listening controls
// whether the endpoint accepts unexpected messages.
func (n *Network) NewClass(name string, listening bool, opts *Options) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("loopback: empty endpoint name")
	}

	maxSize := DefaultMaxMsgSize
	maxTag := DefaultMaxTag
	if opts != nil {
		if opts.MaxMsgSize > 0 {
			maxSize = opts.MaxMsgSize
		}
		if opts.MaxTag > 0 {
			maxTag = opts.MaxTag
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[name]; exists {
		return nil, fmt.Errorf("loopback: endpoint %q already registered", name)
	}

	c := &Class{
		network:   n,
		name:      name,
		listening: listening,
		maxSize:   maxSize,
		maxTag:    maxTag,
	}
	n.endpoints[name] = c
	return c, nil
}

func (n *Network) lookup(name string) (*Class, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.endpoints[name]
	return c, ok
}

// addr is a loopback address: just the endpoint name.
type addr struct {
	name string
}

func (a *addr) String() string { return a.name }

// Class is a loopback endpoint implementing na.Class.
type Class struct {
	network   *Network
	name      string
	listening bool
	maxSize   int
	maxTag    na.Tag

	mu       sync.Mutex
	delivery *Context // first created context receives inbound messages
}

var _ na.Class = (*Class)(nil)

// MaxExpectedSize implements na.Class.
func (c *Class) MaxExpectedSize() int { return c.maxSize }

// MaxTag implements na.Class.
func (c *Class) MaxTag() na.Tag { return c.maxTag }

// IsListening implements na.Class.
func (c *Class) IsListening() bool { return c.listening }

// SelfAddr implements na.Class.
func (c *Class) SelfAddr() na.Address { return &addr{name: c.name} }

// AddrLookup implements na.Class.
func (c *Class) AddrLookup(name string) (na.Address, error) {
	if _, ok := c.network.lookup(name); !ok {
		return nil, fmt.Errorf("loopback: lookup %q: %w", name, na.ErrAddrNotFound)
	}
	return &addr{name: name}, nil
}

// AddrIsSelf implements na.Class.
func (c *Class) AddrIsSelf(a na.Address) bool {
	la, ok := a.(*addr)
	return ok && la.name == c.name
}

// AddrFree implements na.Class. Loopback addresses carry no resources.
func (c *Class) AddrFree(na.Address) {}

// Progress implements na.Class: it blocks until ctx has at least one
// completion queued or the timeout expires.
func (c *Class) Progress(ctx na.Context, timeout time.Duration) error {
	lctx, ok := ctx.(*Context)
	if !ok {
		return fmt.Errorf("loopback: foreign context")
	}
	return lctx.waitReady(timeout)
}

// NewContext creates a context bound to this endpoint. The first context
// created becomes the delivery context for inbound messages.
func (c *Class) NewContext() (*Context, error) {
	ctx := &Context{
		class:    c,
		expRecvs: make(map[expectKey][]*operation),
		expMsgs:  make(map[expectKey][]*message),
	}
	ctx.cond = sync.NewCond(&ctx.mu)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivery == nil {
		c.delivery = ctx
	}
	return ctx, nil
}

func (c *Class) deliveryContext() (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivery == nil {
		return nil, fmt.Errorf("loopback: endpoint %q has no context", c.name)
	}
	return c.delivery, nil
}
