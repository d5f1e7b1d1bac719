package hg

import (
	"fmt"
	"sync/atomic"

	"github.com/marmos91/hermes/internal/protocol/header"
	"github.com/marmos91/hermes/pkg/na"
)

// handleState tracks a handle through its protocol state machine.
type handleState int32

const (
	// stateCreated: freshly created, no NA operation posted.
	stateCreated handleState = iota

	// statePosted: NA send/recv posted (forward on the origin, listen
	// recv on the target).
	statePosted

	// stateDecoded: request header decoded and verified on the target.
	stateDecoded

	// stateHandled: the registered handler has been invoked.
	stateHandled

	// stateResponded: the response send has been posted.
	stateResponded

	// stateCompleted: the handle sits in (or has passed through) the
	// completion queue.
	stateCompleted
)

func (s handleState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case statePosted:
		return "posted"
	case stateDecoded:
		return "decoded"
	case stateHandled:
		return "handled"
	case stateResponded:
		return "responded"
	case stateCompleted:
		return "completed"
	default:
		return "invalid"
	}
}

// Callback is the user completion callback installed by Forward and
// Respond and dispatched by Trigger.
type Callback func(info *CallbackInfo)

// CallbackInfo is handed to the user callback at dispatch time.
type CallbackInfo struct {
	// Arg is the opaque argument passed to Forward or Respond.
	Arg any

	// Ret reports how the call completed.
	Ret ReturnCode

	// Class and Context locate the engine instance.
	Class   *Class
	Context *Context

	// Handle is the call's handle. It is destroyed when the callback
	// returns; callers keeping it longer must Ref it.
	Handle *Handle
}

// Handle carries all state needed to drive one RPC through
// forward → respond → complete.
type Handle struct {
	class *Class
	ctx   *Context

	// Separate originator and responder callback slots: a self-addressed
	// call reuses one handle for both roles, and Respond installing its
	// callback must not displace the one Forward installed.
	forwardCb  Callback
	forwardArg any
	respondCb  Callback
	respondArg any

	id     uint32
	cookie uint32
	tag    na.Tag

	addr     na.Address
	addrMine bool

	// in and out are the full scratch buffers including the header
	// prefix; user-visible payload is the suffix past the header.
	in  []byte
	out []byte

	sendOp na.Operation
	recvOp na.Operation

	refcount  atomic.Int32
	state     atomic.Int32
	canceled  atomic.Bool
	completed atomic.Bool

	// ret is the completion status delivered to the user callback.
	// Written once by the completing path before the queue push.
	ret ReturnCode
}

// newHandle allocates a handle with both buffers sized to NA's maximum
// expected message size. The reference count starts at 1, held by the
// creator.
func newHandle(class *Class, ctx *Context, addr na.Address, id uint32) (*Handle, error) {
	size := class.maxExpected
	if size < header.RequestSize || size < header.ResponseSize {
		return nil, fmt.Errorf("max expected size %d below header size: %w", size, ErrSize)
	}

	h := &Handle{
		class:  class,
		ctx:    ctx,
		addr:   addr,
		id:     id,
		cookie: class.nextCookie(),
		in:     class.pool.Get(size),
		out:    class.pool.Get(size),
	}
	h.refcount.Store(1)
	return h, nil
}

// Create builds a handle for one RPC toward addr. The handle must be
// released with Destroy (directly, or implicitly when Trigger dispatches
// its completion).
func Create(class *Class, ctx *Context, addr na.Address, id uint32) (*Handle, error) {
	if class == nil || ctx == nil {
		return nil, fmt.Errorf("create handle: %w", ErrInvalidParam)
	}
	if addr == nil {
		return nil, fmt.Errorf("create handle: nil address: %w", ErrInvalidParam)
	}
	return newHandle(class, ctx, addr, id)
}

// Ref takes an additional reference on the handle.
func (h *Handle) Ref() {
	h.refcount.Add(1)
}

// Destroy releases one reference; the last reference frees the peer
// address (when owned) and returns both buffers to the allocator.
// Destroy on a nil handle is a no-op.
func (h *Handle) Destroy() {
	if h == nil {
		return
	}
	if h.refcount.Add(-1) > 0 {
		return
	}

	if h.addrMine && h.addr != nil {
		h.class.na.AddrFree(h.addr)
		h.addr = nil
	}
	if h.in != nil {
		h.class.pool.Put(h.in)
		h.in = nil
	}
	if h.out != nil {
		h.class.pool.Put(h.out)
		h.out = nil
	}
}

// Info describes a handle.
type Info struct {
	Class   *Class
	Context *Context
	ID      uint32
	Cookie  uint32
}

// GetInfo returns the handle's descriptive record.
func (h *Handle) GetInfo() (Info, error) {
	if h == nil {
		return Info{}, fmt.Errorf("get info: %w", ErrInvalidParam)
	}
	return Info{Class: h.class, Context: h.ctx, ID: h.id, Cookie: h.cookie}, nil
}

// Addr returns the handle's peer address.
func (h *Handle) Addr() na.Address {
	if h == nil {
		return nil
	}
	return h.addr
}

// InputBuf returns the request payload region: the input buffer past the
// request header prefix.
func (h *Handle) InputBuf() ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("input buffer: %w", ErrInvalidParam)
	}
	return h.in[header.RequestSize:], nil
}

// OutputBuf returns the response payload region: the output buffer past
// the response header prefix.
func (h *Handle) OutputBuf() ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("output buffer: %w", ErrInvalidParam)
	}
	return h.out[header.ResponseSize:], nil
}

// setState records a state-machine transition.
func (h *Handle) setState(s handleState) {
	h.state.Store(int32(s))
}

// getState reads the current state.
func (h *Handle) getState() handleState {
	return handleState(h.state.Load())
}
