// Package na defines the contract of the Network Abstraction (NA) layer
// consumed by the RPC engine.
//
// NA provides two-sided messaging in two flavors:
//
//   - Unexpected: the receiver posts a receive without knowing the sender.
//     Completion reports the source address, the sender's tag and the
//     actual message size.
//   - Expected: the receiver posts a receive bound to a specific
//     (peer, tag) pair; only a matching send completes it.
//
// Completions are not delivered inline: each operation records a callback
// which is queued on the posting Context and runs only when the caller
// drains the context with Trigger. Progress blocks until at least one
// completion is ready (or the timeout expires). This split lets callers
// decide which thread runs completion callbacks.
package na

import (
	"errors"
	"time"
)

// Tag distinguishes concurrent expected message exchanges between the
// same two peers. Valid tags are in [0, Class.MaxTag()].
type Tag uint32

// Errors returned by NA operations. Implementations must return these
// sentinels (possibly wrapped) so callers can classify failures.
var (
	// ErrTimeout reports that Progress or Trigger expired without work.
	ErrTimeout = errors.New("na: timeout")

	// ErrCanceled reports an operation completed due to cancellation.
	ErrCanceled = errors.New("na: operation canceled")

	// ErrSizeExceeded reports a message larger than MaxExpectedSize.
	ErrSizeExceeded = errors.New("na: message size exceeds maximum")

	// ErrAddrNotFound reports an unknown peer address.
	ErrAddrNotFound = errors.New("na: address not found")
)

// Address identifies a peer endpoint. Addresses obtained from unexpected
// receive completions are owned by the receiver and must be released with
// Class.AddrFree when no longer needed.
type Address interface {
	String() string
}

// Operation is the borrowed token for an in-flight send or receive. The
// caller holds it only to dispatch cancellation; the operation completes
// through its callback regardless.
type Operation interface {
	// Cancel requests best-effort cancellation. A cancelled operation
	// still completes through its callback with ErrCanceled.
	Cancel() error
}

// CallbackInfo is passed to an operation's completion callback.
type CallbackInfo struct {
	// Err is nil on success, ErrCanceled after cancellation, or the
	// transport failure otherwise.
	Err error

	// Source and SourceTag are populated only for unexpected receive
	// completions; ActualSize is reported for every successful receive.
	// Source is owned by the receiver.
	Source     Address
	SourceTag  Tag
	ActualSize int
}

// Callback runs when an operation completes. It is invoked from Trigger
// on the context that posted the operation.
type Callback func(info *CallbackInfo)

// Class is the process-level NA endpoint.
type Class interface {
	// MaxExpectedSize returns the largest message, in bytes, that a
	// single expected or unexpected transfer can carry.
	MaxExpectedSize() int

	// MaxTag returns the largest usable tag value.
	MaxTag() Tag

	// IsListening reports whether this endpoint accepts unexpected
	// messages from remote peers.
	IsListening() bool

	// SelfAddr returns this endpoint's own address. The returned
	// address is borrowed and must not be freed.
	SelfAddr() Address

	// AddrLookup resolves a peer by name.
	AddrLookup(name string) (Address, error)

	// AddrIsSelf reports whether addr refers to this endpoint.
	AddrIsSelf(addr Address) bool

	// AddrFree releases an address obtained from an unexpected receive
	// completion. Freeing a borrowed or nil address is a no-op.
	AddrFree(addr Address)

	// Progress blocks until at least one completion is queued on ctx or
	// the timeout expires, in which case it returns ErrTimeout.
	Progress(ctx Context, timeout time.Duration) error
}

// Context is the per-progress-loop NA workspace. All post operations
// queue their completion callback on this context.
type Context interface {
	// SendUnexpected posts a send toward a peer that has no matching
	// receive posted in advance. buf must remain valid until the
	// completion callback runs.
	SendUnexpected(cb Callback, buf []byte, peer Address, tag Tag) (Operation, error)

	// RecvUnexpected posts a receive matching any unexpected message
	// from any peer. The completion reports source, tag and size.
	RecvUnexpected(cb Callback, buf []byte) (Operation, error)

	// SendExpected posts a send matching a pre-posted expected receive
	// on (peer, tag).
	SendExpected(cb Callback, buf []byte, peer Address, tag Tag) (Operation, error)

	// RecvExpected posts a receive bound to (peer, tag).
	RecvExpected(cb Callback, buf []byte, peer Address, tag Tag) (Operation, error)

	// Trigger runs up to max queued completion callbacks, waiting up to
	// timeout for the first one. It returns the number of callbacks
	// executed; zero with a nil error means the queue emptied.
	Trigger(timeout time.Duration, max int) (int, error)

	// Close releases the context. Pending operations are cancelled.
	Close() error
}
