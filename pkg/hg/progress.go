package hg

import (
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/hermes/pkg/na"
)

// complete moves a finished handle onto its context's completion queue.
// Exactly one completion wins; late callbacks from cancelled twins are
// dropped here.
func complete(h *Handle, rc ReturnCode) {
	if !h.completed.CompareAndSwap(false, true) {
		return
	}

	h.ret = rc
	h.setState(stateCompleted)
	h.ctx.completed.push(h)

	if m := h.class.metrics; m != nil {
		m.HandleCompleted(rc)
		m.CompletionQueueDepth(h.ctx.completed.len())
	}
}

// Progress drives the engine for up to timeout: refill the listen
// backlog, run pending NA completion callbacks, and block in NA when
// nothing is ready. It returns nil as soon as the context's completion
// queue is non-empty and ErrTimeout when the wait expires.
func Progress(class *Class, ctx *Context, timeout time.Duration) error {
	if class == nil || ctx == nil {
		return fmt.Errorf("progress: %w", ErrInvalidParam)
	}

	if class.na.IsListening() {
		if err := listen(class, ctx); err != nil {
			return fmt.Errorf("progress: %w", err)
		}
	}

	// Drain NA's completion callbacks. These run the engine's protocol
	// callbacks, which may push onto the completion queue.
	for {
		n, err := class.naCtx.Trigger(0, 1)
		if err != nil && !errors.Is(err, na.ErrTimeout) {
			return fmt.Errorf("progress: na trigger: %w", wrapNA(err))
		}
		if n == 0 {
			break
		}
	}

	if ctx.completed.len() > 0 {
		return nil
	}

	if err := class.na.Progress(class.naCtx, timeout); err != nil {
		if errors.Is(err, na.ErrTimeout) {
			return ErrTimeout
		}
		return fmt.Errorf("progress: %w", wrapNA(err))
	}
	return nil
}

// Trigger dispatches up to max queued user callbacks, waiting up to
// timeout for the first. It reports the number of handles dispatched;
// an empty queue after the wait returns ErrTimeout.
//
// Callbacks run outside the queue lock, so multiple goroutines may call
// Trigger on one context concurrently.
func Trigger(class *Class, ctx *Context, timeout time.Duration, max int) (int, error) {
	if class == nil || ctx == nil {
		return 0, fmt.Errorf("trigger: %w", ErrInvalidParam)
	}
	if max <= 0 {
		return 0, fmt.Errorf("trigger: max %d: %w", max, ErrInvalidParam)
	}

	popped := ctx.completed.pop(timeout, max)
	if len(popped) == 0 {
		return 0, ErrTimeout
	}

	for _, h := range popped {
		// The responder's callback fires before the originator's: on a
		// self-addressed call both are installed on one handle and the
		// response exists before the originator can observe it.
		if h.respondCb != nil {
			h.respondCb(&CallbackInfo{
				Arg:     h.respondArg,
				Ret:     h.ret,
				Class:   class,
				Context: ctx,
				Handle:  h,
			})
		}
		if h.forwardCb != nil {
			h.forwardCb(&CallbackInfo{
				Arg:     h.forwardArg,
				Ret:     h.ret,
				Class:   class,
				Context: ctx,
				Handle:  h,
			})
		}

		// Release the dispatch reference taken at create (originator)
		// or process (responder) time.
		h.Destroy()
	}
	return len(popped), nil
}
