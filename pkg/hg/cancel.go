package hg

import "fmt"

// Cancel requests best-effort cancellation of the operations posted for
// h. Each pending NA operation is cancelled exactly once; the cancelled
// operations flow through the normal completion path and the user
// callback observes a cancellation return code. Cancelling twice, or
// cancelling a handle that already completed, is a no-op.
func Cancel(h *Handle) error {
	if h == nil {
		return fmt.Errorf("cancel: %w", ErrInvalidParam)
	}
	if !h.canceled.CompareAndSwap(false, true) {
		return nil
	}

	if h.recvOp != nil {
		if err := h.recvOp.Cancel(); err != nil {
			return fmt.Errorf("cancel recv: %w", wrapNA(err))
		}
	}
	if h.sendOp != nil {
		if err := h.sendOp.Cancel(); err != nil {
			return fmt.Errorf("cancel send: %w", wrapNA(err))
		}
	}
	return nil
}
