package hg

import (
	"fmt"
)

// Context is the per-progress-loop engine workspace: it owns the
// completion queue, the listen-side processing list and the bulk
// context. One Progress goroutine and any number of Trigger goroutines
// may share a context.
type Context struct {
	class *Class

	completed  *completionQueue
	processing *processingList

	bulkCtx BulkContext
}

// ContextCreate builds a context bound to class.
func ContextCreate(class *Class) (*Context, error) {
	if class == nil {
		return nil, fmt.Errorf("context create: %w", ErrInvalidParam)
	}

	bulkCtx, err := class.bulk.NewContext()
	if err != nil {
		return nil, fmt.Errorf("context create: bulk context: %w", err)
	}

	return &Context{
		class:      class,
		completed:  newCompletionQueue(),
		processing: newProcessingList(),
		bulkCtx:    bulkCtx,
	}, nil
}

// ContextDestroy releases a context. Pre-posted listen receives are
// cancelled and released; a non-empty completion queue means pending
// user callbacks were never dispatched, which is an error.
func ContextDestroy(ctx *Context) error {
	if ctx == nil {
		return fmt.Errorf("context destroy: %w", ErrInvalidParam)
	}

	// Cancel the listen backlog. The handles never reached a handler,
	// so the processing-list reference is the only one left.
	for _, h := range ctx.processing.drain() {
		if h.recvOp != nil {
			_ = h.recvOp.Cancel()
		}
		h.Destroy()
	}

	if n := ctx.completed.len(); n > 0 {
		return fmt.Errorf("context destroy: %d completions pending dispatch: %w",
			n, ErrInvalidParam)
	}

	if err := ctx.bulkCtx.Close(); err != nil {
		return fmt.Errorf("context destroy: close bulk context: %w", err)
	}
	return nil
}

// Class returns the class this context is bound to.
func (ctx *Context) Class() *Class {
	if ctx == nil {
		return nil
	}
	return ctx.class
}
