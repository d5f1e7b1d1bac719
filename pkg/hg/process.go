package hg

import (
	"fmt"

	"github.com/marmos91/hermes/internal/logger"
	"github.com/marmos91/hermes/internal/protocol/header"
	"github.com/marmos91/hermes/pkg/na"
)

// listen refills the backlog of pre-posted unexpected receives on a
// listening context, one fresh handle per slot up to the backlog cap.
func listen(class *Class, ctx *Context) error {
	for ctx.processing.len() < backlogCap {
		h, err := newHandle(class, ctx, nil, 0)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		if !ctx.processing.add(h) {
			// Lost the race for the last slot.
			h.Destroy()
			break
		}

		recvOp, err := class.naCtx.RecvUnexpected(func(info *na.CallbackInfo) {
			recvInputCb(class, ctx, h, info)
		}, h.in)
		if err != nil {
			ctx.processing.remove(h)
			h.Destroy()
			return fmt.Errorf("listen: post unexpected recv: %w", wrapNA(err))
		}
		h.recvOp = recvOp
		h.setState(statePosted)
	}

	if m := class.metrics; m != nil {
		m.BacklogOccupancy(ctx.processing.len())
	}
	return nil
}

// recvInputCb completes a listen-side unexpected receive: adopt the
// reported source and tag, take the handle off the processing list and
// dispatch it.
func recvInputCb(class *Class, ctx *Context, h *Handle, info *na.CallbackInfo) {
	if info.Err != nil {
		// Cancellation from context teardown races normal teardown;
		// only the path that wins the list removal releases the handle.
		if ctx.processing.remove(h) {
			h.Destroy()
		}
		return
	}

	h.addr = info.Source
	h.addrMine = true
	h.tag = info.SourceTag

	if info.ActualSize != len(h.in) {
		logger.Error("Unexpected recv size mismatch",
			logger.KeyActualSize, info.ActualSize,
			logger.KeyBufSize, len(h.in))
		if ctx.processing.remove(h) {
			h.Destroy()
		}
		return
	}

	ctx.processing.remove(h)

	if err := process(class, ctx, h); err != nil {
		logger.Error("Request dispatch failed",
			logger.KeyPeer, h.addr.String(),
			logger.KeyError, err)
		h.Destroy()
	}
}

// process decodes the request carried by h and invokes the registered
// handler. The handler owns responding, synchronously or later; process
// returns once the invocation returns.
func process(class *Class, ctx *Context, h *Handle) error {
	req, err := header.DecodeRequest(h.in)
	if err != nil {
		return fmt.Errorf("process: %w: %v", ErrProtocol, err)
	}

	h.id = req.ID
	h.cookie = req.Cookie
	h.setState(stateDecoded)

	entry, err := class.registry.lookupHandler(req.ID)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	if entry.handler == nil {
		return fmt.Errorf("process: id %#x has nil handler: %w", req.ID, ErrInvalidParam)
	}

	// Hold an extra reference across dispatch so a Destroy inside the
	// handler only schedules release, it cannot free a handle the
	// respond path still drives.
	h.Ref()
	h.setState(stateHandled)

	if m := class.metrics; m != nil {
		m.RequestHandled(entry.name)
	}

	if err := entry.handler(h); err != nil {
		h.Destroy()
		return fmt.Errorf("process: handler %q: %w", entry.name, err)
	}
	return nil
}
