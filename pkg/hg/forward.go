package hg

import (
	"errors"
	"fmt"

	"github.com/marmos91/hermes/internal/logger"
	"github.com/marmos91/hermes/internal/protocol/header"
	"github.com/marmos91/hermes/pkg/na"
)

// Forward originates the RPC carried by h toward its peer. cb runs from
// Trigger when the response arrives (or the call fails); arg is passed
// through in the callback info. extraBulk is reserved for large-argument
// transport and is only carried in the request frame.
//
// Forward transfers the handle to the engine: after a successful return
// the caller must not Destroy h unless it took its own reference with
// Ref. The completion dispatch in Trigger releases the engine's
// reference.
func Forward(h *Handle, cb Callback, arg any, extraBulk uint64) error {
	if h == nil {
		return fmt.Errorf("forward: %w", ErrInvalidParam)
	}
	if s := h.getState(); s != stateCreated {
		return fmt.Errorf("forward in state %s: %w", s, ErrInvalidParam)
	}

	h.forwardCb = cb
	h.forwardArg = arg

	req := &header.Request{
		ID:        h.id,
		Cookie:    h.cookie,
		ExtraBulk: extraBulk,
	}
	if err := header.EncodeRequest(h.in, req); err != nil {
		return fmt.Errorf("forward: %w", errSize(err))
	}

	// Self-addressed calls short-circuit the transport: the request is
	// already in the input buffer, so dispatch it directly.
	if h.class.na.AddrIsSelf(h.addr) {
		return process(h.class, h.ctx, h)
	}

	h.tag = h.class.tags.next()

	// Pre-post the expected receive for the response before sending the
	// request, so the reply cannot race the posting.
	recvOp, err := h.class.naCtx.RecvExpected(func(info *na.CallbackInfo) {
		recvOutputCb(h, info)
	}, h.out, h.addr, h.tag)
	if err != nil {
		return fmt.Errorf("forward: post response recv: %w", wrapNA(err))
	}
	h.recvOp = recvOp

	sendOp, err := h.class.naCtx.SendUnexpected(func(info *na.CallbackInfo) {
		sendInputCb(h, info)
	}, h.in, h.addr, h.tag)
	if err != nil {
		// The posted receive must not outlive the failed forward.
		_ = recvOp.Cancel()
		return fmt.Errorf("forward: send request: %w", wrapNA(err))
	}
	h.sendOp = sendOp
	h.setState(statePosted)

	if m := h.class.metrics; m != nil {
		m.ForwardPosted()
	}
	return nil
}

// sendInputCb completes the request send on the originator. Success is a
// no-op: the handle completes through the response path. A transport
// failure completes the handle with an error so the caller is not left
// waiting on a response that cannot arrive.
func sendInputCb(h *Handle, info *na.CallbackInfo) {
	if info.Err == nil {
		return
	}

	rc := naReturnCode(info.Err)
	if rc != RetCanceled {
		logger.Error("Request send failed",
			logger.KeyOpID, h.id,
			logger.KeyCookie, h.cookie,
			logger.KeyError, info.Err)
	}
	complete(h, rc)
}

// recvOutputCb completes the response receive on the originator: decode
// and verify the response frame, then hand the handle to the completion
// queue.
func recvOutputCb(h *Handle, info *na.CallbackInfo) {
	if info.Err != nil {
		rc := naReturnCode(info.Err)
		if rc != RetCanceled {
			logger.Error("Response recv failed",
				logger.KeyOpID, h.id,
				logger.KeyCookie, h.cookie,
				logger.KeyError, info.Err)
		}
		complete(h, rc)
		return
	}

	resp, err := header.DecodeResponse(h.out)
	if err != nil {
		logger.Error("Response header rejected",
			logger.KeyOpID, h.id,
			logger.KeyCookie, h.cookie,
			logger.KeyError, err)
		complete(h, RetProtocolError)
		return
	}
	if resp.Cookie != h.cookie {
		logger.Error("Response cookie mismatch",
			logger.KeyCookie, h.cookie,
			logger.KeyPeerCookie, resp.Cookie)
		complete(h, RetProtocolError)
		return
	}

	complete(h, ReturnCode(resp.Ret))
}

// naReturnCode classifies an NA completion failure.
func naReturnCode(err error) ReturnCode {
	if errors.Is(err, na.ErrCanceled) {
		return RetCanceled
	}
	if errors.Is(err, na.ErrSizeExceeded) {
		return RetSizeError
	}
	return RetNAError
}

// errSize maps codec buffer errors onto the size taxonomy.
func errSize(err error) error {
	return fmt.Errorf("%w: %v", ErrSize, err)
}

// wrapNA folds an NA failure into the taxonomy, keeping timeout
// distinct.
func wrapNA(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, na.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNA, err)
}
