package hg

import (
	"fmt"

	"github.com/marmos91/hermes/internal/logger"
	"github.com/marmos91/hermes/internal/protocol/header"
	"github.com/marmos91/hermes/pkg/na"
)

// Respond sends the response prepared in h's output buffer back to the
// request's originator. cb runs from Trigger when the send completes;
// arg is passed through in the callback info.
//
// Handlers call Respond and then Destroy the handle; the dispatch path
// holds its own reference until the completion callback has run.
func Respond(h *Handle, cb Callback, arg any) error {
	if h == nil {
		return fmt.Errorf("respond: %w", ErrInvalidParam)
	}
	if s := h.getState(); s != stateHandled {
		return fmt.Errorf("respond in state %s: %w", s, ErrInvalidParam)
	}

	h.respondCb = cb
	h.respondArg = arg

	resp := &header.Response{
		Cookie: h.cookie,
		Ret:    uint16(Success),
	}
	if err := header.EncodeResponse(h.out, resp); err != nil {
		return fmt.Errorf("respond: %w", errSize(err))
	}

	// A self-addressed call never touched the transport; the response
	// is in place, so the handle is complete.
	if h.class.na.AddrIsSelf(h.addr) {
		h.setState(stateResponded)
		complete(h, Success)
		return nil
	}

	sendOp, err := h.class.naCtx.SendExpected(func(info *na.CallbackInfo) {
		sendOutputCb(h, info)
	}, h.out, h.addr, h.tag)
	if err != nil {
		return fmt.Errorf("respond: send response: %w", wrapNA(err))
	}
	h.sendOp = sendOp
	h.setState(stateResponded)
	return nil
}

// sendOutputCb completes the response send on the responder.
func sendOutputCb(h *Handle, info *na.CallbackInfo) {
	if info.Err != nil {
		rc := naReturnCode(info.Err)
		if rc != RetCanceled {
			logger.Error("Response send failed",
				logger.KeyOpID, h.id,
				logger.KeyCookie, h.cookie,
				logger.KeyError, info.Err)
		}
		complete(h, rc)
		return
	}
	complete(h, Success)
}
