package hg

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/hermes/internal/logger"
	"github.com/marmos91/hermes/pkg/na"
	"github.com/marmos91/hermes/pkg/na/loopback"
)

// newLoopbackClass builds a class on a fresh single-endpoint network.
func newLoopbackClass(t *testing.T, listening bool) (*Class, *Context, *loopback.Class) {
	t.Helper()

	network := loopback.NewNetwork()
	naClass, err := network.NewClass("self", listening, nil)
	require.NoError(t, err)
	naCtx, err := naClass.NewContext()
	require.NoError(t, err)

	class, err := Init(naClass, naCtx, nil)
	require.NoError(t, err)
	ctx, err := ContextCreate(class)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ContextDestroy(ctx)
		_ = Finalize(class)
	})
	return class, ctx, naClass
}

// newPair builds connected client and server classes on one network.
func newPair(t *testing.T) (client, server *Class, clientCtx, serverCtx *Context, serverAddr na.Address) {
	t.Helper()

	network := loopback.NewNetwork()
	serverNA, err := network.NewClass("server", true, nil)
	require.NoError(t, err)
	clientNA, err := network.NewClass("client", false, nil)
	require.NoError(t, err)

	serverNACtx, err := serverNA.NewContext()
	require.NoError(t, err)
	clientNACtx, err := clientNA.NewContext()
	require.NoError(t, err)

	server, err = Init(serverNA, serverNACtx, nil)
	require.NoError(t, err)
	client, err = Init(clientNA, clientNACtx, nil)
	require.NoError(t, err)

	serverCtx, err = ContextCreate(server)
	require.NoError(t, err)
	clientCtx, err = ContextCreate(client)
	require.NoError(t, err)

	serverAddr, err = clientNA.AddrLookup("server")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ContextDestroy(clientCtx)
		_ = ContextDestroy(serverCtx)
		_ = Finalize(client)
		_ = Finalize(server)
	})
	return client, server, clientCtx, serverCtx, serverAddr
}

// drive pumps progress+trigger on its own goroutine until the returned
// stop function is called.
func drive(t *testing.T, class *Class, ctx *Context) (stop func()) {
	t.Helper()

	done := make(chan struct{})
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		for {
			select {
			case <-done:
				return
			default:
			}
			if err := Progress(class, ctx, 5*time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
				return
			}
			if _, err := Trigger(class, ctx, 0, 16); err != nil && !errors.Is(err, ErrTimeout) {
				return
			}
		}
	}()
	return func() {
		close(done)
		<-idle
	}
}

// pump drives progress+trigger inline until cond holds or the deadline
// passes.
func pump(t *testing.T, class *Class, ctx *Context, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached before deadline")
		if err := Progress(class, ctx, 10*time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
			require.NoError(t, err)
		}
		if _, err := Trigger(class, ctx, 0, 16); err != nil && !errors.Is(err, ErrTimeout) {
			require.NoError(t, err)
		}
	}
}

func TestLoopbackForward(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, true)

	id, err := RegisterRPC(class, "echo", func(h *Handle) error {
		in, err := h.InputBuf()
		require.NoError(t, err)
		out, err := h.OutputBuf()
		require.NoError(t, err)

		// Reverse the three-byte payload.
		out[0], out[1], out[2] = in[2], in[1], in[0]

		require.NoError(t, Respond(h, nil, nil))
		h.Destroy()
		return nil
	})
	require.NoError(t, err)

	h, err := Create(class, ctx, naClass.SelfAddr(), id)
	require.NoError(t, err)

	in, err := h.InputBuf()
	require.NoError(t, err)
	copy(in, []byte{1, 2, 3})

	var (
		fired   bool
		got     []byte
		gotRet  ReturnCode
		cbArg   any
		wantArg = "arg"
	)
	require.NoError(t, Forward(h, func(info *CallbackInfo) {
		fired = true
		gotRet = info.Ret
		cbArg = info.Arg
		out, err := info.Handle.OutputBuf()
		require.NoError(t, err)
		got = append([]byte(nil), out[:3]...)
	}, wantArg, 0))

	n, err := Trigger(class, ctx, time.Second, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, fired)
	assert.Equal(t, Success, gotRet)
	assert.Equal(t, []byte{3, 2, 1}, got)
	assert.Equal(t, wantArg, cbArg)
}

func TestRemoteForward(t *testing.T) {
	client, server, clientCtx, serverCtx, serverAddr := newPair(t)

	_, err := RegisterRPC(server, "noop", func(h *Handle) error {
		if err := Respond(h, nil, nil); err != nil {
			return err
		}
		h.Destroy()
		return nil
	})
	require.NoError(t, err)

	id, err := RegisterRPC(client, "noop", nil)
	require.NoError(t, err)

	stop := drive(t, server, serverCtx)
	defer stop()

	h, err := Create(client, clientCtx, serverAddr, id)
	require.NoError(t, err)

	var (
		fired bool
		ret   ReturnCode
	)
	require.NoError(t, Forward(h, func(info *CallbackInfo) {
		fired = true
		ret = info.Ret
	}, nil, 0))

	pump(t, client, clientCtx, func() bool { return fired })
	assert.Equal(t, Success, ret)
}

func TestRemoteForwardPayload(t *testing.T) {
	client, server, clientCtx, serverCtx, serverAddr := newPair(t)

	// The handler runs on the server progress goroutine, so it reports
	// failures through its error return rather than the testing API.
	_, err := RegisterRPC(server, "echo", func(h *Handle) error {
		in, err := h.InputBuf()
		if err != nil {
			return err
		}
		out, err := h.OutputBuf()
		if err != nil {
			return err
		}
		copy(out, in)

		if err := Respond(h, nil, nil); err != nil {
			return err
		}
		h.Destroy()
		return nil
	})
	require.NoError(t, err)

	id, err := RegisterRPC(client, "echo", nil)
	require.NoError(t, err)

	stop := drive(t, server, serverCtx)
	defer stop()

	h, err := Create(client, clientCtx, serverAddr, id)
	require.NoError(t, err)

	in, err := h.InputBuf()
	require.NoError(t, err)
	payload := []byte("round trip payload")
	copy(in, payload)

	var (
		fired bool
		got   []byte
	)
	require.NoError(t, Forward(h, func(info *CallbackInfo) {
		fired = true
		out, err := info.Handle.OutputBuf()
		require.NoError(t, err)
		got = append([]byte(nil), out[:len(payload)]...)
	}, nil, 0))

	pump(t, client, clientCtx, func() bool { return fired })
	assert.Equal(t, payload, got)
}

func TestBacklogCap(t *testing.T) {
	_, server, _, serverCtx, _ := newPair(t)

	// Refilling twice keeps the processing list at the cap.
	require.NoError(t, listen(server, serverCtx))
	assert.Equal(t, backlogCap, serverCtx.processing.len())

	require.NoError(t, listen(server, serverCtx))
	assert.Equal(t, backlogCap, serverCtx.processing.len())
}

// syncBuffer is a locked bytes.Buffer: the server progress goroutine
// logs into it while the test polls its contents.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), []byte(s))
}

func TestUnknownID(t *testing.T) {
	logbuf := &syncBuffer{}
	logger.InitWithWriter(logbuf, "ERROR", "text")
	defer logger.InitWithWriter(io.Discard, "INFO", "text")

	client, server, clientCtx, serverCtx, serverAddr := newPair(t)

	stop := drive(t, server, serverCtx)
	defer stop()

	h, err := Create(client, clientCtx, serverAddr, 12345)
	require.NoError(t, err)

	var fired bool
	var ret ReturnCode
	require.NoError(t, Forward(h, func(info *CallbackInfo) {
		fired = true
		ret = info.Ret
	}, nil, 0))

	// The server drops the request, so the client sits waiting until it
	// gives up and cancels.
	assert.Eventually(t, func() bool {
		return logbuf.Contains("Request dispatch failed")
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, fired)

	require.NoError(t, Cancel(h))
	pump(t, client, clientCtx, func() bool { return fired })
	assert.Equal(t, RetCanceled, ret)
}

func TestCancelPendingForward(t *testing.T) {
	// The server never runs a progress loop, so the response can never
	// arrive and the posted receive stays pending.
	client, _, clientCtx, _, serverAddr := newPair(t)

	h, err := Create(client, clientCtx, serverAddr, 1)
	require.NoError(t, err)

	var ret ReturnCode
	var fired bool
	require.NoError(t, Forward(h, func(info *CallbackInfo) {
		fired = true
		ret = info.Ret
	}, nil, 0))

	require.NoError(t, Cancel(h))
	require.NoError(t, Cancel(h)) // second cancel is a no-op

	pump(t, client, clientCtx, func() bool { return fired })
	assert.Equal(t, RetCanceled, ret)
}

func TestInvalidStateTransitions(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, true)

	id, err := RegisterRPC(class, "echo", func(h *Handle) error {
		require.NoError(t, Respond(h, nil, nil))
		// A second respond on the same call must be rejected.
		assert.ErrorIs(t, Respond(h, nil, nil), ErrInvalidParam)
		h.Destroy()
		return nil
	})
	require.NoError(t, err)

	h, err := Create(class, ctx, naClass.SelfAddr(), id)
	require.NoError(t, err)

	// Responding before the handle was ever dispatched is invalid.
	fresh, err := Create(class, ctx, naClass.SelfAddr(), id)
	require.NoError(t, err)
	assert.ErrorIs(t, Respond(fresh, nil, nil), ErrInvalidParam)
	fresh.Destroy()

	require.NoError(t, Forward(h, nil, nil, 0))

	// The handle already ran through the state machine; forwarding it
	// again must be rejected.
	assert.ErrorIs(t, Forward(h, nil, nil, 0), ErrInvalidParam)

	_, err = Trigger(class, ctx, time.Second, 1)
	require.NoError(t, err)
}

func TestTriggerTimeout(t *testing.T) {
	class, ctx, _ := newLoopbackClass(t, false)

	start := time.Now()
	n, err := Trigger(class, ctx, 50*time.Millisecond, 4)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestCompletionOrder(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	var order []string
	mk := func(name string) *Handle {
		h, err := newHandle(class, ctx, naClass.SelfAddr(), 0)
		require.NoError(t, err)
		h.forwardCb = func(info *CallbackInfo) {
			order = append(order, name)
		}
		return h
	}

	a := mk("a")
	b := mk("b")
	complete(a, Success)
	complete(b, Success)

	n, err := Trigger(class, ctx, time.Second, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestCompleteIsIdempotent(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	h, err := newHandle(class, ctx, naClass.SelfAddr(), 0)
	require.NoError(t, err)

	fired := 0
	h.forwardCb = func(info *CallbackInfo) { fired++ }

	complete(h, Success)
	complete(h, RetNAError) // late twin completion must be dropped

	n, err := Trigger(class, ctx, time.Second, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fired)
	assert.Equal(t, Success, h.ret)
}

func TestContextDestroyWithPendingCompletions(t *testing.T) {
	network := loopback.NewNetwork()
	naClass, err := network.NewClass("self", false, nil)
	require.NoError(t, err)
	naCtx, err := naClass.NewContext()
	require.NoError(t, err)

	class, err := Init(naClass, naCtx, nil)
	require.NoError(t, err)
	ctx, err := ContextCreate(class)
	require.NoError(t, err)

	h, err := newHandle(class, ctx, naClass.SelfAddr(), 0)
	require.NoError(t, err)
	complete(h, Success)

	err = ContextDestroy(ctx)
	assert.ErrorIs(t, err, ErrInvalidParam)

	// Drain and retry.
	_, err = Trigger(class, ctx, time.Second, 1)
	require.NoError(t, err)
	require.NoError(t, ContextDestroy(ctx))
	require.NoError(t, Finalize(class))
}

func TestVersionGet(t *testing.T) {
	major, minor, patch := VersionGet()
	assert.Equal(t, VersionMajor, major)
	assert.Equal(t, VersionMinor, minor)
	assert.Equal(t, VersionPatch, patch)
}
