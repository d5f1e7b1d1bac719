package hg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/hermes/internal/protocol/header"
)

func TestCreateValidatesArguments(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	_, err := Create(nil, ctx, naClass.SelfAddr(), 1)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = Create(class, nil, naClass.SelfAddr(), 1)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = Create(class, ctx, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestHandleBuffersReserveHeaderPrefix(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	h, err := Create(class, ctx, naClass.SelfAddr(), 1)
	require.NoError(t, err)
	defer h.Destroy()

	in, err := h.InputBuf()
	require.NoError(t, err)
	assert.Len(t, in, class.maxExpected-header.RequestSize)

	out, err := h.OutputBuf()
	require.NoError(t, err)
	assert.Len(t, out, class.maxExpected-header.ResponseSize)
}

func TestHandleRefcount(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	h, err := Create(class, ctx, naClass.SelfAddr(), 1)
	require.NoError(t, err)

	h.Ref()
	h.Destroy()
	assert.NotNil(t, h.in, "buffers must survive while a reference remains")

	h.Destroy()
	assert.Nil(t, h.in)
	assert.Nil(t, h.out)
}

func TestDestroyNilIsNoop(t *testing.T) {
	var h *Handle
	h.Destroy()
}

func TestGetInfo(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	h, err := Create(class, ctx, naClass.SelfAddr(), 77)
	require.NoError(t, err)
	defer h.Destroy()

	info, err := h.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, class, info.Class)
	assert.Equal(t, ctx, info.Context)
	assert.Equal(t, uint32(77), info.ID)
	assert.NotZero(t, info.Cookie)

	assert.Equal(t, naClass.SelfAddr().String(), h.Addr().String())
}

func TestCookiesAreUniquePerCall(t *testing.T) {
	class, ctx, naClass := newLoopbackClass(t, false)

	a, err := Create(class, ctx, naClass.SelfAddr(), 1)
	require.NoError(t, err)
	defer a.Destroy()
	b, err := Create(class, ctx, naClass.SelfAddr(), 1)
	require.NoError(t, err)
	defer b.Destroy()

	assert.NotEqual(t, a.cookie, b.cookie)
}

func TestHandleStateString(t *testing.T) {
	assert.Equal(t, "created", stateCreated.String())
	assert.Equal(t, "completed", stateCompleted.String())
}
