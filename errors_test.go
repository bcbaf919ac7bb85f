package ovio

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	err := NewError("cache.Extend", ErrInvalidArgument, "mismatched disposer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=cache.Extend")
	assert.Contains(t, err.Error(), "mismatched disposer")
}

func TestErrorIsByKind(t *testing.T) {
	a := NewError("a", ErrTimeout, "t1")
	b := NewError("b", ErrTimeout, "t2")
	c := NewError("c", ErrFatal, "t3")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWrapErrorPreservesStructuredKind(t *testing.T) {
	inner := NewError("ring.Insert", ErrResourceExhausted, "full")
	wrapped := WrapError("chunker.Add", inner)
	require.NotNil(t, wrapped)
	assert.Equal(t, "chunker.Add", wrapped.Op)
	assert.Equal(t, ErrResourceExhausted, wrapped.Kind)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	wrapped := WrapError("reactor.Poll", syscall.EAGAIN)
	require.NotNil(t, wrapped)
	assert.Equal(t, ErrTimeout, wrapped.Kind)
	assert.Equal(t, syscall.EAGAIN, wrapped.Errno)
}

func TestWrapErrorNilIsNil(t *testing.T) {
	assert.Nil(t, WrapError("op", nil))
}

func TestIsKind(t *testing.T) {
	err := NewError("bridge.Acquire", ErrTimeout, "pending request expired")
	assert.True(t, IsKind(err, ErrTimeout))
	assert.False(t, IsKind(err, ErrFatal))
	assert.False(t, IsKind(errors.New("plain"), ErrTimeout))
}
