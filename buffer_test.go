package ovio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferZeroLength(t *testing.T) {
	b := NewBuffer(8)
	assert.Equal(t, 0, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 8)
	assert.False(t, b.IsView())
}

func TestBufferFromStringTrailingNUL(t *testing.T) {
	b := BufferFromString("hi")
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "hi", string(b.Bytes()))
	assert.Equal(t, byte(0), b.data[2])
}

func TestWrapBufferIsView(t *testing.T) {
	raw := []byte("view")
	b := WrapBuffer(raw)
	assert.True(t, b.IsView())
	assert.Equal(t, 0, b.Cap())
	assert.Equal(t, 4, b.Len())
}

func TestBufferSetGrows(t *testing.T) {
	b := NewBuffer(2)
	ok := b.Set([]byte("much longer than two bytes"))
	require.True(t, ok)
	assert.Equal(t, "much longer than two bytes", string(b.Bytes()))
}

func TestBufferSetOnViewFails(t *testing.T) {
	b := WrapBuffer([]byte("view"))
	assert.False(t, b.Set([]byte("x")))
}

func TestBufferPushAppends(t *testing.T) {
	b := NewBuffer(4)
	require.True(t, b.Push([]byte("ab")))
	require.True(t, b.Push([]byte("cd")))
	assert.Equal(t, "abcd", string(b.Bytes()))
}

func TestBufferPushNilFails(t *testing.T) {
	b := NewBuffer(4)
	assert.False(t, b.Push(nil))
}

func TestBufferExtendGrowsCapacityOnly(t *testing.T) {
	b := NewBuffer(4)
	b.Set([]byte("ab"))
	before := b.Len()
	require.True(t, b.Extend(100))
	assert.GreaterOrEqual(t, b.Cap(), 100)
	assert.Equal(t, before, b.Len())
}

func TestBufferShiftPartial(t *testing.T) {
	b := NewBuffer(8)
	b.Set([]byte("hello"))
	require.True(t, b.Shift(2))
	assert.Equal(t, "llo", string(b.Bytes()))
}

func TestBufferShiftFullEqualsClear(t *testing.T) {
	b := NewBuffer(8)
	b.Set([]byte("hello"))
	require.True(t, b.Shift(5))
	assert.Equal(t, 0, b.Len())
}

func TestBufferShiftPastLengthFails(t *testing.T) {
	b := NewBuffer(8)
	b.Set([]byte("hi"))
	assert.False(t, b.Shift(99))
}

func TestBufferConcat(t *testing.T) {
	a := NewBuffer(4)
	a.Set([]byte("foo"))
	other := NewBuffer(4)
	other.Set([]byte("bar"))

	require.True(t, a.Concat(other))
	assert.Equal(t, "foobar", string(a.Bytes()))
	assert.Equal(t, "bar", string(other.Bytes()))
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(4)
	b.Set([]byte("data"))
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 4)
}

func TestBufferFreeViewIsNoop(t *testing.T) {
	b := WrapBuffer([]byte("x"))
	b.Free() // must not panic or touch the cache
}

func TestNilBufferMethodsAreSafe(t *testing.T) {
	var b *Buffer
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Cap())
	assert.Nil(t, b.Bytes())
	b.Clear()
	b.Free()
}
