package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddThenNext(t *testing.T) {
	c := New()
	c.Add([]byte("hello world"))

	chunk, ok := c.Next(5)
	require.True(t, ok)
	assert.Equal(t, "hello", string(chunk))
	assert.Equal(t, 6, c.Available())
}

func TestNextInsufficientDataFails(t *testing.T) {
	c := New()
	c.Add([]byte("ab"))
	_, ok := c.Next(5)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Available(), "cursor must not advance on failure")
}

func TestPreviewDoesNotAdvance(t *testing.T) {
	c := New()
	c.Add([]byte("abcdef"))

	view, ok := c.Preview(3)
	require.True(t, ok)
	assert.Equal(t, "abc", string(view))
	assert.Equal(t, 6, c.Available())

	chunk, ok := c.Next(3)
	require.True(t, ok)
	assert.Equal(t, "abc", string(chunk))
}

func TestInterleavedAddNext(t *testing.T) {
	c := New()
	c.Add([]byte("1234"))
	chunk, ok := c.Next(2)
	require.True(t, ok)
	assert.Equal(t, "12", string(chunk))

	c.Add([]byte("5678"))
	chunk, ok = c.Next(6)
	require.True(t, ok)
	assert.Equal(t, "345678", string(chunk))
}

func TestRemainderDrainsAndResets(t *testing.T) {
	c := New()
	c.Add([]byte("abcdef"))
	c.Next(2)

	rem := c.Remainder()
	assert.Equal(t, "cdef", string(rem))
	assert.Equal(t, 0, c.Available())
}

func TestGrowthAcrossManySmallAdds(t *testing.T) {
	c := New()
	for i := 0; i < 1000; i++ {
		c.Add([]byte("x"))
	}
	assert.Equal(t, 1000, c.Available())

	chunk, ok := c.Next(1000)
	require.True(t, ok)
	assert.Len(t, chunk, 1000)
}
