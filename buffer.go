package ovio

import (
	"math"
)

// Buffer is an owned, resizable octet sequence with explicit length and
// capacity tracked separately from Go's own slice header, so a
// zero-capacity *view* (created by Wrap) is distinguishable from an
// owned allocation that merely happens to be empty.
type Buffer struct {
	data     []byte
	length   int
	capacity int // 0 means non-owning view
}

// NewBuffer allocates an owned buffer with at least minCapacity bytes
// of backing storage and zero length.
func NewBuffer(minCapacity int) *Buffer {
	if minCapacity < 0 {
		return nil
	}
	if minCapacity == 0 {
		minCapacity = 1
	}
	return &Buffer{
		data:     make([]byte, minCapacity),
		length:   0,
		capacity: minCapacity,
	}
}

// BufferFromString allocates an owned buffer holding s, with a
// terminating NUL written one byte past length (length itself excludes
// it, matching callers that hand the data to a NUL-terminated API
// while Go code keeps using length).
func BufferFromString(s string) *Buffer {
	b := NewBuffer(len(s) + 1)
	copy(b.data, s)
	b.length = len(s)
	b.data[len(s)] = 0
	return b
}

// WrapBuffer returns a non-owning view over data: capacity is reported
// as 0 so Free treats it as a view rather than returning it to the
// cache.
func WrapBuffer(data []byte) *Buffer {
	if data == nil {
		return nil
	}
	return &Buffer{data: data, length: len(data), capacity: 0}
}

// Bytes returns the buffer's content as a slice aliasing its backing
// storage. Callers must not retain it past the next mutation.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data[:b.length]
}

// Len reports the current content length.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.length
}

// Cap reports the owned capacity, or 0 for a view.
func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// IsView reports whether b is a non-owning view.
func (b *Buffer) IsView() bool {
	return b != nil && b.capacity == 0
}

func wouldOverflow(base, add int) bool {
	return add > math.MaxInt-base
}

func (b *Buffer) growTo(need int) bool {
	if need <= len(b.data) {
		return true
	}
	if wouldOverflow(need, 0) {
		return false
	}
	newData := make([]byte, need)
	copy(newData, b.data[:b.length])
	b.data = newData
	b.capacity = need
	return true
}

// Set replaces the buffer's content with data, growing capacity if
// required. Returns false (and leaves b unmodified) on a nil receiver,
// nil data, or a size that would overflow.
func (b *Buffer) Set(data []byte) bool {
	if b == nil || data == nil || b.IsView() {
		return false
	}
	if !b.growTo(len(data)) {
		return false
	}
	copy(b.data, data)
	b.length = len(data)
	return true
}

// Push appends data to the buffer's content, growing capacity with
// amortized 2x headroom when an in-place append won't fit.
func (b *Buffer) Push(data []byte) bool {
	if b == nil || data == nil || b.IsView() {
		return false
	}
	need := b.length + len(data)
	if wouldOverflow(b.length, len(data)) {
		return false
	}
	if need > len(b.data) {
		grown := need * 2
		if grown < need { // overflow of the amortization multiply
			grown = need
		}
		if !b.growTo(grown) {
			return false
		}
	}
	copy(b.data[b.length:need], data)
	b.length = need
	return true
}

// Extend grows capacity (not length) by at least n bytes without
// touching existing content.
func (b *Buffer) Extend(n int) bool {
	if b == nil || n < 0 || b.IsView() {
		return false
	}
	if wouldOverflow(b.capacity, n) {
		return false
	}
	return b.growTo(b.capacity + n)
}

// Shift removes the first n octets of content, moving the remainder to
// the front. n == length is equivalent to Clear. Returns false for a
// nil receiver, negative n, or n > length.
func (b *Buffer) Shift(n int) bool {
	if b == nil || n < 0 || n > b.length {
		return false
	}
	if n == b.length {
		b.length = 0
		return true
	}
	if n == 0 {
		return true
	}
	copy(b.data, b.data[n:b.length])
	b.length -= n
	return true
}

// Concat appends the content of other to b, leaving other unchanged.
func (b *Buffer) Concat(other *Buffer) bool {
	if b == nil || other == nil {
		return false
	}
	return b.Push(other.Bytes())
}

// Clear resets length to zero without releasing backing storage.
func (b *Buffer) Clear() {
	if b == nil {
		return
	}
	b.length = 0
}

// Free releases b. Owned buffers (capacity > 0) are returned to the
// process-wide buffer cache for reuse; views are simply discarded since
// they never owned storage.
func (b *Buffer) Free() {
	if b == nil || b.IsView() {
		return
	}
	putCachedBuffer(b)
}
