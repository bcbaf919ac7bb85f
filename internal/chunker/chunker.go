// Package chunker reassembles an arbitrary-length byte stream into
// fixed-size chunks pulled on demand by a consumer.
package chunker

import (
	"github.com/sagernet/sing/common/buf"

	ovio "github.com/openvocs/ovio"
)

// Chunker accumulates bytes pushed by Add and lets a consumer pull
// fixed-size chunks via Next, peek ahead via Preview, and drain
// whatever is left with Remainder.
type Chunker struct {
	storage *ovio.Buffer
	cursor  int

	Grown uint64 // number of times Add had to grow storage
}

// New returns an empty chunker with a small initial staging capacity.
func New() *Chunker {
	return &Chunker{storage: ovio.NewBuffer(256)}
}

// Available reports how many unconsumed bytes are currently buffered.
func (c *Chunker) Available() int {
	return c.storage.Len() - c.cursor
}

// Add appends data to the chunker's storage. When the unconsumed tail
// plus the new data would overflow the current backing buffer, storage
// is reallocated at available+3*len(data) — the amortization factor
// that keeps repeated small Adds from re-copying the whole backlog on
// every call — and the unconsumed tail is carried forward via sing's
// pooled-buffer copy helper instead of a bare copy(), so the staging
// allocation used during the carry-forward is returned to sing's pool
// rather than left for the GC.
func (c *Chunker) Add(data []byte) {
	if len(data) == 0 {
		return
	}

	tail := c.storage.Bytes()[c.cursor:]
	needed := len(tail) + len(data)

	if needed > c.storage.Cap() {
		grown := len(tail) + 3*len(data)
		staging := buf.NewSize(len(tail))
		defer staging.Release()
		staging.Write(tail)

		fresh := ovio.NewBuffer(grown)
		fresh.Push(staging.Bytes())
		fresh.Push(data)

		c.storage.Free()
		c.storage = fresh
		c.cursor = 0
		c.Grown++
		return
	}

	// Fits in place: compact the consumed prefix out, then append.
	if c.cursor > 0 {
		c.storage.Shift(c.cursor)
		c.cursor = 0
	}
	c.storage.Push(data)
}

// Preview returns the next n unconsumed bytes without advancing the
// cursor. ok is false if fewer than n bytes are available.
func (c *Chunker) Preview(n int) (data []byte, ok bool) {
	if n < 0 || c.Available() < n {
		return nil, false
	}
	return c.storage.Bytes()[c.cursor : c.cursor+n], true
}

// Next consumes and returns exactly n bytes, advancing the cursor. ok
// is false (and the cursor untouched) if fewer than n bytes are
// available.
func (c *Chunker) Next(n int) (chunk []byte, ok bool) {
	view, ok := c.Preview(n)
	if !ok {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, view)
	c.cursor += n
	return out, true
}

// Remainder returns every unconsumed byte and resets the chunker to
// empty.
func (c *Chunker) Remainder() []byte {
	out := make([]byte, c.Available())
	copy(out, c.storage.Bytes()[c.cursor:])
	c.storage.Clear()
	c.cursor = 0
	return out
}

// Close releases the chunker's backing storage to the buffer cache.
func (c *Chunker) Close() {
	c.storage.Free()
	c.storage = nil
}
