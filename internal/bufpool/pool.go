// Package bufpool provides pooled byte slices for ovio's hot paths
// (RTP datagram reads, bridge connection reads). Uses
// size-bucketed sync.Pools with the *[]byte pattern to avoid the extra
// interface allocation a bare []byte would cost sync.Pool.
package bufpool

import "sync"

// Bucket sizes chosen for this module's traffic shapes: RTP datagrams
// top out near the Ethernet MTU, the bridge's JSON connection reads run
// in the low KB range, and the 64KB bucket covers larger scratch
// requests.
const (
	size2k  = 2 * 1024
	size16k = 16 * 1024
	size64k = 64 * 1024
)

var global = struct {
	pool2k  sync.Pool
	pool16k sync.Pool
	pool64k sync.Pool
}{
	pool2k:  sync.Pool{New: func() any { b := make([]byte, size2k); return &b }},
	pool16k: sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool64k: sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
}

// Get returns a slice of exactly size bytes, backed by a pooled
// allocation of at least that size. Requests larger than the biggest
// bucket get a fresh, unpooled allocation. Callers return it with Put.
func Get(size int) []byte {
	switch {
	case size <= size2k:
		return (*global.pool2k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*global.pool16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*global.pool64k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns buf to the pool matching its capacity. Buffers whose
// capacity doesn't match a bucket exactly are dropped for the GC to
// collect rather than forced into a pool they'd poison.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size2k:
		global.pool2k.Put(&buf)
	case size16k:
		global.pool16k.Put(&buf)
	case size64k:
		global.pool64k.Put(&buf)
	}
}
