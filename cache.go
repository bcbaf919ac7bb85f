package ovio

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// CacheStats is a point-in-time view of one named cache's occupancy.
type CacheStats struct {
	Capacity int
	InUse    int
}

// cacheHandle is the registry's type-erased view of a Cache[T]. Go's
// type system stands in for the C registry's "element type checker"
// callback: Extend fails loudly when a name is reused with a different
// T, exactly as a mismatched disposer does in the original.
type cacheHandle interface {
	elemType() reflect.Type
	stats() CacheStats
	disposeAll()
}

// Cache is a named, bounded free-list of homogeneous values. Get/Put
// never block: each takes a single non-blocking test-and-set flag, and
// a contended caller is told to allocate or dispose directly rather
// than wait, matching the registry's "no lock on the hot path"
// contract.
type Cache[T any] struct {
	name     string
	disposer func(T)
	capacity int

	busy      atomic.Bool
	available []T
}

func newCache[T any](name string, capacity int, disposer func(T)) *Cache[T] {
	return &Cache[T]{
		name:      name,
		disposer:  disposer,
		capacity:  capacity,
		available: make([]T, 0, capacity),
	}
}

// Get pops a retained value if one is available. ok is false both when
// the free-list is empty and when the cache is momentarily contended by
// another goroutine — callers must treat both identically (allocate
// fresh) since the registry never blocks.
func (c *Cache[T]) Get() (value T, ok bool) {
	if !c.busy.CompareAndSwap(false, true) {
		return value, false
	}
	defer c.busy.Store(false)

	n := len(c.available)
	if n == 0 {
		return value, false
	}
	value = c.available[n-1]
	c.available = c.available[:n-1]
	return value, true
}

// Put returns v to the free-list. If the cache is full or momentarily
// contended, v is disposed immediately via the cache's disposer (if
// any) instead of being retained — the caller never needs to know
// which happened.
func (c *Cache[T]) Put(v T) {
	if !c.busy.CompareAndSwap(false, true) {
		c.dispose(v)
		return
	}
	if len(c.available) >= c.capacity {
		c.busy.Store(false)
		c.dispose(v)
		return
	}
	c.available = append(c.available, v)
	c.busy.Store(false)
}

func (c *Cache[T]) dispose(v T) {
	if c.disposer != nil {
		c.disposer(v)
	}
}

// Extend grows capacity (never shrinks) by n slots and reports the new
// capacity.
func (c *Cache[T]) Extend(n int) int {
	for !c.busy.CompareAndSwap(false, true) {
		// Extend is a rare, non-hot-path call: spin briefly rather than
		// report a spurious miss to an administrative operation.
	}
	c.capacity += n
	c.busy.Store(false)
	return c.capacity
}

func (c *Cache[T]) elemType() reflect.Type {
	var zero T
	return reflect.TypeOf(zero)
}

func (c *Cache[T]) stats() CacheStats {
	for !c.busy.CompareAndSwap(false, true) {
	}
	s := CacheStats{Capacity: c.capacity, InUse: len(c.available)}
	c.busy.Store(false)
	return s
}

func (c *Cache[T]) disposeAll() {
	for !c.busy.CompareAndSwap(false, true) {
	}
	for _, v := range c.available {
		c.dispose(v)
	}
	c.available = nil
	c.busy.Store(false)
}

// Registry is the process-wide named-cache directory. Its mutex is
// taken only at creation, extension, teardown and reporting — never on
// a Cache's Get/Put hot path.
type Registry struct {
	mu       sync.Mutex
	caches   map[string]cacheHandle
	freeOnce atomic.Bool

	statStripes [16]struct {
		mu   sync.Mutex
		last map[string]CacheStats
	}
}

var defaultRegistry = newRegistry()

func newRegistry() *Registry {
	r := &Registry{caches: make(map[string]cacheHandle)}
	for i := range r.statStripes {
		r.statStripes[i].last = make(map[string]CacheStats)
	}
	return r
}

// DefaultRegistry returns the process-wide registry singleton.
func DefaultRegistry() *Registry { return defaultRegistry }

// ExtendCache creates a cache named name with capacity slots if it
// doesn't exist, or grows an existing same-typed cache's capacity by
// capacity slots (capacity never shrinks). Reusing a name with a
// different T is a fatal error: the registry cannot tell whether the
// caller meant to reset the cache or corrupted a pointer, so it
// refuses rather than guess.
func ExtendCache[T any](r *Registry, name string, capacity int, disposer func(T)) (*Cache[T], error) {
	if r == nil {
		r = defaultRegistry
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	wantType := reflect.TypeOf(zero)

	if existing, ok := r.caches[name]; ok {
		c, ok := existing.(*Cache[T])
		if !ok || existing.elemType() != wantType {
			return nil, NewError("cache.Extend", ErrFatal, "mismatched cache type for name "+name)
		}
		c.Extend(capacity)
		return c, nil
	}

	c := newCache(name, capacity, disposer)
	r.caches[name] = c
	return c, nil
}

// Report returns a snapshot of every named cache's occupancy, and records
// each cache's stats into its xxhash-selected stripe for LastReport to
// serve cheaply afterward.
func (r *Registry) Report() map[string]CacheStats {
	r.mu.Lock()
	handles := make(map[string]cacheHandle, len(r.caches))
	for name, h := range r.caches {
		handles[name] = h
	}
	r.mu.Unlock()

	out := make(map[string]CacheStats, len(handles))
	for name, h := range handles {
		stripe := &r.statStripes[xxhash.Sum64String(name)%16]
		s := h.stats()
		stripe.mu.Lock()
		stripe.last[name] = s
		stripe.mu.Unlock()
		out[name] = s
	}
	return out
}

// LastReport returns the stats name had as of the most recent Report call,
// without re-locking the registry or any individual cache: it reads only
// the one xxhash-selected stripe that name hashes to, so a caller polling a
// single cache's occupancy (e.g. a status line) never contends with a
// concurrent Report walking every cache. Returns false if Report has never
// been called, or never saw this name.
func (r *Registry) LastReport(name string) (CacheStats, bool) {
	stripe := &r.statStripes[xxhash.Sum64String(name)%16]
	stripe.mu.Lock()
	defer stripe.mu.Unlock()
	s, ok := stripe.last[name]
	return s, ok
}

// FreeAll disposes every retained item in every registered cache. It
// must run exactly once per process lifetime; a second call is ignored
// rather than disposing already-freed items twice.
func (r *Registry) FreeAll() {
	if !r.freeOnce.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	handles := make([]cacheHandle, 0, len(r.caches))
	for _, h := range r.caches {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.disposeAll()
	}
}

// --- process-wide Buffer cache, backing Buffer.Free/getCachedBuffer ---

const bufferCacheName = "ovio.buffer"
const bufferCacheCapacity = 256

var bufferCache = mustExtendBufferCache()

func mustExtendBufferCache() *Cache[*Buffer] {
	c, err := ExtendCache[*Buffer](defaultRegistry, bufferCacheName, bufferCacheCapacity, func(*Buffer) {})
	if err != nil {
		panic(err)
	}
	return c
}

func putCachedBuffer(b *Buffer) {
	b.Clear()
	bufferCache.Put(b)
}

// getCachedBuffer returns a recycled buffer with at least minCapacity
// bytes of backing storage, or nil on a cache miss (caller should
// allocate a fresh one with NewBuffer).
func getCachedBuffer(minCapacity int) *Buffer {
	b, ok := bufferCache.Get()
	if !ok {
		return nil
	}
	if !b.growTo(minCapacity) {
		return nil
	}
	return b
}
