package ovio

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Metrics tracks process-wide operational counters across ovio's
// components. All fields are safe for concurrent use; the reactor
// goroutine and any caller goroutine may update them without locking.
type Metrics struct {
	// Cache registry (C2)
	CacheHits   atomic.Uint64
	CacheMisses atomic.Uint64
	CacheExtend atomic.Uint64

	// Ring buffer (C3)
	RingDropped atomic.Uint64
	RingInsert  atomic.Uint64

	// Chunker (C4)
	ChunkerBytesIn  atomic.Uint64
	ChunkerBytesOut atomic.Uint64
	ChunkerGrowths  atomic.Uint64

	// Reactor (C5)
	PollCycles    atomic.Uint64
	TimerFires    atomic.Uint64
	FDCallbacks   atomic.Uint64

	// Streaming JSON parser (C6)
	ParserSuccess  atomic.Uint64
	ParserMismatch atomic.Uint64
	ParserError    atomic.Uint64

	// RTP jitter buffer (C7)
	RTPFramesIn  atomic.Uint64
	RTPFramesOut atomic.Uint64
	RTPDropped   atomic.Uint64

	// Session bridge (C8)
	BridgeAcquire atomic.Uint64
	BridgeRelease atomic.Uint64
	BridgeTimeout atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics returns a zeroed Metrics with its start time stamped now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop marks the metrics instance as stopped; Snapshot's uptime figure
// freezes at this point.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

func (m *Metrics) uptime() time.Duration {
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		return time.Duration(stop - start)
	}
	return time.Duration(time.Now().UnixNano() - start)
}

// Snapshot is a point-in-time copy of Metrics' counters plus a
// human-readable summary.
type Snapshot struct {
	CacheHits, CacheMisses, CacheExtend     uint64
	RingDropped, RingInsert                uint64
	ChunkerBytesIn, ChunkerBytesOut         uint64
	ChunkerGrowths                          uint64
	PollCycles, TimerFires, FDCallbacks     uint64
	ParserSuccess, ParserMismatch, ParserError uint64
	RTPFramesIn, RTPFramesOut, RTPDropped   uint64
	BridgeAcquire, BridgeRelease, BridgeTimeout uint64
	Uptime time.Duration
}

// Snapshot captures a consistent-enough (not transactional) read of
// every counter.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CacheHits:      m.CacheHits.Load(),
		CacheMisses:    m.CacheMisses.Load(),
		CacheExtend:    m.CacheExtend.Load(),
		RingDropped:    m.RingDropped.Load(),
		RingInsert:     m.RingInsert.Load(),
		ChunkerBytesIn: m.ChunkerBytesIn.Load(),
		ChunkerBytesOut: m.ChunkerBytesOut.Load(),
		ChunkerGrowths: m.ChunkerGrowths.Load(),
		PollCycles:     m.PollCycles.Load(),
		TimerFires:     m.TimerFires.Load(),
		FDCallbacks:    m.FDCallbacks.Load(),
		ParserSuccess:  m.ParserSuccess.Load(),
		ParserMismatch: m.ParserMismatch.Load(),
		ParserError:    m.ParserError.Load(),
		RTPFramesIn:    m.RTPFramesIn.Load(),
		RTPFramesOut:   m.RTPFramesOut.Load(),
		RTPDropped:     m.RTPDropped.Load(),
		BridgeAcquire:  m.BridgeAcquire.Load(),
		BridgeRelease:  m.BridgeRelease.Load(),
		BridgeTimeout:  m.BridgeTimeout.Load(),
		Uptime:         m.uptime(),
	}
}

// String renders a short human-readable summary, e.g. for a status log
// line.
func (s Snapshot) String() string {
	return humanize.Comma(int64(s.ChunkerBytesIn)) + " B chunked, " +
		humanize.Comma(int64(s.RTPFramesIn)) + " RTP frames, uptime " +
		s.Uptime.Round(time.Second).String()
}

// Reset zeroes every counter and re-stamps the start time. Intended for
// tests.
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer is the pluggable metrics-collection seam used by every
// component so production code never calls into *Metrics directly.
type Observer interface {
	ObserveCache(hit bool)
	ObserveCacheExtend()
	ObserveRingInsert(dropped bool)
	ObserveChunker(bytesIn, bytesOut int, grew bool)
	ObservePollCycle()
	ObserveTimerFire()
	ObserveFDCallback()
	ObserveParser(state string)
	ObserveRTP(in, out, dropped int)
	ObserveBridge(acquire, release, timeout int)
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCache(bool)                   {}
func (NoOpObserver) ObserveCacheExtend()                 {}
func (NoOpObserver) ObserveRingInsert(bool)               {}
func (NoOpObserver) ObserveChunker(int, int, bool)       {}
func (NoOpObserver) ObservePollCycle()                   {}
func (NoOpObserver) ObserveTimerFire()                   {}
func (NoOpObserver) ObserveFDCallback()                  {}
func (NoOpObserver) ObserveParser(string)                {}
func (NoOpObserver) ObserveRTP(int, int, int)            {}
func (NoOpObserver) ObserveBridge(int, int, int)         {}

// MetricsObserver forwards observations into a *Metrics.
type MetricsObserver struct {
	m *Metrics
}

// NewMetricsObserver wraps m as an Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) ObserveCache(hit bool) {
	if hit {
		o.m.CacheHits.Add(1)
	} else {
		o.m.CacheMisses.Add(1)
	}
}

func (o *MetricsObserver) ObserveCacheExtend() {
	o.m.CacheExtend.Add(1)
}

func (o *MetricsObserver) ObserveRingInsert(dropped bool) {
	o.m.RingInsert.Add(1)
	if dropped {
		o.m.RingDropped.Add(1)
	}
}

func (o *MetricsObserver) ObserveChunker(bytesIn, bytesOut int, grew bool) {
	o.m.ChunkerBytesIn.Add(uint64(bytesIn))
	o.m.ChunkerBytesOut.Add(uint64(bytesOut))
	if grew {
		o.m.ChunkerGrowths.Add(1)
	}
}

func (o *MetricsObserver) ObservePollCycle() { o.m.PollCycles.Add(1) }
func (o *MetricsObserver) ObserveTimerFire() { o.m.TimerFires.Add(1) }
func (o *MetricsObserver) ObserveFDCallback() { o.m.FDCallbacks.Add(1) }

func (o *MetricsObserver) ObserveParser(state string) {
	switch state {
	case "SUCCESS":
		o.m.ParserSuccess.Add(1)
	case "MISMATCH":
		o.m.ParserMismatch.Add(1)
	case "ERROR":
		o.m.ParserError.Add(1)
	}
}

func (o *MetricsObserver) ObserveRTP(in, out, dropped int) {
	o.m.RTPFramesIn.Add(uint64(in))
	o.m.RTPFramesOut.Add(uint64(out))
	o.m.RTPDropped.Add(uint64(dropped))
}

func (o *MetricsObserver) ObserveBridge(acquire, release, timeout int) {
	o.m.BridgeAcquire.Add(uint64(acquire))
	o.m.BridgeRelease.Add(uint64(release))
	o.m.BridgeTimeout.Add(uint64(timeout))
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
