package rtp

import (
	"sort"
	"sync"

	ovio "github.com/openvocs/ovio"
	"github.com/openvocs/ovio/internal/ring"
)

// DefaultDepth is the per-SSRC ring depth used when no explicit depth
// is configured. It tolerates one late frame plus one duplicate without
// starving TakeCurrent.
const DefaultDepth = 3

// JitterBuffer smooths bursts and mild reordering of an incoming RTP
// stream, keeping one fixed-depth ring per SSRC.
type JitterBuffer struct {
	mu       sync.Mutex
	depth    int
	rings    map[uint32]*ring.Buffer[*Frame]
	observer ovio.Observer
}

// NewJitterBuffer returns a buffer that lazily creates a ring of depth
// for each newly-seen SSRC. depth <= 0 falls back to DefaultDepth.
func NewJitterBuffer(depth int, observer ovio.Observer) *JitterBuffer {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if observer == nil {
		observer = ovio.NoOpObserver{}
	}
	return &JitterBuffer{
		depth:    depth,
		rings:    make(map[uint32]*ring.Buffer[*Frame]),
		observer: observer,
	}
}

// Add classifies frame by SSRC and inserts it into that SSRC's ring,
// lazily creating the ring on first sight. When the ring is full the
// oldest frame is dropped to admit the new one.
func (j *JitterBuffer) Add(frame *Frame) {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, ok := j.rings[frame.SSRC]
	if !ok {
		r = ring.New[*Frame](j.depth, func(*Frame) {})
		j.rings[frame.SSRC] = r
	}

	before := r.Dropped
	r.Insert(frame)
	j.observer.ObserveRTP(1, 0, boolToInt(r.Dropped != before))
}

// TakeCurrent pops the oldest frame off every non-empty ring and
// returns them sorted by SSRC for call-to-call stability. Never
// returns nil.
func (j *JitterBuffer) TakeCurrent() []*Frame {
	j.mu.Lock()
	defer j.mu.Unlock()

	ssrcs := make([]uint32, 0, len(j.rings))
	for ssrc := range j.rings {
		ssrcs = append(ssrcs, ssrc)
	}
	sort.Slice(ssrcs, func(i, k int) bool { return ssrcs[i] < ssrcs[k] })

	out := make([]*Frame, 0, len(ssrcs))
	for _, ssrc := range ssrcs {
		if f, ok := j.rings[ssrc].Pop(); ok {
			out = append(out, f)
			j.observer.ObserveRTP(0, 1, 0)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
