package reactor

import "time"

type timerEntry struct {
	id       uint64
	deadline time.Time
	seq      uint64 // registration order, used as the deadline tie-break
	callback func()
	index    int // heap.Interface bookkeeping
}

// timerHeap orders entries by deadline, then by registration order —
// matching the reactor's guarantee that same-instant timers fire in
// the order they were scheduled.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
