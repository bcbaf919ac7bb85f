// Package reactor implements a single-threaded, cooperative I/O and
// timer multiplexer built on poll(2). Exactly one goroutine — the one
// executing Run — ever invokes a registered callback; every other
// goroutine may only call the registration methods, which hand off to
// the reactor goroutine via a self-pipe wakeup.
package reactor

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	ovio "github.com/openvocs/ovio"
	"github.com/openvocs/ovio/internal/logging"
)

// Event is the poll readiness mask a registered fd callback receives.
type Event int16

const (
	EventReadable Event = unix.POLLIN
	EventWritable Event = unix.POLLOUT
	EventError    Event = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL
)

// FDCallback is invoked on the reactor goroutine when fd becomes ready
// for any of the events it was registered for.
type FDCallback func(fd int, revents Event)

// TimerCallback is invoked on the reactor goroutine when a timer fires.
type TimerCallback func()

type fdEntry struct {
	fd     int
	events Event
	cb     FDCallback
}

// Config bounds a Reactor's resource usage, matching the wire-level
// config in SPEC_FULL.md §6.3.
type Config struct {
	MaxSockets int
	MaxTimers  int
	Logger     *logging.Logger
	Observer   ovio.Observer
}

// DefaultConfig returns the default capacities, with MaxSockets clamped
// against the process's open file descriptor limit. New fills zero
// fields from it and clamps both limits the same way.
func DefaultConfig() Config {
	cfg := Config{MaxSockets: 1024, MaxTimers: 256}
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err == nil {
		if int(rlimit.Cur) > 0 && cfg.MaxSockets > int(rlimit.Cur) {
			cfg.MaxSockets = int(rlimit.Cur)
		}
	}
	return cfg
}

// Reactor is a single-threaded poll(2)-based multiplexer. Registration
// methods (RegisterFD, UnregisterFD, SetTimer, CancelTimer) are safe to
// call from any goroutine; the callbacks themselves run only on the
// goroutine executing Run.
type Reactor struct {
	cfg      Config
	logger   *logging.Logger
	observer ovio.Observer

	mu      sync.Mutex
	fds     map[int]*fdEntry
	timers  timerHeap
	posted  []func()
	nextID  uint64
	nextSeq uint64

	wakeupR int
	wakeupW int

	running atomic.Bool
	stop    atomic.Bool
}

// New constructs a Reactor and opens its self-pipe wakeup channel.
func New(cfg Config) (*Reactor, error) {
	defaults := DefaultConfig()
	if cfg.MaxSockets <= 0 {
		cfg.MaxSockets = defaults.MaxSockets
	}
	if cfg.MaxTimers <= 0 {
		cfg.MaxTimers = defaults.MaxTimers
	}
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err == nil && int(rlimit.Cur) > 0 {
		if cfg.MaxSockets > int(rlimit.Cur) {
			cfg.MaxSockets = int(rlimit.Cur)
		}
		if cfg.MaxTimers > int(rlimit.Cur) {
			cfg.MaxTimers = int(rlimit.Cur)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("reactor")
	observer := cfg.Observer
	if observer == nil {
		observer = ovio.NoOpObserver{}
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, ovio.WrapError("reactor.New", err)
	}

	r := &Reactor{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		fds:      make(map[int]*fdEntry),
		wakeupR:  fds[0],
		wakeupW:  fds[1],
	}
	heap.Init(&r.timers)
	return r, nil
}

func (r *Reactor) wake() {
	var b [1]byte
	unix.Write(r.wakeupW, b[:])
}

// RegisterFD arms fd for the given events; cb fires on the reactor
// goroutine whenever one of them is observed. Registering an
// already-registered fd replaces its callback and event mask.
func (r *Reactor) RegisterFD(fd int, events Event, cb FDCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fds[fd]; !exists && len(r.fds) >= r.cfg.MaxSockets {
		return ovio.NewError("reactor.RegisterFD", ovio.ErrResourceExhausted, "max sockets reached")
	}
	r.fds[fd] = &fdEntry{fd: fd, events: events, cb: cb}
	r.wake()
	return nil
}

// UnregisterFD removes fd's readiness callback. It is safe to call this
// from within the callback itself.
func (r *Reactor) UnregisterFD(fd int) {
	r.mu.Lock()
	delete(r.fds, fd)
	r.mu.Unlock()
	r.wake()
}

// SetTimer schedules cb to fire once, after d has elapsed. It returns a
// handle usable with CancelTimer.
func (r *Reactor) SetTimer(d time.Duration, cb TimerCallback) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) >= r.cfg.MaxTimers {
		return 0, ovio.NewError("reactor.SetTimer", ovio.ErrResourceExhausted, "max timers reached")
	}
	r.nextID++
	r.nextSeq++
	id := r.nextID
	heap.Push(&r.timers, &timerEntry{
		id:       id,
		deadline: time.Now().Add(d),
		seq:      r.nextSeq,
		callback: cb,
	})
	r.wake()
	return id, nil
}

// CancelTimer removes a pending timer. Cancelling an already-fired or
// unknown id is a no-op.
func (r *Reactor) CancelTimer(id uint64) {
	r.mu.Lock()
	for i, e := range r.timers {
		if e.id == id {
			heap.Remove(&r.timers, i)
			break
		}
	}
	r.mu.Unlock()
	r.wake()
}

// Post schedules fn to run on the reactor's own goroutine at the start of
// its next cycle, waking a blocked poll if necessary. It is the only way
// a background goroutine (e.g. an asynchronous Mixer completion) may
// safely touch state that's otherwise owned exclusively by the reactor
// goroutine, such as a bridge's connection and pending-request tables.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	r.posted = append(r.posted, fn)
	r.mu.Unlock()
	r.wake()
}

// Stop requests that Run return after completing its current cycle.
func (r *Reactor) Stop() {
	r.stop.Store(true)
	r.wake()
}

// Close releases the self-pipe file descriptors. Call after Run
// returns.
func (r *Reactor) Close() {
	unix.Close(r.wakeupR)
	unix.Close(r.wakeupW)
}

// nextDeadline returns the nearest timer deadline, or zero time if none
// are pending.
func (r *Reactor) nextDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return time.Time{}, false
	}
	return r.timers[0].deadline, true
}

// RunOnce executes exactly one poll cycle, waiting at most maxWait for
// readiness (less, if a timer is due sooner). It fires every expired
// timer in deadline order, then every ready fd callback in ascending fd
// order — at most one callback per fd even if multiple events are set.
func (r *Reactor) RunOnce(maxWait time.Duration) error {
	timeoutMs := int(maxWait / time.Millisecond)
	if deadline, ok := r.nextDeadline(); ok {
		until := time.Until(deadline)
		if until < 0 {
			until = 0
		}
		if untilMs := int(until / time.Millisecond); untilMs < timeoutMs {
			timeoutMs = untilMs
		}
	}

	r.mu.Lock()
	pollfds := make([]unix.PollFd, 0, len(r.fds)+1)
	pollfds = append(pollfds, unix.PollFd{Fd: int32(r.wakeupR), Events: unix.POLLIN})
	fdList := make([]int, 0, len(r.fds))
	for fd := range r.fds {
		fdList = append(fdList, fd)
	}
	r.mu.Unlock()
	// Sort ascending so callback firing order is deterministic.
	for i := 1; i < len(fdList); i++ {
		for j := i; j > 0 && fdList[j-1] > fdList[j]; j-- {
			fdList[j-1], fdList[j] = fdList[j], fdList[j-1]
		}
	}
	for _, fd := range fdList {
		r.mu.Lock()
		entry := r.fds[fd]
		r.mu.Unlock()
		if entry == nil {
			continue
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: int16(entry.events)})
	}

	_, err := unix.Poll(pollfds, timeoutMs)
	if err != nil && err != unix.EINTR {
		return ovio.WrapError("reactor.Poll", err)
	}
	r.observer.ObservePollCycle()

	if pollfds[0].Revents&unix.POLLIN != 0 {
		var scratch [64]byte
		for {
			n, _ := unix.Read(r.wakeupR, scratch[:])
			if n <= 0 {
				break
			}
		}
	}

	r.firePosted()
	r.fireTimers()
	r.fireFDs(pollfds[1:])
	return nil
}

// firePosted runs every pending Post callback, taking a snapshot of the
// queue up front so a callback posting further work is handled next
// cycle rather than looping forever in this one.
func (r *Reactor) firePosted() {
	r.mu.Lock()
	fns := r.posted
	r.posted = nil
	r.mu.Unlock()
	for _, fn := range fns {
		r.invoke(fn)
	}
}

func (r *Reactor) fireTimers() {
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.timers) == 0 || r.timers[0].deadline.After(now) {
			r.mu.Unlock()
			return
		}
		e := heap.Pop(&r.timers).(*timerEntry)
		r.mu.Unlock()

		r.observer.ObserveTimerFire()
		r.invoke(e.callback)
	}
}

func (r *Reactor) fireFDs(pollfds []unix.PollFd) {
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		r.mu.Lock()
		entry := r.fds[int(pfd.Fd)]
		r.mu.Unlock()
		if entry == nil {
			continue
		}
		r.observer.ObserveFDCallback()
		revents := Event(pfd.Revents)
		cb := entry.cb
		fd := entry.fd
		r.invoke(func() { cb(fd, revents) })
	}
}

// invoke runs cb, recovering and logging any panic so one misbehaving
// callback never takes down the whole loop.
func (r *Reactor) invoke(cb func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithErrorKind(ovio.ErrFatal).Errorf("reactor: callback panicked: %v", rec)
		}
	}()
	cb()
}

// RunForever, passed to Run, means run until Stop is called with no
// overall deadline. Passing 0 performs exactly one poll cycle and
// returns; any other positive duration runs until that much time has
// elapsed or Stop is called, whichever comes first.
const RunForever time.Duration = -1

// pollInterval bounds how long a single underlying poll(2) call inside Run
// may block, so an overall deadline is noticed promptly even when no fd or
// timer activity occurs in the meantime. It is independent of maxWait,
// which bounds the whole Run call, not one poll cycle.
const pollInterval = 100 * time.Millisecond

// Run drives the loop until maxWait elapses, Stop is called, or — when
// maxWait is RunForever — only Stop is called. Passing 0 performs exactly
// one poll cycle then returns, matching RunOnce's contract but through the
// Run entry point.
func (r *Reactor) Run(maxWait time.Duration) error {
	r.running.Store(true)
	defer r.running.Store(false)

	if maxWait == 0 {
		return r.RunOnce(pollInterval)
	}

	hasDeadline := maxWait != RunForever && maxWait > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(maxWait)
	}

	for !r.stop.Load() {
		wait := pollInterval
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			if remaining < wait {
				wait = remaining
			}
		}
		if err := r.RunOnce(wait); err != nil {
			return err
		}
	}
	return nil
}

// Running reports whether Run is currently executing.
func (r *Reactor) Running() bool {
	return r.running.Load()
}

// AcceptHelper validates that fd is a stream socket, arms it
// non-blocking, and registers it for read readiness under cb. It is the
// canonical way to hand a freshly-accepted connection to the reactor.
func (r *Reactor) AcceptHelper(fd int, cb FDCallback) error {
	soType, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return ovio.WrapError("reactor.AcceptHelper", err)
	}
	if soType != unix.SOCK_STREAM {
		return ovio.NewError("reactor.AcceptHelper", ovio.ErrInvalidArgument, "fd is not a stream socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return ovio.WrapError("reactor.AcceptHelper", err)
	}
	return r.RegisterFD(fd, EventReadable, cb)
}
