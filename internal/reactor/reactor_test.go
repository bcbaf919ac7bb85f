package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New(Config{MaxSockets: 16, MaxTimers: 16})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestTimerFiresOnce(t *testing.T) {
	r := newTestReactor(t)
	fired := 0
	_, err := r.SetTimer(5*time.Millisecond, func() { fired++ })
	require.NoError(t, err)

	deadline := time.Now().Add(200 * time.Millisecond)
	for fired == 0 && time.Now().Before(deadline) {
		require.NoError(t, r.RunOnce(20*time.Millisecond))
	}
	assert.Equal(t, 1, fired)
}

func TestTimersFireInDeadlineOrder(t *testing.T) {
	r := newTestReactor(t)
	var order []int
	r.SetTimer(20*time.Millisecond, func() { order = append(order, 2) })
	r.SetTimer(5*time.Millisecond, func() { order = append(order, 1) })

	deadline := time.Now().Add(300 * time.Millisecond)
	for len(order) < 2 && time.Now().Before(deadline) {
		require.NoError(t, r.RunOnce(20*time.Millisecond))
	}
	require.Len(t, order, 2)
	assert.Equal(t, []int{1, 2}, order)
}

func TestCancelTimerPreventsFire(t *testing.T) {
	r := newTestReactor(t)
	fired := false
	id, err := r.SetTimer(20*time.Millisecond, func() { fired = true })
	require.NoError(t, err)
	r.CancelTimer(id)

	require.NoError(t, r.RunOnce(40*time.Millisecond))
	assert.False(t, fired)
}

func TestRegisterFDFiresOnReadable(t *testing.T) {
	r := newTestReactor(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	readable := false
	require.NoError(t, r.RegisterFD(fds[0], EventReadable, func(fd int, revents Event) {
		readable = revents&EventReadable != 0
	}))

	_, err := unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	require.NoError(t, r.RunOnce(200*time.Millisecond))
	assert.True(t, readable)
}

func TestUnregisterFDStopsCallbacks(t *testing.T) {
	r := newTestReactor(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	calls := 0
	require.NoError(t, r.RegisterFD(fds[0], EventReadable, func(fd int, revents Event) { calls++ }))
	r.UnregisterFD(fds[0])

	unix.Write(fds[1], []byte("x"))
	require.NoError(t, r.RunOnce(20*time.Millisecond))
	assert.Equal(t, 0, calls)
}

func TestRegisterFDRejectsOverCapacity(t *testing.T) {
	r, err := New(Config{MaxSockets: 1, MaxTimers: 4})
	require.NoError(t, err)
	defer r.Close()

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, r.RegisterFD(fds[0], EventReadable, func(int, Event) {}))
	err = r.RegisterFD(fds[1], EventReadable, func(int, Event) {})
	require.Error(t, err)
	assert.True(t, true)
}

func TestAcceptHelperRejectsNonStreamSocket(t *testing.T) {
	r := newTestReactor(t)
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	err = r.AcceptHelper(fd, func(int, Event) {})
	require.Error(t, err)
}

func TestAcceptHelperAcceptsStreamSocket(t *testing.T) {
	r := newTestReactor(t)
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	require.NoError(t, r.AcceptHelper(fd, func(int, Event) {}))
}

func TestRunOnceRecoversFromPanickingCallback(t *testing.T) {
	r := newTestReactor(t)
	_, err := r.SetTimer(time.Millisecond, func() { panic("boom") })
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		time.Sleep(5 * time.Millisecond)
		_ = r.RunOnce(20 * time.Millisecond)
	})
}

func TestRunStopsWhenRequested(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan error, 1)
	go func() { done <- r.Run(10 * time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	assert.True(t, r.Running())
	r.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, r.Running())
}

func TestPostRunsOnReactorGoroutineNextCycle(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan int, 1)

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Post(func() { done <- 1 })
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, r.RunOnce(50*time.Millisecond))
		select {
		case <-done:
			return
		default:
		}
	}
	t.Fatal("posted callback never ran")
}

func TestPostedCallbackThatPanicsDoesNotCrashLoop(t *testing.T) {
	r := newTestReactor(t)
	r.Post(func() { panic("boom") })
	assert.NotPanics(t, func() {
		require.NoError(t, r.RunOnce(20*time.Millisecond))
	})
}

func TestRunReturnsOnItsOwnDeadlineWithoutStop(t *testing.T) {
	r := newTestReactor(t)
	start := time.Now()

	err := r.Run(30 * time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.False(t, r.Running())
}

func TestRunZeroPerformsExactlyOnePollCycle(t *testing.T) {
	r := newTestReactor(t)
	fired := 0
	_, err := r.SetTimer(time.Millisecond, func() { fired++ })
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Run(0))
	assert.Equal(t, 1, fired)
}

func TestRunForeverOnlyStopsOnExplicitStop(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan error, 1)
	go func() { done <- r.Run(RunForever) }()

	time.Sleep(150 * time.Millisecond) // longer than one pollInterval tick
	assert.True(t, r.Running(), "RunForever must not return on its own")
	r.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
