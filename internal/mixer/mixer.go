// Package mixer defines the per-user audio mixer contract the session
// bridge acquires, configures and releases, plus an in-memory fake used
// by bridge tests and the demo binary.
package mixer

import (
	"fmt"
	"sync"
)

// UserID identifies the user whose audio mixer is being managed.
type UserID string

// Mixer is the per-user audio mixer surface the bridge drives. A real
// implementation forwards to the multicast mixing engine over the
// network; Mem below is an in-process fake for tests and the demo.
//
// Acquire and Release are asynchronous: done is invoked, possibly from a
// different goroutine, once the underlying engine completes the request.
// Callers that touch reactor-owned state from done must hand it back to
// the reactor goroutine via Reactor.Post rather than calling it directly,
// so a slow or never-completing engine can race a bridge request timeout
// without blocking the reactor thread.
type Mixer interface {
	// Acquire reserves the mixer for user. done receives an error if it
	// is already held by someone else.
	Acquire(user UserID, done func(error))
	// Release frees the mixer. Releasing an unheld mixer is a no-op.
	Release(user UserID, done func(error))
	// SetForward points the mixer's outbound audio at a unicast target.
	SetForward(user UserID, target string) error
	// JoinLoop joins the mixer to a named multicast loop.
	JoinLoop(user UserID, loop string) error
}

// shardCount mirrors the "shard by key, lock only what you touch"
// pattern so concurrent acquisitions for different users never
// contend on a single mutex.
const shardCount = 64

// Mem is an in-memory Mixer fake, sharded by a cheap hash of the user
// id so concurrent Acquire/Release calls for distinct users don't
// serialize behind one lock.
type Mem struct {
	shards [shardCount]memShard
}

type memShard struct {
	mu      sync.Mutex
	held    map[UserID]bool
	forward map[UserID]string
	loop    map[UserID]string
}

// NewMem constructs an empty in-memory mixer pool.
func NewMem() *Mem {
	m := &Mem{}
	for i := range m.shards {
		m.shards[i].held = make(map[UserID]bool)
		m.shards[i].forward = make(map[UserID]string)
		m.shards[i].loop = make(map[UserID]string)
	}
	return m
}

func (m *Mem) shardFor(user UserID) *memShard {
	var h uint32
	for i := 0; i < len(user); i++ {
		h = h*31 + uint32(user[i])
	}
	return &m.shards[h%shardCount]
}

// Acquire completes on a separate goroutine, same as a real mixer's
// network round-trip would, so callers exercise the same completion path
// regardless of backend.
func (m *Mem) Acquire(user UserID, done func(error)) {
	go func() {
		s := m.shardFor(user)
		s.mu.Lock()
		var err error
		if s.held[user] {
			err = fmt.Errorf("mixer: user %s already acquired", user)
		} else {
			s.held[user] = true
		}
		s.mu.Unlock()
		done(err)
	}()
}

func (m *Mem) Release(user UserID, done func(error)) {
	go func() {
		s := m.shardFor(user)
		s.mu.Lock()
		delete(s.held, user)
		delete(s.forward, user)
		delete(s.loop, user)
		s.mu.Unlock()
		done(nil)
	}()
}

func (m *Mem) SetForward(user UserID, target string) error {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held[user] {
		return fmt.Errorf("mixer: user %s not acquired", user)
	}
	s.forward[user] = target
	return nil
}

func (m *Mem) JoinLoop(user UserID, loop string) error {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held[user] {
		return fmt.Errorf("mixer: user %s not acquired", user)
	}
	s.loop[user] = loop
	return nil
}

// IsHeld reports whether user's mixer is currently acquired. Testing
// helper.
func (m *Mem) IsHeld(user UserID) bool {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[user]
}

// Forward returns the unicast target configured for user, if any.
// Testing helper.
func (m *Mem) Forward(user UserID) (string, bool) {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.forward[user]
	return t, ok
}

// Loop returns the multicast loop user was joined to, if any. Testing
// helper.
func (m *Mem) Loop(user UserID) (string, bool) {
	s := m.shardFor(user)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loop[user]
	return l, ok
}

var _ Mixer = (*Mem)(nil)
