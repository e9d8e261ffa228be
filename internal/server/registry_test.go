package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/portal-chat/internal/stats"
	"github.com/npezzotti/portal-chat/internal/testutil"
	"github.com/npezzotti/portal-chat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	events   []string
	pings    int
	closes   int
	writeErr error
	written  chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{written: make(chan struct{}, 128)}
}

func (s *fakeSink) WriteEvent(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.events = append(s.events, string(data))
	s.notify()
	return nil
}

func (s *fakeSink) WritePing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.pings++
	s.notify()
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) notify() {
	select {
	case s.written <- struct{}{}:
	default:
	}
}

func (s *fakeSink) snapshot() (events []string, pings, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...), s.pings, s.closes
}

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(testutil.TestLogger(t), stats.NewPermissiveMock(), time.Hour)
}

// drain returns everything queued on c without blocking.
func drain(c *Connection) []string {
	var out []string
	for {
		select {
		case data := <-c.send:
			out = append(out, string(data))
		default:
			return out
		}
	}
}

func TestRegistry_Register(t *testing.T) {
	st := new(stats.MockStatsUpdater)
	st.On("Incr", stats.ActiveConnections).Return().Once()
	st.On("Incr", stats.TotalConnections).Return().Once()
	r := NewRegistry(testutil.TestLogger(t), st, 0)

	c := r.Register(types.RoomScope("r1"), "u1", newFakeSink())

	assert.NotEmpty(t, c.ID(), "expected connection id to be generated")
	assert.Equal(t, types.RoomScope("r1"), c.Scope())
	assert.Equal(t, "u1", c.Identity())
	assert.Equal(t, DefaultHeartbeatInterval, c.heartbeat, "expected default heartbeat when none configured")
	got, ok := r.Get(c.ID())
	assert.True(t, ok)
	assert.Same(t, c, got)
	st.AssertExpectations(t)
}

func TestRegistry_UniqueIds(t *testing.T) {
	r := newTestRegistry(t)

	seen := make(map[string]struct{})
	for range 200 {
		c := r.Register(types.GlobalScope, "", newFakeSink())
		_, dup := seen[c.ID()]
		require.False(t, dup, "duplicate connection id %q", c.ID())
		seen[c.ID()] = struct{}{}
	}
	assert.Equal(t, 200, r.Len())
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	st := stats.NewPermissiveMock()
	r := NewRegistry(testutil.TestLogger(t), st, time.Hour)
	c := r.Register(types.GlobalScope, "", newFakeSink())

	assert.True(t, r.Unregister(c.ID()))
	assert.False(t, r.Unregister(c.ID()), "second unregister should be a no-op")
	assert.False(t, r.Unregister("unknown"), "unknown id should be a no-op")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Count(types.GlobalScope))
	st.AssertNumberOfCalls(t, "Decr", 1)
}

func TestRegistry_ForEachInScope(t *testing.T) {
	r := newTestRegistry(t)

	a := r.Register(types.RoomScope("r1"), "", newFakeSink())
	b := r.Register(types.RoomScope("r1"), "", newFakeSink())
	c := r.Register(types.RoomScope("r2"), "", newFakeSink())
	g := r.Register(types.GlobalScope, "", newFakeSink())

	tcases := []struct {
		name     string
		scope    types.Scope
		expected []string
	}{
		{name: "room r1", scope: types.RoomScope("r1"), expected: []string{a.ID(), b.ID()}},
		{name: "room r2", scope: types.RoomScope("r2"), expected: []string{c.ID()}},
		{name: "global", scope: types.GlobalScope, expected: []string{g.ID()}},
		{name: "room named global", scope: types.RoomScope("global"), expected: nil},
		{name: "empty room", scope: types.RoomScope("r3"), expected: nil},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var visited []string
			r.ForEachInScope(tc.scope, func(conn *Connection) {
				visited = append(visited, conn.ID())
			})
			assert.ElementsMatch(t, tc.expected, visited)
		})
	}
}

func TestRegistry_ForEachInScope_ConcurrentRemoval(t *testing.T) {
	r := newTestRegistry(t)

	var conns []*Connection
	for range 10 {
		conns = append(conns, r.Register(types.RoomScope("r1"), "", newFakeSink()))
	}

	visits := make(map[string]int)
	r.ForEachInScope(types.RoomScope("r1"), func(c *Connection) {
		visits[c.ID()]++
		// every visit removes some other member mid-iteration
		for _, other := range conns {
			if other != c {
				r.Unregister(other.ID())
				break
			}
		}
	})

	assert.Len(t, visits, 10, "every member of the snapshot should be visited")
	for id, n := range visits {
		assert.Equal(t, 1, n, "connection %q visited more than once", id)
	}
}

func TestRegistry_CloseIdentity(t *testing.T) {
	r := newTestRegistry(t)

	c1 := r.Register(types.RoomScope("r1"), "u1", newFakeSink())
	c2 := r.Register(types.GlobalScope, "u1", newFakeSink())
	other := r.Register(types.GlobalScope, "u2", newFakeSink())
	anon := r.Register(types.GlobalScope, "", newFakeSink())

	assert.Equal(t, 2, r.CloseIdentity("u1"))
	assert.Equal(t, 0, r.CloseIdentity(""), "empty identity should never match")

	for _, c := range []*Connection{c1, c2} {
		_, ok := r.Get(c.ID())
		assert.False(t, ok)
		assert.False(t, c.Enqueue([]byte("x")), "closed connection should refuse events")
	}
	for _, c := range []*Connection{other, anon} {
		_, ok := r.Get(c.ID())
		assert.True(t, ok)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry(t)
	c := r.Register(types.RoomScope("r1"), "u1", newFakeSink())
	r.Register(types.GlobalScope, "", newFakeSink())

	r.CloseAll()

	assert.Equal(t, 0, r.Len())
	assert.False(t, c.Enqueue([]byte("x")))
}

func TestConnection_Serve(t *testing.T) {
	r := newTestRegistry(t)
	sink := newFakeSink()
	c := r.Register(types.GlobalScope, "", sink)

	go c.Serve(t.Context())

	require.True(t, c.Enqueue([]byte(`{"type":"system","message":"one"}`)))
	require.True(t, c.Enqueue([]byte(`{"type":"system","message":"two"}`)))

	assert.Eventually(t, func() bool {
		events, _, _ := sink.snapshot()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)

	events, _, _ := sink.snapshot()
	assert.Equal(t, []string{`{"type":"system","message":"one"}`, `{"type":"system","message":"two"}`}, events)

	c.Close()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Serve to exit after Close")
	}

	_, ok := r.Get(c.ID())
	assert.False(t, ok, "expected connection to be unregistered")
	_, _, closes := sink.snapshot()
	assert.Equal(t, 1, closes)
}

func TestConnection_Heartbeat(t *testing.T) {
	r := NewRegistry(testutil.TestLogger(t), stats.NewPermissiveMock(), 5*time.Millisecond)
	sink := newFakeSink()
	c := r.Register(types.RoomScope("r1"), "", sink)

	go c.Serve(t.Context())
	t.Cleanup(c.Close)

	assert.Eventually(t, func() bool {
		_, pings, _ := sink.snapshot()
		return pings >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestConnection_WriteFailure(t *testing.T) {
	tcases := []struct {
		name      string
		heartbeat time.Duration
		enqueue   bool
	}{
		{name: "event write fails", heartbeat: time.Hour, enqueue: true},
		{name: "heartbeat fails", heartbeat: 5 * time.Millisecond, enqueue: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(testutil.TestLogger(t), stats.NewPermissiveMock(), tc.heartbeat)
			sink := newFakeSink()
			sink.writeErr = errors.New("broken pipe")
			c := r.Register(types.GlobalScope, "", sink)

			go c.Serve(t.Context())
			if tc.enqueue {
				c.Enqueue([]byte("{}"))
			}

			select {
			case <-c.Done():
			case <-time.After(time.Second):
				t.Fatal("expected Serve to exit after write failure")
			}

			assert.Equal(t, 0, r.Len())
			_, _, closes := sink.snapshot()
			assert.Equal(t, 1, closes)
		})
	}
}

func TestConnection_CleanupRunsOnce(t *testing.T) {
	st := stats.NewPermissiveMock()
	r := NewRegistry(testutil.TestLogger(t), st, time.Hour)
	sink := newFakeSink()
	c := r.Register(types.GlobalScope, "", sink)

	ctx, cancel := context.WithCancel(t.Context())
	go c.Serve(ctx)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() { defer wg.Done(); c.Close() }()
		go func() { defer wg.Done(); r.Unregister(c.ID()) }()
	}
	cancel()
	wg.Wait()
	<-c.Done()

	_, _, closes := sink.snapshot()
	assert.Equal(t, 1, closes, "sink must be released exactly once")
	st.AssertNumberOfCalls(t, "Decr", 1)
	st.AssertCalled(t, "Decr", mock.Anything)
}

func TestConnection_EnqueueFullQueue(t *testing.T) {
	r := newTestRegistry(t)
	c := r.Register(types.GlobalScope, "", newFakeSink())

	for range sendQueueSize {
		require.True(t, c.Enqueue([]byte("{}")))
	}
	assert.False(t, c.Enqueue([]byte("{}")), "expected enqueue to fail when the queue is full")
}
