package network

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPipeSession(t *testing.T, id string) *Session {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewSession(id, server, 0)
}

func TestTableAddGetRemove(t *testing.T) {
	tb := NewTable()
	s := newPipeSession(t, "s1")

	tb.Add(s)
	require.Equal(t, 1, tb.Count())

	got, ok := tb.Get("s1")
	require.True(t, ok)
	require.Same(t, s, got)

	removed, ok := tb.Remove("s1")
	require.True(t, ok)
	require.Same(t, s, removed)
	require.Equal(t, 0, tb.Count())

	// Removing again reports absence, making disconnect idempotent.
	_, ok = tb.Remove("s1")
	require.False(t, ok)
}

func TestTableSnapshot(t *testing.T) {
	tb := NewTable()
	for _, id := range []string{"a", "b", "c"} {
		tb.Add(newPipeSession(t, id))
	}

	snap := tb.Snapshot()
	require.Len(t, snap, 3)

	// Snapshot is a copy; mutating the table does not affect it.
	tb.Remove("a")
	require.Len(t, snap, 3)
	require.Equal(t, 2, tb.Count())
}

func TestTableIdleSince(t *testing.T) {
	tb := NewTable()
	stale := newPipeSession(t, "stale")
	fresh := newPipeSession(t, "fresh")
	tb.Add(stale)
	tb.Add(fresh)

	time.Sleep(20 * time.Millisecond)
	fresh.Touch()

	idle := tb.IdleSince(10 * time.Millisecond)
	require.Equal(t, []string{"stale"}, idle)
}

func TestSessionAuthenticatedFlag(t *testing.T) {
	s := newPipeSession(t, "s1")
	require.False(t, s.Authenticated())
	s.SetAuthenticated(true)
	require.True(t, s.Authenticated())
	s.SetAuthenticated(false)
	require.False(t, s.Authenticated())
}

func TestSessionAttributes(t *testing.T) {
	s := newPipeSession(t, "s1")

	_, ok := s.Attribute("username")
	require.False(t, ok)

	s.SetAttribute("username", "draco")
	v, ok := s.Attribute("username")
	require.True(t, ok)
	require.Equal(t, "draco", v)
}

func TestSessionTouchAdvancesActivity(t *testing.T) {
	s := newPipeSession(t, "s1")
	before := s.LastActivity()
	time.Sleep(5 * time.Millisecond)
	s.Touch()
	require.True(t, s.LastActivity().After(before))
	require.Less(t, s.IdleFor(), 5*time.Second)
}

func TestSessionRateLimit(t *testing.T) {
	s := newPipeSession(t, "s1")
	// No limit configured: everything is allowed.
	for i := 0; i < 100; i++ {
		require.True(t, s.AllowInbound())
	}

	_, server := net.Pipe()
	defer server.Close()
	limited := NewSession("s2", server, 2)
	allowed := 0
	for i := 0; i < 50; i++ {
		if limited.AllowInbound() {
			allowed++
		}
	}
	require.Greater(t, allowed, 0)
	require.Less(t, allowed, 50, "burst bounded by the configured rate")
}

func TestSessionInfoProjection(t *testing.T) {
	s := newPipeSession(t, "s1")
	s.SetAuthenticated(true)

	info := s.Info()
	require.Equal(t, "s1", info.ID)
	require.True(t, info.Authenticated)
	require.False(t, info.ConnectedAt.IsZero())
}

func TestSessionWriteFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := NewSession("s1", server, 0)
	codec := NewCodec(0)

	errC := make(chan error, 1)
	go func() { errC <- s.WriteFrame(codec, []byte("hello")) }()

	got, err := codec.ReadFrame(client)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.NoError(t, <-errC)
}
