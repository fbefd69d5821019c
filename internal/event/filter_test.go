package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceFilter(t *testing.T) {
	f := SourceFilter("network")
	require.True(t, f(New("client:connected", "network", nil)))
	require.False(t, f(New("client:connected", "auth", nil)))
}

func TestDataFilter(t *testing.T) {
	f := DataFilter("authenticated", true)
	require.True(t, f(New("client:message", "network", map[string]any{"authenticated": true})))
	require.False(t, f(New("client:message", "network", map[string]any{"authenticated": false})))
	require.False(t, f(New("client:message", "network", nil)))
}

func TestPathFilter(t *testing.T) {
	f := PathFilter("$.message.type", "chat")

	e := New("client:message", "network", map[string]any{
		"message": map[string]any{"type": "chat", "text": "hello"},
	})
	require.True(t, f(e))

	e = New("client:message", "network", map[string]any{
		"message": map[string]any{"type": "move"},
	})
	require.False(t, f(e))

	// Unresolvable path does not match and does not panic.
	require.False(t, f(New("client:message", "network", map[string]any{"other": 1})))
}

func TestAllFilter(t *testing.T) {
	f := All(SourceFilter("network"), DataFilter("n", 1), nil)
	require.True(t, f(New("x", "network", map[string]any{"n": 1})))
	require.False(t, f(New("x", "network", map[string]any{"n": 2})))
	require.False(t, f(New("x", "other", map[string]any{"n": 1})))
}

func TestEventDefaults(t *testing.T) {
	e := New("client:connected", "network", nil)
	require.NotEmpty(t, e.ID)
	require.False(t, e.Timestamp.IsZero())
	require.True(t, e.Propagating())

	e2 := New("client:connected", "network", nil)
	require.NotEqual(t, e.ID, e2.ID)

	e.StopPropagation()
	require.False(t, e.Propagating())
}
