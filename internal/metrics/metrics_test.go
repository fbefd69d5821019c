package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ModuleState("network", 2)
	c.EventEmitted("x")
	c.EventProcessed("x", 1, time.Millisecond)
	c.QueueDepth(3)
	c.SessionOpened()
	c.SessionClosed()
	c.FrameIn()
	c.FrameOut()
	c.ProtocolError()

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 404, rr.Code)
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	require.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))

	c.FrameIn()
	c.FrameIn()
	c.FrameOut()
	c.ProtocolError()
	require.Equal(t, 2.0, testutil.ToFloat64(c.framesIn))
	require.Equal(t, 1.0, testutil.ToFloat64(c.framesOut))
	require.Equal(t, 1.0, testutil.ToFloat64(c.protocolErrors))

	c.EventEmitted("game:tick")
	c.EventEmitted("game:tick")
	c.EventProcessed("game:tick", 3, time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(c.eventsEmitted.WithLabelValues("game:tick")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.eventsProcessed.WithLabelValues("game:tick")))

	c.ModuleState("network", 2)
	require.Equal(t, 2.0, testutil.ToFloat64(c.moduleState.WithLabelValues("network")))
}

func TestHandlerServesRegistry(t *testing.T) {
	c := NewCollector()
	c.FrameIn()

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)
	require.Contains(t, rr.Body.String(), "draco_network_frames_in_total 1")
}
