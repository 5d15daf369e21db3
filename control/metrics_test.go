package control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	core "github.com/momentics/sheets-ws/core/protocol"
	"github.com/momentics/sheets-ws/fake"
	"github.com/momentics/sheets-ws/protocol"
)

func TestMetricsTrackConnectionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	tr := fake.NewTransport("peer")
	c := protocol.NewConnection(tr, protocol.WithStats(m))
	m.Opened()
	assert.Check(t, is.Equal(testutil.ToFloat64(m.ConnectionsActive), 1.0))

	c.Feed(fake.ClientFrame(core.OpcodeText, []byte("a")))
	c.Feed(fake.ClientFrame(core.OpcodePing, nil))
	c.Feed(fake.ClientClose(core.CloseNormalClosure, "bye"))

	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("text")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("ping")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesReceived.WithLabelValues("close")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesSent.WithLabelValues("pong")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.FramesSent.WithLabelValues("close")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.Closes.WithLabelValues("1000")), 1.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.ConnectionsActive), 0.0))
	assert.Check(t, is.Equal(testutil.ToFloat64(m.ConnectionsTotal), 1.0))

	n, err := testutil.GatherAndCount(reg, "sheets_ws_frames_received_total")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, 3))
}

func TestMetricsUnregistered(t *testing.T) {
	m := NewMetrics(nil)
	m.HandshakeFailures.Inc()
	assert.Check(t, is.Equal(testutil.ToFloat64(m.HandshakeFailures), 1.0))
}
