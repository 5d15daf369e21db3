package transport

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/momentics/sheets-ws/api"
)

func TestNetConnWritesInOrder(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	nc := NewNetConn(server, nil)

	for i := 0; i < 50; i++ {
		assert.NilError(t, nc.Send([]byte{byte(i)}))
	}

	got := make([]byte, 50)
	_, err := io.ReadFull(client, got)
	assert.NilError(t, err)
	for i, b := range got {
		assert.Check(t, is.Equal(b, byte(i)))
	}
	assert.NilError(t, nc.Close())
}

func TestNetConnSendDoesNotBlockOnSlowPeer(t *testing.T) {
	// net.Pipe is synchronous: nothing is written until client reads.
	server, client := net.Pipe()
	defer client.Close()
	nc := NewNetConn(server, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			_ = nc.Send(bytes.Repeat([]byte{'x'}, 64))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked on an unread peer")
	}
	assert.Check(t, nc.Pending() > 0)
	assert.NilError(t, nc.Close())
}

func TestNetConnCloseAfterFlush(t *testing.T) {
	server, client := net.Pipe()
	nc := NewNetConn(server, nil)

	assert.NilError(t, nc.Send([]byte("last words")))
	assert.NilError(t, nc.CloseAfterFlush())
	assert.Check(t, is.ErrorIs(nc.Send([]byte("too late")), api.ErrTransportClosed))

	data, err := io.ReadAll(client)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(data), "last words"))

	select {
	case <-nc.Done():
	case <-time.After(time.Second):
		t.Fatal("transport not closed after flush")
	}
}

func TestNetConnWriteErrorReported(t *testing.T) {
	server, client := net.Pipe()
	errs := make(chan error, 1)
	nc := NewNetConn(server, func(err error) { errs <- err })

	client.Close()
	assert.NilError(t, nc.Send([]byte("nobody listens")))

	select {
	case err := <-errs:
		assert.Check(t, err != nil)
	case <-time.After(time.Second):
		t.Fatal("write error not reported")
	}
	<-nc.Done()
	assert.Check(t, is.ErrorIs(nc.Send([]byte("x")), api.ErrTransportClosed))
}
