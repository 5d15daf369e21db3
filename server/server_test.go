package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/momentics/sheets-ws/control"
	core "github.com/momentics/sheets-ws/core/protocol"
	"github.com/momentics/sheets-ws/fake"
	"github.com/momentics/sheets-ws/protocol"
	"github.com/momentics/sheets-ws/transport/tcp"
)

const (
	sampleKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	sampleAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

type running struct {
	srv    *Server
	addr   string
	cancel context.CancelFunc
	errCh  chan error
}

func start(t *testing.T, handler Handler, opts ...ServerOption) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := tcp.Listen(ctx, "127.0.0.1:0")
	assert.NilError(t, err)

	opts = append([]ServerOption{WithShutdownTimeout(2 * time.Second)}, opts...)
	srv := New(handler, opts...)
	r := &running{srv: srv, addr: ln.Addr().String(), cancel: cancel, errCh: make(chan error, 1)}
	go func() { r.errCh <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errCh:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errCh:
		r.errCh <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

type client struct {
	conn net.Conn
	br   *bufio.Reader
}

func upgradeRequest(key string) string {
	req := "GET / HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: keep-alive, Upgrade\r\n"
	if key != "" {
		req += "Sec-WebSocket-Key: " + key + "\r\n"
	}
	return req + "Sec-WebSocket-Version: 13\r\n\r\n"
}

// dial connects and completes the handshake; extra is written together with
// the request head.
func dial(t *testing.T, addr string, extra []byte) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	assert.NilError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write(append([]byte(upgradeRequest(sampleKey)), extra...))
	assert.NilError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	assert.NilError(t, err)
	assert.Equal(t, resp.StatusCode, http.StatusSwitchingProtocols)
	assert.Equal(t, resp.Header.Get("Sec-WebSocket-Accept"), sampleAccept)
	return &client{conn: conn, br: br}
}

func (c *client) send(t *testing.T, raw []byte) {
	t.Helper()
	_, err := c.conn.Write(raw)
	assert.NilError(t, err)
}

func (c *client) read(t *testing.T) *core.Frame {
	t.Helper()
	f, err := fake.ReadServerFrame(c.br)
	assert.NilError(t, err)
	return f
}

func echo(c *protocol.Connection) {
	c.OnData(func(m protocol.Message) {
		if m.IsText() {
			_ = c.SendText(m.Text())
			return
		}
		_ = c.SendBinary(m.Payload)
	})
}

func waitForConnections(t *testing.T, srv *Server, n int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if got := srv.Registry().Len(); got != n {
			return poll.Continue("registry has %d connections, want %d", got, n)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))
}

func TestServerEcho(t *testing.T) {
	r := start(t, echo)
	c := dial(t, r.addr, nil)

	c.send(t, fake.ClientFrame(core.OpcodeText, []byte("A1=42")))
	f := c.read(t)
	assert.Check(t, is.Equal(f.Opcode, core.OpcodeText))
	assert.Check(t, is.Equal(string(f.Payload), "A1=42"))

	big := []byte(strings.Repeat("z", 70000))
	c.send(t, fake.ClientFrame(core.OpcodeBinary, big))
	f = c.read(t)
	assert.Check(t, is.Equal(f.Opcode, core.OpcodeBinary))
	assert.Check(t, is.DeepEqual(f.Payload, big))
}

func TestServerFeedsBytesSentWithHandshake(t *testing.T) {
	r := start(t, echo)
	c := dial(t, r.addr, fake.ClientFrame(core.OpcodeText, []byte("early")))

	f := c.read(t)
	assert.Check(t, is.Equal(string(f.Payload), "early"))
}

func TestServerPingPong(t *testing.T) {
	r := start(t, nil)
	c := dial(t, r.addr, nil)

	c.send(t, fake.ClientFrame(core.OpcodePing, []byte("hb")))
	f := c.read(t)
	assert.Check(t, is.Equal(f.Opcode, core.OpcodePong))
	assert.Check(t, is.Equal(string(f.Payload), "hb"))
}

func TestServerBroadcast(t *testing.T) {
	var srv *Server
	srv = New(func(c *protocol.Connection) {
		c.OnData(func(m protocol.Message) {
			_, _ = srv.Broadcast(m.Text())
		})
	}, WithShutdownTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	ln, err := tcp.Listen(ctx, "127.0.0.1:0")
	assert.NilError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	a := dial(t, ln.Addr().String(), nil)
	b := dial(t, ln.Addr().String(), nil)
	waitForConnections(t, srv, 2)

	a.send(t, fake.ClientFrame(core.OpcodeText, []byte("B2=7")))
	assert.Check(t, is.Equal(string(a.read(t).Payload), "B2=7"))
	assert.Check(t, is.Equal(string(b.read(t).Payload), "B2=7"))
}

func TestServerCloseHandshake(t *testing.T) {
	closes := make(chan uint16, 1)
	r := start(t, func(c *protocol.Connection) {
		c.OnClose(func(code uint16, _ string) { closes <- code })
	})
	c := dial(t, r.addr, nil)
	waitForConnections(t, r.srv, 1)

	c.send(t, fake.ClientClose(core.CloseNormalClosure, "done"))
	f := c.read(t)
	assert.Check(t, is.Equal(f.Opcode, core.OpcodeClose))
	code, reason, ok := f.CloseStatus()
	assert.Check(t, ok)
	assert.Check(t, is.Equal(code, uint16(core.CloseNormalClosure)))
	assert.Check(t, is.Equal(reason, "done"))

	// The server shuts the socket after the echo.
	_, err := c.br.ReadByte()
	assert.Check(t, is.ErrorIs(err, io.EOF))
	assert.Check(t, is.Equal(<-closes, uint16(core.CloseNormalClosure)))
	waitForConnections(t, r.srv, 0)
}

func TestServerAbruptDisconnect(t *testing.T) {
	closes := make(chan uint16, 1)
	r := start(t, func(c *protocol.Connection) {
		c.OnClose(func(code uint16, _ string) { closes <- code })
	})
	c := dial(t, r.addr, nil)
	waitForConnections(t, r.srv, 1)

	assert.NilError(t, c.conn.Close())

	select {
	case code := <-closes:
		assert.Check(t, is.Equal(code, uint16(core.CloseAbnormalClosure)))
	case <-time.After(5 * time.Second):
		t.Fatal("close observer not called")
	}
	waitForConnections(t, r.srv, 0)
}

func TestServerUnknownOpcodeCloses(t *testing.T) {
	r := start(t, nil)
	c := dial(t, r.addr, nil)

	c.send(t, fake.ClientFrame(core.Opcode(0xB), nil))
	f := c.read(t)
	code, _, _ := f.CloseStatus()
	assert.Check(t, is.Equal(code, uint16(core.CloseProtocolError)))
}

func TestServerMaxMessageSize(t *testing.T) {
	r := start(t, echo, WithMaxMessageSize(8))
	c := dial(t, r.addr, nil)

	c.send(t, fake.ClientFrame(core.OpcodeText, []byte("0123456789")))
	f := c.read(t)
	code, _, _ := f.CloseStatus()
	assert.Check(t, is.Equal(code, uint16(core.CloseMessageTooBig)))
}

func TestServerPlainHTTPGetsIndexPage(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	metrics := control.NewMetrics(reg)
	r := start(t, nil, WithIndexPage([]byte("<h1>sheet</h1>")), WithMetrics(metrics))

	resp, err := http.Get("http://" + r.addr + "/")
	assert.NilError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)

	assert.Check(t, is.Equal(resp.StatusCode, http.StatusOK))
	assert.Check(t, is.Equal(resp.Header.Get("Content-Type"), "text/html; charset=utf-8"))
	assert.Check(t, is.Equal(string(body), "<h1>sheet</h1>"))
	assert.Check(t, is.Equal(testutil.ToFloat64(metrics.PlainHTTPResponses), 1.0))
}

func TestServerUpgradeWithoutKeyIsRejected(t *testing.T) {
	metrics := control.NewMetrics(nil)
	r := start(t, nil, WithMetrics(metrics))

	conn, err := net.Dial("tcp", r.addr)
	assert.NilError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(upgradeRequest("")))
	assert.NilError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Check(t, is.Equal(resp.StatusCode, http.StatusBadRequest))
	assert.Check(t, is.Equal(testutil.ToFloat64(metrics.HandshakeFailures), 1.0))
	assert.Check(t, is.Equal(r.srv.Registry().Len(), 0))
}

func TestServerShutdownSendsGoingAway(t *testing.T) {
	closes := make(chan uint16, 1)
	r := start(t, func(c *protocol.Connection) {
		c.OnClose(func(code uint16, _ string) { closes <- code })
	})
	c := dial(t, r.addr, nil)
	waitForConnections(t, r.srv, 1)

	assert.NilError(t, r.stop(t))

	f := c.read(t)
	code, reason, ok := f.CloseStatus()
	assert.Check(t, ok)
	assert.Check(t, is.Equal(code, uint16(core.CloseGoingAway)))
	assert.Check(t, is.Equal(reason, "going away"))
	assert.Check(t, is.Equal(<-closes, uint16(core.CloseGoingAway)))
	assert.Check(t, !r.srv.Do(func() {}))
}

func TestServerDoRunsOnLoop(t *testing.T) {
	r := start(t, nil)
	c := dial(t, r.addr, nil)
	waitForConnections(t, r.srv, 1)

	var ids []string
	err := r.srv.Call(context.Background(), func() {
		r.srv.Registry().ForEach(func(conn *protocol.Connection) {
			ids = append(ids, conn.ID())
			_ = conn.SendText("hello from the loop")
		})
	})
	assert.NilError(t, err)
	assert.Check(t, is.Len(ids, 1))
	assert.Check(t, is.Equal(string(c.read(t).Payload), "hello from the loop"))
}

func TestServeTwice(t *testing.T) {
	r := start(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()
	assert.Check(t, is.ErrorIs(r.srv.Serve(context.Background(), ln), ErrAlreadyRunning))
}

func TestListenReturnsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	defer ln.Close()

	err = Listen(context.Background(), ln.Addr().String(), nil)
	assert.Check(t, is.ErrorContains(err, "tcp listen on"))
}
