// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"net"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/sheets-ws/api"
)

// NetConn implements api.Transport over a net.Conn with fire-and-forget
// writes: Send appends to an unbounded queue and a writer goroutine drains
// it in order. A slow peer makes the queue grow; there is no backpressure.
type NetConn struct {
	conn net.Conn

	mu       sync.Mutex
	pending  *queue.Queue // of []byte
	draining bool         // CloseAfterFlush requested
	closed   bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	onError   func(error)
}

// NewNetConn wraps conn and starts its writer goroutine. onError, if not
// nil, is called once with the first write error.
func NewNetConn(conn net.Conn, onError func(error)) *NetConn {
	n := &NetConn{
		conn:    conn,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onError: onError,
	}
	go n.writeLoop()
	return n
}

// Send implements api.Transport.Send.
func (n *NetConn) Send(b []byte) error {
	n.mu.Lock()
	if n.closed || n.draining {
		n.mu.Unlock()
		return api.ErrTransportClosed
	}
	n.pending.Add(b)
	n.mu.Unlock()
	n.signal()
	return nil
}

// CloseAfterFlush implements api.Transport.CloseAfterFlush.
func (n *NetConn) CloseAfterFlush() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.draining = true
	n.mu.Unlock()
	n.signal()
	return nil
}

// Close implements api.Transport.Close.
func (n *NetConn) Close() error {
	return n.terminate()
}

// RemoteAddr implements api.Transport.RemoteAddr.
func (n *NetConn) RemoteAddr() string {
	if a := n.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Pending returns the number of queued, unwritten buffers.
func (n *NetConn) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending.Length()
}

// Done is closed once the socket has been closed.
func (n *NetConn) Done() <-chan struct{} {
	return n.done
}

func (n *NetConn) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest buffer. finish is true when the writer should stop.
func (n *NetConn) next() (b []byte, finish bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, true
	}
	if n.pending.Length() > 0 {
		return n.pending.Remove().([]byte), false
	}
	return nil, n.draining
}

func (n *NetConn) writeLoop() {
	for {
		b, finish := n.next()
		if finish {
			_ = n.terminate()
			return
		}
		if b == nil {
			select {
			case <-n.wake:
			case <-n.done:
				return
			}
			continue
		}
		if _, err := n.conn.Write(b); err != nil {
			_ = n.terminate()
			if n.onError != nil {
				n.onError(err)
			}
			return
		}
	}
}

func (n *NetConn) terminate() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		for n.pending.Length() > 0 {
			n.pending.Remove()
		}
		n.mu.Unlock()
		close(n.done)
		err = n.conn.Close()
	})
	return err
}
