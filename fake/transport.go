// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the core interfaces.

package fake

import (
	"sync"

	"github.com/momentics/sheets-ws/api"
	"github.com/momentics/sheets-ws/core/protocol"
)

// Transport is a recording implementation of api.Transport.
type Transport struct {
	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	flushed   bool
	sendError error
	addr      string
}

// NewTransport creates a new fake transport reporting addr as its peer.
func NewTransport(addr string) *Transport {
	return &Transport{addr: addr}
}

// Send implements api.Transport.Send.
func (t *Transport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		return t.sendError
	}
	t.sent = append(t.sent, append([]byte(nil), b...))
	return nil
}

// CloseAfterFlush implements api.Transport.CloseAfterFlush.
func (t *Transport) CloseAfterFlush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushed = true
	t.closed = true
	return nil
}

// Close implements api.Transport.Close.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// RemoteAddr implements api.Transport.RemoteAddr.
func (t *Transport) RemoteAddr() string { return t.addr }

// SetSendError makes subsequent Send calls fail with err.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	t.sendError = err
	t.mu.Unlock()
}

// Sent returns copies of everything passed to Send.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// Closed reports whether Close or CloseAfterFlush was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Flushed reports whether the transport was closed through CloseAfterFlush.
func (t *Transport) Flushed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushed
}

// SentFrames decodes everything sent as server frames. Sent data that is
// not a frame stream (a handshake response) must not be mixed in.
func (t *Transport) SentFrames() ([]*protocol.Frame, error) {
	var out []*protocol.Frame
	for _, raw := range t.Sent() {
		for len(raw) > 0 {
			f, n, err := DecodeServerFrame(raw)
			if err != nil {
				return out, err
			}
			out = append(out, f)
			raw = raw[n:]
		}
	}
	return out, nil
}
