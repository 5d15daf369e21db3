// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the outbound side of a socket as seen by the protocol engine.

package api

// Transport is the write half of one peer socket.
//
// Send must not block on the network: implementations queue the bytes and
// deliver them in order. Once closed, Send returns ErrTransportClosed.
type Transport interface {
	// Send queues one fully encoded frame (or handshake response).
	Send(b []byte) error

	// CloseAfterFlush closes the socket once everything queued so far is written.
	CloseAfterFlush() error

	// Close shuts the socket down immediately, dropping queued data.
	Close() error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}
