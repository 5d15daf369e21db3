// File: protocol/connection.go
// Package protocol implements the per-socket WebSocket state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection owns one socket's receive buffer. Inbound chunks are appended
// and decoded frame by frame; control frames are answered inline and data
// frames are surfaced to observers. The state moves OPEN -> CLOSED once.

package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/sheets-ws/api"
	core "github.com/momentics/sheets-ws/core/protocol"
)

// ErrConnectionClosed is returned by Send and Close on a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// State of a Connection.
type State int32

const (
	StateOpen State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Message is a data frame surfaced to observers.
type Message struct {
	Opcode  core.Opcode
	Payload []byte
}

// IsText reports whether the message arrived in a TEXT frame.
func (m Message) IsText() bool { return m.Opcode == core.OpcodeText }

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Payload) }

// DataHandler observes TEXT and BINARY frames.
type DataHandler func(msg Message)

// CloseHandler observes the transition to CLOSED.
type CloseHandler func(code uint16, reason string)

// Stats receives frame and lifecycle accounting.
type Stats interface {
	FrameReceived(op core.Opcode)
	FrameSent(op core.Opcode)
	Closed(code uint16)
}

type nopStats struct{}

func (nopStats) FrameReceived(core.Opcode) {}
func (nopStats) FrameSent(core.Opcode)     {}
func (nopStats) Closed(uint16)             {}

// Connection encapsulates one upgraded socket.
//
// Feed must be called from a single goroutine (the server's event loop).
// Send, Close and the observer registration methods are safe from any goroutine.
type Connection struct {
	id        string
	transport api.Transport
	stats     Stats
	logger    *zap.Logger
	maxSize   uint64

	// buf is touched only by Feed.
	buf []byte

	mu       sync.Mutex
	state    State
	onData   []DataHandler
	onClose  []CloseHandler
	releases []func()
}

// ConnOption customizes a Connection.
type ConnOption func(*Connection)

// WithID overrides the generated connection id.
func WithID(id string) ConnOption {
	return func(c *Connection) { c.id = id }
}

// WithMaxMessageSize closes with 1009 any frame declaring more than n bytes.
// Zero keeps only the 32-bit limit of the codec.
func WithMaxMessageSize(n uint64) ConnOption {
	return func(c *Connection) { c.maxSize = n }
}

// WithStats attaches frame accounting.
func WithStats(s Stats) ConnOption {
	return func(c *Connection) {
		if s != nil {
			c.stats = s
		}
	}
}

// WithLogger attaches a logger; the connection id is added as a field.
func WithLogger(l *zap.Logger) ConnOption {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConnection binds a Connection to an already upgraded transport.
func NewConnection(tr api.Transport, opts ...ConnOption) *Connection {
	c := &Connection{
		id:        uuid.NewString(),
		transport: tr,
		stats:     nopStats{},
		logger:    zap.NewNop(),
		state:     StateOpen,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("conn_id", c.id), zap.String("remote", tr.RemoteAddr()))
	return c
}

// ID returns the process-unique connection id.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the peer address reported by the transport.
func (c *Connection) RemoteAddr() string { return c.transport.RemoteAddr() }

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Closed reports whether the connection reached CLOSED.
func (c *Connection) Closed() bool { return c.State() == StateClosed }

// Buffered returns the number of received bytes not yet forming a frame.
func (c *Connection) Buffered() int { return len(c.buf) }

// OnData registers a data observer.
func (c *Connection) OnData(h DataHandler) {
	c.mu.Lock()
	c.onData = append(c.onData, h)
	c.mu.Unlock()
}

// OnClose registers a close observer. It fires once, on whichever path
// closes the connection first.
func (c *Connection) OnClose(h CloseHandler) {
	c.mu.Lock()
	c.onClose = append(c.onClose, h)
	c.mu.Unlock()
}

// OnRelease registers cleanup that runs exactly once when the connection
// closes, before close observers. On a closed connection fn runs immediately.
func (c *Connection) OnRelease(fn func()) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		fn()
		return
	}
	c.releases = append(c.releases, fn)
	c.mu.Unlock()
}

// Feed appends an inbound chunk and dispatches every complete frame.
func (c *Connection) Feed(chunk []byte) {
	if c.Closed() {
		return
	}
	c.buf = append(c.buf, chunk...)

	for !c.Closed() {
		if c.maxSize > 0 {
			h, ok, err := core.ParseHeader(c.buf)
			if err == nil && ok && h.Length > c.maxSize {
				c.protocolError(core.CloseMessageTooBig, "message too big")
				break
			}
		}

		frame, n, err := core.DecodeFrame(c.buf)
		if err != nil {
			c.protocolError(core.CloseMessageTooBig, "message too big")
			break
		}
		if frame == nil {
			break
		}
		c.buf = c.buf[n:]
		c.stats.FrameReceived(frame.Opcode)
		c.dispatch(frame)
	}

	if len(c.buf) == 0 || c.Closed() {
		c.buf = nil
	}
}

// dispatch handles control frames inline and surfaces data frames.
func (c *Connection) dispatch(frame *core.Frame) {
	switch frame.Opcode {
	case core.OpcodeText, core.OpcodeBinary:
		msg := Message{Opcode: frame.Opcode, Payload: frame.Payload}
		for _, h := range c.dataHandlers() {
			c.observe("data", func() { h(msg) })
		}

	case core.OpcodePing:
		if err := c.write(core.OpcodePong, frame.Payload); err != nil {
			c.logger.Debug("pong not sent", zap.Error(err))
		}

	case core.OpcodePong:

	case core.OpcodeClose:
		code, reason, _ := core.ParseClosePayload(frame.Payload)
		// Echoing completes the close handshake.
		_ = c.Close(code, reason)

	default:
		c.protocolError(core.CloseProtocolError, "unknown opcode")
	}
}

func (c *Connection) protocolError(code uint16, reason string) {
	c.logger.Warn("protocol violation, closing", zap.Uint16("code", code), zap.String("reason", reason))
	_ = c.Close(code, reason)
}

// Send writes v to this connection's peer: a string goes out as TEXT,
// a []byte as BINARY. Any other type fails with api.ErrInvalidArgument.
func (c *Connection) Send(v any) error {
	switch p := v.(type) {
	case string:
		return c.write(core.OpcodeText, []byte(p))
	case []byte:
		return c.write(core.OpcodeBinary, p)
	default:
		return fmt.Errorf("%w: cannot send %T, must be string or []byte", api.ErrInvalidArgument, v)
	}
}

// SendText writes a TEXT frame.
func (c *Connection) SendText(s string) error {
	return c.write(core.OpcodeText, []byte(s))
}

// SendBinary writes a BINARY frame.
func (c *Connection) SendBinary(b []byte) error {
	return c.write(core.OpcodeBinary, b)
}

// SendEncoded writes a frame that was already encoded for op, so a broadcast
// encodes once for all peers.
func (c *Connection) SendEncoded(op core.Opcode, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrConnectionClosed
	}
	if err := c.transport.Send(raw); err != nil {
		return fmt.Errorf("send %s frame: %w", op, err)
	}
	c.stats.FrameSent(op)
	return nil
}

func (c *Connection) write(op core.Opcode, payload []byte) error {
	raw, err := core.EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	return c.SendEncoded(op, raw)
}

// Close sends a CLOSE frame with code and reason and moves to CLOSED.
// A zero code sends an empty CLOSE body. The socket is shut once the
// frame has been flushed.
func (c *Connection) Close(code uint16, reason string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.state = StateClosed

	var sendErr error
	raw, err := core.EncodeFrame(core.OpcodeClose, core.BuildClosePayload(code, reason))
	if err == nil {
		sendErr = c.transport.Send(raw)
		if sendErr == nil {
			c.stats.FrameSent(core.OpcodeClose)
		}
	} else {
		sendErr = err
	}
	_ = c.transport.CloseAfterFlush()
	c.mu.Unlock()

	c.finish(code, reason)
	if sendErr != nil {
		return fmt.Errorf("send close frame: %w", sendErr)
	}
	return nil
}

// Terminate handles an abrupt end of the socket: no CLOSE frame is written
// and observers see CloseAbnormalClosure.
func (c *Connection) Terminate() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	_ = c.transport.Close()
	c.mu.Unlock()

	c.finish(core.CloseAbnormalClosure, "")
}

// finish runs once, right after the transition to CLOSED.
func (c *Connection) finish(code uint16, reason string) {
	c.mu.Lock()
	releases := c.releases
	c.releases = nil
	handlers := append([]CloseHandler(nil), c.onClose...)
	c.mu.Unlock()

	c.stats.Closed(code)
	c.logger.Debug("connection closed", zap.Uint16("code", code), zap.String("reason", reason))

	for _, fn := range releases {
		fn()
	}
	for _, h := range handlers {
		c.observe("close", func() { h(code, reason) })
	}
}

// observe runs one observer callback. A panic is logged and swallowed so the
// remaining frames of the current chunk are still dispatched.
func (c *Connection) observe(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("observer panicked", zap.String("observer", kind), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

func (c *Connection) dataHandlers() []DataHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DataHandler(nil), c.onData...)
}
