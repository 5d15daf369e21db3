// File: server/upgrade.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-socket handling: read the request head, answer plain HTTP with the
// index page, upgrade WebSocket requests and pump inbound bytes to the loop.

package server

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	core "github.com/momentics/sheets-ws/core/protocol"
	"github.com/momentics/sheets-ws/protocol"
	"github.com/momentics/sheets-ws/transport"
)

// serveConn owns conn until it is closed. It was registered by track.
func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	log := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	br := bufio.NewReaderSize(conn, s.cfg.ReadBufferSize)
	req, err := http.ReadRequest(br)
	if err != nil {
		log.Debug("reading request head failed", zap.Error(err))
		s.metrics.HandshakeFailures.Inc()
		_ = conn.Close()
		return
	}

	if !core.IsUpgradeRequest(req) {
		s.metrics.PlainHTTPResponses.Inc()
		if err := writeHTTPResponse(conn, http.StatusOK, "text/html; charset=utf-8", s.cfg.IndexPage); err != nil {
			log.Debug("writing index page failed", zap.Error(err))
		}
		_ = conn.Close()
		return
	}

	key, err := core.ClientKey(req)
	if err != nil {
		log.Debug("rejecting upgrade", zap.Error(err))
		s.metrics.HandshakeFailures.Inc()
		_ = writeHTTPResponse(conn, http.StatusBadRequest, "text/plain; charset=utf-8", []byte(err.Error()+"\n"))
		_ = conn.Close()
		return
	}

	_ = conn.SetReadDeadline(time.Time{})
	if err := core.WriteHandshakeResponse(conn, key); err != nil {
		log.Debug("writing handshake response failed", zap.Error(err))
		s.metrics.HandshakeFailures.Inc()
		_ = conn.Close()
		return
	}

	// Frames the client pipelined behind the request head.
	var leftover []byte
	if n := br.Buffered(); n > 0 {
		peek, _ := br.Peek(n)
		leftover = append([]byte(nil), peek...)
	}

	tr := transport.NewNetConn(conn, func(err error) {
		log.Debug("socket write failed", zap.Error(err))
	})
	c := protocol.NewConnection(tr,
		protocol.WithMaxMessageSize(s.cfg.MaxMessageSize),
		protocol.WithStats(s.metrics),
		protocol.WithLogger(s.logger),
	)
	s.metrics.Opened()
	log.Debug("connection upgraded", zap.String("conn_id", c.ID()))

	if !s.loop.Post(func() { s.open(c, leftover) }) {
		c.Terminate()
		return
	}
	s.readLoop(c, conn)
}

// open runs on the loop: register, let the handler attach observers, then
// feed whatever arrived with the handshake.
func (s *Server) open(c *protocol.Connection, leftover []byte) {
	if s.closing.Load() {
		// Upgraded after the shutdown sweep.
		_ = c.Close(core.CloseGoingAway, "going away")
		return
	}
	if err := s.registry.Add(c); err != nil {
		s.logger.Warn("registering connection failed", zap.String("conn_id", c.ID()), zap.Error(err))
		c.Terminate()
		return
	}
	s.runHandler(c)
	if len(leftover) > 0 {
		c.Feed(leftover)
	}
}

// runHandler calls the connection handler, logging a panic instead of
// letting it skip the rest of open.
func (s *Server) runHandler(c *protocol.Connection) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection handler panicked", zap.String("conn_id", c.ID()), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	s.handler(c)
}

// readLoop posts every chunk read from conn to the loop until the socket
// fails, then reports the abrupt end.
func (s *Server) readLoop(c *protocol.Connection, conn net.Conn) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.loop.Post(func() { c.Feed(chunk) })
		}
		if err != nil {
			if !s.loop.Post(c.Terminate) {
				c.Terminate()
			}
			return
		}
	}
}

func writeHTTPResponse(w io.Writer, status int, contentType string, body []byte) error {
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	resp.Header.Set("Content-Type", contentType)
	return resp.Write(w)
}
