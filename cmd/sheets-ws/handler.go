// File: cmd/sheets-ws/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection behaviour of the sample application.

package main

import (
	"go.uber.org/zap"

	"github.com/momentics/sheets-ws/internal/config"
	"github.com/momentics/sheets-ws/protocol"
	"github.com/momentics/sheets-ws/server"
)

// hub fans a message out to every open connection.
type hub interface {
	Broadcast(v any) (int, error)
}

type hubFunc func(v any) (int, error)

func (f hubFunc) Broadcast(v any) (int, error) { return f(v) }

// newHandler returns the per-connection behaviour for mode: echo replies to
// the sender only, broadcast relays to every connected peer including the
// sender.
func newHandler(mode string, h hub, log *zap.Logger) server.Handler {
	return func(c *protocol.Connection) {
		clog := log.With(zap.String("conn_id", c.ID()), zap.String("remote", c.RemoteAddr()))
		clog.Info("client connected")

		c.OnClose(func(code uint16, reason string) {
			clog.Info("client disconnected", zap.Uint16("code", code), zap.String("reason", reason))
		})
		c.OnData(func(m protocol.Message) {
			var v any = m.Payload
			if m.IsText() {
				v = m.Text()
			}
			if mode == config.ModeEcho {
				if err := c.Send(v); err != nil {
					clog.Debug("echo failed", zap.Error(err))
				}
				return
			}
			n, err := h.Broadcast(v)
			if err != nil {
				clog.Warn("broadcast failed", zap.Error(err))
				return
			}
			clog.Debug("relayed message", zap.Int("peers", n), zap.Int("bytes", len(m.Payload)))
		})
	}
}
