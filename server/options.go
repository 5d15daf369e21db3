// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/sheets-ws/control"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithAddr sets the address used by ListenAndServe.
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.cfg.Addr = addr
	}
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches Prometheus accounting.
func WithMetrics(m *control.Metrics) ServerOption {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMaxMessageSize caps the declared payload length of inbound frames.
func WithMaxMessageSize(n uint64) ServerOption {
	return func(s *Server) {
		s.cfg.MaxMessageSize = n
	}
}

// WithReadBufferSize sets the socket read chunk size.
func WithReadBufferSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.cfg.ReadBufferSize = n
		}
	}
}

// WithIndexPage sets the HTML served to non-upgrade requests.
func WithIndexPage(page []byte) ServerOption {
	return func(s *Server) {
		s.cfg.IndexPage = page
	}
}

// WithShutdownTimeout bounds how long shutdown waits for close frames to flush.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.cfg.ShutdownTimeout = d
	}
}
