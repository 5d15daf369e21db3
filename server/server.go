// File: server/server.go
// Package server accepts TCP connections, performs the WebSocket opening
// handshake and drives every upgraded connection from one event loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine layout: one accept loop, one event loop, one reader per socket
// and one writer per socket (owned by transport.NetConn). Readers only post
// chunks to the loop; all frame decoding and observer callbacks run there.

package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/sheets-ws/control"
	"github.com/momentics/sheets-ws/core/concurrency"
	core "github.com/momentics/sheets-ws/core/protocol"
	"github.com/momentics/sheets-ws/internal/session"
	"github.com/momentics/sheets-ws/protocol"
	"github.com/momentics/sheets-ws/transport/tcp"
)

// Server is the WebSocket server facade.
type Server struct {
	cfg      *Config
	handler  Handler
	logger   *zap.Logger
	metrics  *control.Metrics
	loop     *concurrency.EventLoop
	registry *session.Registry

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup

	// closing is set on the loop before the 1001 sweep.
	closing atomic.Bool
}

// New builds a Server that hands every upgraded connection to handler.
func New(handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     DefaultConfig(),
		handler: handler,
		logger:  zap.NewNop(),
		conns:   make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.handler == nil {
		s.handler = func(*protocol.Connection) {}
	}
	if s.metrics == nil {
		// Unregistered collectors keep the call sites unconditional.
		s.metrics = control.NewMetrics(nil)
	}
	if s.cfg.ReadBufferSize <= 0 {
		s.cfg.ReadBufferSize = 4096
	}
	s.registry = session.NewRegistry(s.cfg.RegistryShards)
	s.loop = concurrency.NewEventLoop(s.cfg.LoopBatchSize)
	s.loop.OnPanic(func(r any) {
		s.logger.Error("event loop task panicked", zap.Any("panic", r), zap.Stack("stack"))
	})
	return s
}

// Listen is the caller entry point: it serves WebSocket connections on addr
// until ctx is cancelled, calling onConnection for each of them.
func Listen(ctx context.Context, addr string, onConnection Handler, opts ...ServerOption) error {
	opts = append(opts, WithAddr(addr))
	return New(onConnection, opts...).ListenAndServe(ctx)
}

// ListenAndServe opens the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := tcp.Listen(ctx, s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or accepting fails.
// On return every connection has been closed with 1001 and the loop stopped.
// Cancellation is a clean shutdown and yields a nil error.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Stopped explicitly by shutdown, after connections were closed.
		_ = s.loop.Run(context.Background())
		return nil
	})
	g.Go(func() error {
		defer s.shutdown()
		return s.acceptLoop(gctx, ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = ln.Close()
		return nil
	})
	err := g.Wait()
	s.logger.Info("server stopped", zap.Error(err))
	return err
}

// Broadcast queues v (string as TEXT, []byte as BINARY) to every registered
// connection and returns how many were reached. Safe from any goroutine.
func (s *Server) Broadcast(v any) (int, error) {
	return s.registry.Broadcast(v)
}

// Do runs fn on the event loop. Returns false once the server has stopped.
func (s *Server) Do(fn func()) bool {
	return s.loop.Post(fn)
}

// Call runs fn on the event loop and waits for it to finish. It must not be
// called from an observer.
func (s *Server) Call(ctx context.Context, fn func()) error {
	return s.loop.Call(ctx, fn)
}

// Registry exposes the set of open connections.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go s.serveConn(conn)
	}
}

// track records a raw socket so shutdown can force it closed. It fails once
// shutdown has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.mu.Unlock()
	s.wg.Done()
}

// shutdown closes every connection with 1001, waits up to ShutdownTimeout for
// the sockets to go away, then force-closes the rest and stops the loop.
func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.loop.Call(ctx, func() {
		s.closing.Store(true)
		n := 0
		s.registry.ForEach(func(c *protocol.Connection) {
			if c.Close(core.CloseGoingAway, "going away") == nil {
				n++
			}
		})
		s.logger.Info("closing connections", zap.Int("count", n))
	})
	if err != nil {
		s.closing.Store(true)
		s.logger.Warn("close on shutdown did not complete", zap.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}

	s.mu.Lock()
	remaining := s.conns
	s.conns = nil
	s.mu.Unlock()
	for conn := range remaining {
		_ = conn.Close()
	}
	<-drained
	s.loop.Stop()
}
