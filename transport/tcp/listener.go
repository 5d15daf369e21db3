// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"fmt"
	"net"
)

// Listen opens a TCP listener on addr with the platform socket options applied.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlListener}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen on %s: %w", addr, err)
	}
	return &tunedListener{Listener: ln}, nil
}

// tunedListener applies per-connection options to every accepted socket.
type tunedListener struct {
	net.Listener
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		// Best effort; a socket that refuses the option still works.
		_ = tuneConn(tc)
	}
	return conn, nil
}
