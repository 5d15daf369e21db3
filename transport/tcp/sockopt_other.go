//go:build !linux
// +build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp - portable fallback for non-Linux platforms.

package tcp

import (
	"net"
	"syscall"
)

func controlListener(network, address string, c syscall.RawConn) error {
	return nil
}

func tuneConn(conn *net.TCPConn) error {
	return conn.SetNoDelay(true)
}
