// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"time"

	"github.com/momentics/sheets-ws/protocol"
)

// ErrAlreadyRunning is returned when Serve is called twice.
var ErrAlreadyRunning = errors.New("server already running")

// Handler is called on the event loop for every upgraded connection, before
// any of its frames are dispatched. It typically registers OnData and
// OnClose observers.
type Handler func(c *protocol.Connection)

// Config holds all server-side configuration parameters.
type Config struct {
	Addr             string        // TCP bind address, e.g. "localhost:8000"
	MaxMessageSize   uint64        // largest accepted frame payload (0 = codec limit)
	ReadBufferSize   int           // socket read chunk size
	RegistryShards   int           // shard count of the connection registry
	LoopBatchSize    int           // tasks drained per event loop cycle
	HandshakeTimeout time.Duration // deadline for reading the request head (0 = none)
	ShutdownTimeout  time.Duration // grace period for close frames on shutdown
	IndexPage        []byte        // body served to plain HTTP requests
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:             "localhost:8000",
		MaxMessageSize:   16 << 20,
		ReadBufferSize:   4096,
		RegistryShards:   16,
		LoopBatchSize:    64,
		HandshakeTimeout: 10 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		IndexPage:        []byte(defaultIndexPage),
	}
}

const defaultIndexPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>sheets-ws</title></head>
<body><p>sheets-ws is running. Connect a WebSocket client to this address.</p></body>
</html>
`
