// File: internal/session/registry.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe connection registry.

package session

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/momentics/sheets-ws/api"
	core "github.com/momentics/sheets-ws/core/protocol"
	"github.com/momentics/sheets-ws/protocol"
)

var (
	// ErrAlreadyRegistered is returned when a connection id is added twice.
	ErrAlreadyRegistered = errors.New("connection already registered")
	// ErrNotOpen is returned when adding a connection that is already closed.
	ErrNotOpen = errors.New("connection is not open")
)

// Registry maps connection ids to live connections.
type Registry struct {
	shards []*registryShard
	mask   uint32
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*protocol.Connection
}

// NewRegistry constructs a registry with shardCount shards, rounded up to
// a power of two.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*registryShard, m)
	for i := range shards {
		shards[i] = &registryShard{conns: make(map[string]*protocol.Connection)}
	}
	return &Registry{shards: shards, mask: m - 1}
}

// shard picks the correct shard for a given id.
func (r *Registry) shard(id string) *registryShard {
	return r.shards[fnv32(id)&r.mask]
}

// Add registers c. The entry is removed automatically when c closes, on
// every close path including abrupt socket loss.
func (r *Registry) Add(c *protocol.Connection) error {
	if c.Closed() {
		return ErrNotOpen
	}
	sh := r.shard(c.ID())
	sh.mu.Lock()
	if _, ok := sh.conns[c.ID()]; ok {
		sh.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.ID())
	}
	sh.conns[c.ID()] = c
	sh.mu.Unlock()

	c.OnRelease(func() { r.remove(c) })
	return nil
}

// Remove drops the entry for id. Reports whether it was present.
func (r *Registry) Remove(id string) bool {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[id]; !ok {
		return false
	}
	delete(sh.conns, id)
	return true
}

// remove drops c only if the entry still points at it.
func (r *Registry) remove(c *protocol.Connection) {
	sh := r.shard(c.ID())
	sh.mu.Lock()
	if cur, ok := sh.conns[c.ID()]; ok && cur == c {
		delete(sh.conns, c.ID())
	}
	sh.mu.Unlock()
}

// Get fetches a connection if present.
func (r *Registry) Get(id string) (*protocol.Connection, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.conns[id]
	return c, ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// ForEach applies fn to a snapshot of the registered connections. fn runs
// without registry locks held, so it may close connections or call Remove.
func (r *Registry) ForEach(fn func(*protocol.Connection)) {
	for _, c := range r.snapshot() {
		fn(c)
	}
}

func (r *Registry) snapshot() []*protocol.Connection {
	var out []*protocol.Connection
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Broadcast encodes v once (string as TEXT, []byte as BINARY) and queues it
// to every registered connection. Returns the number of peers reached.
// Connections that closed in the meantime are skipped.
func (r *Registry) Broadcast(v any) (int, error) {
	var op core.Opcode
	var payload []byte
	switch p := v.(type) {
	case string:
		op, payload = core.OpcodeText, []byte(p)
	case []byte:
		op, payload = core.OpcodeBinary, p
	default:
		return 0, fmt.Errorf("%w: cannot broadcast %T, must be string or []byte", api.ErrInvalidArgument, v)
	}
	raw, err := core.EncodeFrame(op, payload)
	if err != nil {
		return 0, err
	}

	sent := 0
	r.ForEach(func(c *protocol.Connection) {
		if c.SendEncoded(op, raw) == nil {
			sent++
		}
	})
	return sent, nil
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
