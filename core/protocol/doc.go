// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the wire-level core of the WebSocket protocol (RFC 6455 subset)
// used by sheets-ws.
//
// Includes:
//   - Sec-WebSocket-Accept computation and the fixed 101 handshake response
//   - Incremental frame decoding over a growing receive buffer
//   - Unmasked server-to-client frame encoding with three-tier lengths
//   - Close payload parsing and construction
//
// Everything here is pure: no I/O, no state beyond the input slices.
// Fragmented messages are not supported; the FIN bit is never consulted.
package protocol
