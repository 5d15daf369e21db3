// File: core/protocol/handshake.go
// Package protocol implements the server side of the opening handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Only the parts the server needs: recognising an upgrade request, pulling
// the client key, computing Sec-WebSocket-Accept and writing the fixed 101
// response. Version and subprotocol negotiation are not performed.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Constants used for handshake processing.
const (
	WebSocketGUID         = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection      = "Connection"
	HeaderUpgrade         = "Upgrade"
	HeaderSecWebSocketKey = "Sec-WebSocket-Key"

	handshakeStatusLine = "HTTP/1.1 101 Web Socket Protocol Handshake\r\n"
)

// ErrMissingWebSocketKey is returned for upgrade requests without a key.
var ErrMissingWebSocketKey = errors.New("protocol: missing Sec-WebSocket-Key header")

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HandshakeResponse returns the complete 101 response for accept.
func HandshakeResponse(accept string) []byte {
	var sb strings.Builder
	sb.WriteString(handshakeStatusLine)
	sb.WriteString("Upgrade: WebSocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("sec-websocket-accept: ")
	sb.WriteString(accept)
	sb.WriteString("\r\n\r\n")
	return []byte(sb.String())
}

// WriteHandshakeResponse computes the accept value for key and writes the
// 101 response to w.
func WriteHandshakeResponse(w io.Writer, key string) error {
	_, err := w.Write(HandshakeResponse(AcceptKey(key)))
	return err
}

// IsUpgradeRequest reports whether req asks to switch to WebSocket.
func IsUpgradeRequest(req *http.Request) bool {
	return headerContainsToken(req.Header, HeaderUpgrade, "websocket") &&
		headerContainsToken(req.Header, HeaderConnection, "upgrade")
}

// ClientKey returns the Sec-WebSocket-Key of req.
func ClientKey(req *http.Request) (string, error) {
	key := strings.TrimSpace(req.Header.Get(HeaderSecWebSocketKey))
	if key == "" {
		return "", ErrMissingWebSocketKey
	}
	return key, nil
}

// headerContainsToken checks if headerName contains the given token (case-insensitive).
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h.Values(headerName) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
