package protocol_test

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/momentics/sheets-ws/core/protocol"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestAcceptKeyRFCVector(t *testing.T) {
	assert.Equal(t, protocol.AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="), "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=")
}

func TestWriteHandshakeResponse(t *testing.T) {
	var buf bytes.Buffer
	assert.NilError(t, protocol.WriteHandshakeResponse(&buf, "dGhlIHNhbXBsZSBub25jZQ=="))
	want := "HTTP/1.1 101 Web Socket Protocol Handshake\r\n" +
		"Upgrade: WebSocket\r\n" +
		"Connection: Upgrade\r\n" +
		"sec-websocket-accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n\r\n"
	assert.Equal(t, buf.String(), want)
}

func readRequest(t *testing.T, raw string) *http.Request {
	t.Helper()
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	assert.NilError(t, err)
	return req
}

func TestIsUpgradeRequest(t *testing.T) {
	upgrade := readRequest(t, "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: WebSocket\r\nConnection: keep-alive, Upgrade\r\nSec-WebSocket-Key: abc\r\n\r\n")
	assert.Check(t, protocol.IsUpgradeRequest(upgrade))
	key, err := protocol.ClientKey(upgrade)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(key, "abc"))

	plain := readRequest(t, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	assert.Check(t, !protocol.IsUpgradeRequest(plain))
	_, err = protocol.ClientKey(plain)
	assert.Check(t, is.ErrorIs(err, protocol.ErrMissingWebSocketKey))
}
