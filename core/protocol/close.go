// File: core/protocol/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "encoding/binary"

// BuildClosePayload lays out a CLOSE body: big-endian code followed by the
// UTF-8 reason. A zero code means "no status" and yields an empty body.
func BuildClosePayload(code uint16, reason string) []byte {
	if code == 0 {
		return []byte{}
	}
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, code)
	copy(buf[2:], reason)
	return buf
}

// ParseClosePayload is the inverse of BuildClosePayload.
// Bodies shorter than two bytes carry no status and report ok == false.
func ParseClosePayload(p []byte) (code uint16, reason string, ok bool) {
	if len(p) < 2 {
		return 0, "", false
	}
	return binary.BigEndian.Uint16(p), string(p[2:]), true
}
