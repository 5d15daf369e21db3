// Package fake
// Author: momentics <momentics@gmail.com>
//
// Client-side helpers for driving a server connection in tests.

package fake

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/momentics/sheets-ws/core/protocol"
)

// ClientMaskKey is the fixed key used by ClientFrame.
var ClientMaskKey = [protocol.MaskKeyLen]byte{0xa1, 0xb2, 0xc3, 0xd4}

// ClientFrame encodes a masked frame the way a browser would send it.
func ClientFrame(op protocol.Opcode, payload []byte) []byte {
	raw, err := protocol.EncodeMaskedFrame(op, payload, ClientMaskKey)
	if err != nil {
		panic(err)
	}
	return raw
}

// ClientClose encodes a masked CLOSE frame carrying code and reason.
func ClientClose(code uint16, reason string) []byte {
	return ClientFrame(protocol.OpcodeClose, protocol.BuildClosePayload(code, reason))
}

var errShortFrame = errors.New("fake: truncated server frame")

// DecodeServerFrame parses one unmasked frame written by the server.
func DecodeServerFrame(raw []byte) (*protocol.Frame, int, error) {
	if len(raw) < 2 {
		return nil, 0, errShortFrame
	}
	op := protocol.Opcode(raw[0] & protocol.OpcodeMask)
	length := uint64(raw[1] & protocol.LengthMask)
	offset := 2
	switch length {
	case protocol.Len16Marker:
		if len(raw) < 4 {
			return nil, 0, errShortFrame
		}
		length = uint64(binary.BigEndian.Uint16(raw[2:]))
		offset = 4
	case protocol.Len64Marker:
		if len(raw) < 10 {
			return nil, 0, errShortFrame
		}
		length = binary.BigEndian.Uint64(raw[2:])
		offset = 10
	}
	end := uint64(offset) + length
	if uint64(len(raw)) < end {
		return nil, 0, errShortFrame
	}
	return &protocol.Frame{Opcode: op, Payload: append([]byte(nil), raw[offset:end]...)}, int(end), nil
}

// ReadServerFrame reads one unmasked frame from r.
func ReadServerFrame(r io.Reader) (*protocol.Frame, error) {
	var hdr [10]byte
	if _, err := io.ReadFull(r, hdr[:2]); err != nil {
		return nil, err
	}
	length := uint64(hdr[1] & protocol.LengthMask)
	switch length {
	case protocol.Len16Marker:
		if _, err := io.ReadFull(r, hdr[2:4]); err != nil {
			return nil, err
		}
		length = uint64(binary.BigEndian.Uint16(hdr[2:]))
	case protocol.Len64Marker:
		if _, err := io.ReadFull(r, hdr[2:10]); err != nil {
			return nil, err
		}
		length = binary.BigEndian.Uint64(hdr[2:])
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &protocol.Frame{Opcode: protocol.Opcode(hdr[0] & protocol.OpcodeMask), Payload: payload}, nil
}
