// File: core/protocol/frame_codec.go
// Package protocol implements the incremental frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Decoding works over a receive buffer that may hold zero, one or several
// frames plus a partial tail. Encoding always produces a single final,
// unmasked frame as required for server-to-client traffic.

package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	// ErrMessageTooBig is returned by DecodeFrame when a 64-bit length has a
	// nonzero high word. Connections answer it with CloseMessageTooBig.
	ErrMessageTooBig = errors.New("protocol: frame length exceeds 32 bits")

	// ErrPayloadTooLarge is returned by the encoders for payloads of 4 GiB or more.
	ErrPayloadTooLarge = errors.New("protocol: payload too large to encode")
)

// extendedLengthMinBuffered is the amount of data that must be buffered
// before an extended length is looked at.
const extendedLengthMinBuffered = 8

// Frame is a decoded frame with its payload already unmasked.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// CloseStatus returns the status code and reason of a CLOSE frame.
// ok is false for other opcodes and for CLOSE frames without a code.
func (f *Frame) CloseStatus() (code uint16, reason string, ok bool) {
	if f.Opcode != OpcodeClose {
		return 0, "", false
	}
	return ParseClosePayload(f.Payload)
}

// Header describes the fixed part of a frame.
type Header struct {
	Opcode Opcode
	// Length is the declared payload length.
	Length uint64
	// Size is the number of bytes before the mask key.
	Size int
}

// ParseHeader reads the frame header at the start of raw.
// ok is false when more bytes are needed; nothing is consumed in that case.
func ParseHeader(raw []byte) (h Header, ok bool, err error) {
	if len(raw) < 2 {
		return h, false, nil
	}
	h.Opcode = Opcode(raw[0] & OpcodeMask)
	h.Length = uint64(raw[1] & LengthMask)
	h.Size = 2

	if h.Length <= MaxSmallPayloadLen {
		return h, true, nil
	}
	if len(raw) < extendedLengthMinBuffered {
		return h, false, nil
	}
	switch h.Length {
	case Len16Marker:
		h.Length = uint64(binary.BigEndian.Uint16(raw[2:]))
		h.Size = 4
	case Len64Marker:
		if len(raw) < 10 {
			return h, false, nil
		}
		if binary.BigEndian.Uint32(raw[2:]) != 0 {
			return h, false, ErrMessageTooBig
		}
		h.Length = uint64(binary.BigEndian.Uint32(raw[6:]))
		h.Size = 10
	}
	return h, true, nil
}

// DecodeFrame extracts the first complete frame from raw.
// Returns frame, consumed bytes, and error.
// If the frame is incomplete, returns (nil, 0, nil) and raw must be kept.
func DecodeFrame(raw []byte) (*Frame, int, error) {
	h, ok, err := ParseHeader(raw)
	if err != nil || !ok {
		return nil, 0, err
	}

	offset := h.Size
	end := uint64(offset) + MaskKeyLen + h.Length
	if uint64(len(raw)) < end {
		return nil, 0, nil
	}

	var key [MaskKeyLen]byte
	copy(key[:], raw[offset:offset+MaskKeyLen])
	offset += MaskKeyLen

	payload := make([]byte, h.Length)
	copy(payload, raw[offset:end])
	Unmask(key, payload)

	return &Frame{Opcode: h.Opcode, Payload: payload}, int(end), nil
}

// Unmask XORs data in place with key. Applying it twice restores the input.
func Unmask(key [MaskKeyLen]byte, data []byte) {
	for i := range data {
		data[i] ^= key[i%MaskKeyLen]
	}
}

// EncodeFrame serializes a final, unmasked frame.
func EncodeFrame(op Opcode, payload []byte) ([]byte, error) {
	return encode(op, payload, nil)
}

// EncodeMaskedFrame serializes a final frame masked with key, the way a
// client sends it. payload is left untouched.
func EncodeMaskedFrame(op Opcode, payload []byte, key [MaskKeyLen]byte) ([]byte, error) {
	return encode(op, payload, &key)
}

func encode(op Opcode, payload []byte, key *[MaskKeyLen]byte) ([]byte, error) {
	n := len(payload)
	if uint64(n) > math.MaxUint32 {
		return nil, ErrPayloadTooLarge
	}

	hdrLen := 2
	switch {
	case n < Len16Marker:
	case n < 1<<16:
		hdrLen += 2
	default:
		hdrLen += 8
	}
	maskLen := 0
	var maskBit byte
	if key != nil {
		maskLen = MaskKeyLen
		maskBit = MaskBit
	}

	buf := make([]byte, hdrLen+maskLen+n)
	buf[0] = FinBit | byte(op)&OpcodeMask
	switch hdrLen {
	case 2:
		buf[1] = maskBit | byte(n)
	case 4:
		buf[1] = maskBit | Len16Marker
		binary.BigEndian.PutUint16(buf[2:], uint16(n))
	default:
		buf[1] = maskBit | Len64Marker
		binary.BigEndian.PutUint32(buf[2:], 0)
		binary.BigEndian.PutUint32(buf[6:], uint32(n))
	}

	body := buf[hdrLen+maskLen:]
	copy(body, payload)
	if key != nil {
		copy(buf[hdrLen:], key[:])
		Unmask(*key, body)
	}
	return buf, nil
}
