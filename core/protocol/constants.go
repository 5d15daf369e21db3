// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

import "strconv"

// Opcode is the 4-bit frame type carried in the low nibble of byte 0.
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// Known reports whether op is one of the opcodes the engine dispatches.
// Continuation is deliberately absent: fragmented messages are unsupported.
func (op Opcode) Known() bool {
	switch op {
	case OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	}
	return "unknown(" + strconv.Itoa(int(op)) + ")"
}

const (
	// Frame header bits
	FinBit     = 0x80
	MaskBit    = 0x80
	OpcodeMask = 0x0F
	LengthMask = 0x7F

	// Length tier markers
	MaxSmallPayloadLen = 125
	Len16Marker        = 126
	Len64Marker        = 127

	MaskKeyLen = 4

	// Close codes
	CloseNormalClosure     = 1000
	CloseGoingAway         = 1001
	CloseProtocolError     = 1002
	CloseNoStatusRcvd      = 1005
	CloseAbnormalClosure   = 1006
	CloseMessageTooBig     = 1009
	CloseInternalServerErr = 1011
)
