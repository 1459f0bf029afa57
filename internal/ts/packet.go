// Package ts carries MPEG transport stream packets through the gateway and
// decodes the fixed 4-byte header plus the optional adaptation-field length.
package ts

import (
	"errors"
	"time"
)

const (
	// PacketSize is the fixed MPEG-TS packet length.
	PacketSize = 188
	// SyncByte starts every TS packet.
	SyncByte = 0x47
	// MaxPID is the largest 13-bit packet identifier.
	MaxPID = 0x1FFF
)

// Scrambling-control values from bits 7..6 of header byte 3.
const (
	ScramblingNone     = 0x0
	ScramblingReserved = 0x1
	ScramblingEven     = 0x2
	ScramblingOdd      = 0x3
)

var (
	// ErrHeaderTooShort is returned when fewer than 5 bytes are available
	// to decode the header and a possible adaptation-field length.
	ErrHeaderTooShort = errors.New("ts: header too short")
	// ErrAdaptationLength is returned for adaptation fields that would
	// leave no room for the field itself (length >= 183).
	ErrAdaptationLength = errors.New("ts: invalid adaptation field length")
)

// Header is the decoded fixed header of a TS packet.
//
// Layout of the bytes consumed:
//
//	b[0]     sync byte (not validated here; framing owns sync)
//	b[1..2]  TEI | PUSI | priority | PID(13)
//	b[3]     scrambling(2) | adaptation_field_control(2) | continuity(4)
//	b[4]     adaptation_field_length, only when an adaptation field is present
type Header struct {
	PID           uint16
	HasPayload    bool
	HasAdaptation bool
	Scrambling    uint8
	// Size is the number of bytes before the payload: 4 without an
	// adaptation field, 5+af_length with one.
	Size int
}

// ParseHeader decodes the first bytes of a TS packet. It needs 5 bytes even
// when no adaptation field is present so that malformed truncated packets are
// rejected up front.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 5 {
		return Header{}, ErrHeaderTooShort
	}
	afc := (b[3] >> 4) & 0x03
	h := Header{
		PID:           uint16(b[1]&0x1F)<<8 | uint16(b[2]),
		HasPayload:    afc == 1 || afc == 3,
		HasAdaptation: afc == 2 || afc == 3,
		Scrambling:    b[3] >> 6 & 0x03,
		Size:          4,
	}
	if h.HasAdaptation {
		afLen := int(b[4])
		if afLen >= PacketSize-5 {
			return Header{}, ErrAdaptationLength
		}
		h.Size = 5 + afLen
	}
	return h, nil
}

// Packet is one 188-byte TS packet plus arrival metadata. The backing buffer
// may be shared with other consumers of the same input; callers must go
// through Writable before mutating it.
type Packet struct {
	Data []byte
	When time.Time

	writable bool
}

// New wraps a shared, read-only buffer.
func New(data []byte) *Packet {
	return &Packet{Data: data}
}

// NewWritable wraps a buffer the caller exclusively owns.
func NewWritable(data []byte) *Packet {
	return &Packet{Data: data, writable: true}
}

// Writable returns a packet whose buffer is exclusively owned: the receiver
// itself when already exclusive, otherwise a copy. Metadata is carried over.
func (p *Packet) Writable() *Packet {
	if p.writable {
		return p
	}
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &Packet{Data: data, When: p.When, writable: true}
}

// PID decodes the 13-bit packet identifier without a full header parse.
func (p *Packet) PID() uint16 {
	if len(p.Data) < 3 {
		return MaxPID
	}
	return uint16(p.Data[1]&0x1F)<<8 | uint16(p.Data[2])
}

// Scrambling returns the 2-bit scrambling-control field.
func (p *Packet) Scrambling() uint8 {
	if len(p.Data) < 4 {
		return ScramblingNone
	}
	return p.Data[3] >> 6 & 0x03
}

// ClearScrambling zeroes the scrambling-control bits, marking the payload as
// cleartext. The packet must be writable.
func (p *Packet) ClearScrambling() {
	if len(p.Data) >= 4 {
		p.Data[3] &^= 0xC0
	}
}
