// Package protocol encodes and decodes datagram packet headers and control messages.
//
// Every packet starts with a big-endian uint32 whose low 16 bits hold the
// total packet length and whose high bits hold flags. Data, ACK and
// unreliable packets follow it with a big-endian uint32 sequence number;
// control packets follow it with a one-byte command.
package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the size of a data/ACK/unreliable packet header.
	HeaderSize = 8
	// ControlHeaderSize is the length word plus the command byte.
	ControlHeaderSize = 5

	// MaxMessageSize bounds one reliable message.
	MaxMessageSize = 64000
	// MaxDatagram bounds the payload of one packet.
	MaxDatagram = 32000
	// MaxPacketSize bounds a whole packet on the wire.
	MaxPacketSize = HeaderSize + MaxDatagram
)

// Flags occupy the high bits of the length word.
type Flags uint32

const (
	FlagData       Flags = 0x00010000
	FlagAck        Flags = 0x00020000
	FlagNak        Flags = 0x00040000 // reserved, never sent
	FlagEOM        Flags = 0x00080000
	FlagUnreliable Flags = 0x00100000
	FlagCtl        Flags = 0x80000000

	LengthMask uint32 = 0x0000ffff

	ignoreWord uint32 = 0xffffffff
)

func (f Flags) String() string {
	var parts []string
	for _, fl := range []struct {
		bit  Flags
		name string
	}{
		{FlagData, "DATA"}, {FlagAck, "ACK"}, {FlagNak, "NAK"},
		{FlagEOM, "EOM"}, {FlagUnreliable, "UNRELIABLE"}, {FlagCtl, "CTL"},
	} {
		if f&fl.bit != 0 {
			parts = append(parts, fl.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%x", uint32(f))
	}
	return strings.Join(parts, "|")
}

// Header is a decoded data/ACK/unreliable header.
type Header struct {
	Flags    Flags
	Length   int // total packet length including the header
	Sequence uint32
}

// PutHeader writes an 8-byte header into b.
func PutHeader(b []byte, flags Flags, length int, seq uint32) {
	binary.BigEndian.PutUint32(b[0:4], uint32(length)|uint32(flags))
	binary.BigEndian.PutUint32(b[4:8], seq)
}

// AppendPacket appends a complete packet to dst.
func AppendPacket(dst []byte, flags Flags, seq uint32, payload []byte) []byte {
	var hdr [HeaderSize]byte
	PutHeader(hdr[:], flags, HeaderSize+len(payload), seq)
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// ParseHeader decodes the header of p.
// p shorter than a header yields ErrShortPacket; a length field above
// MaxPacketSize yields ErrPacketTooLarge; a length field larger than p
// yields ErrLengthMismatch.
func ParseHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	word := binary.BigEndian.Uint32(p[0:4])
	h := Header{
		Flags:    Flags(word &^ LengthMask),
		Length:   int(word & LengthMask),
		Sequence: binary.BigEndian.Uint32(p[4:8]),
	}
	if h.Length > MaxPacketSize {
		return h, ErrPacketTooLarge
	}
	if h.Length < HeaderSize || h.Length > len(p) {
		return h, ErrLengthMismatch
	}
	return h, nil
}

// Payload returns the bytes following the header, bounded by h.Length.
func (h Header) Payload(p []byte) []byte {
	return p[HeaderSize:h.Length]
}

// IsControl reports whether p carries the CTL flag.
func IsControl(p []byte) bool {
	return len(p) >= 4 && Flags(binary.BigEndian.Uint32(p[0:4]))&FlagCtl != 0
}
