package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Command is a control packet command byte.
type Command byte

const (
	CmdConnect    Command = 0x01
	CmdServerInfo Command = 0x02
	CmdPlayerInfo Command = 0x03
	CmdRuleInfo   Command = 0x04
	CmdRcon       Command = 0x05

	CmdAccept         Command = 0x81
	CmdReject         Command = 0x82
	CmdServerInfoResp Command = 0x83
	CmdPlayerInfoResp Command = 0x84
	CmdRuleInfoResp   Command = 0x85
	CmdRconResp       Command = 0x86
)

// String returns a human-readable name for the command.
func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "CONNECT"
	case CmdServerInfo:
		return "SERVER_INFO"
	case CmdPlayerInfo:
		return "PLAYER_INFO"
	case CmdRuleInfo:
		return "RULE_INFO"
	case CmdRcon:
		return "RCON"
	case CmdAccept:
		return "ACCEPT"
	case CmdReject:
		return "REJECT"
	case CmdServerInfoResp:
		return "SERVER_INFO_REPLY"
	case CmdPlayerInfoResp:
		return "PLAYER_INFO_REPLY"
	case CmdRuleInfoResp:
		return "RULE_INFO_REPLY"
	case CmdRconResp:
		return "RCON_REPLY"
	default:
		return "Unknown"
	}
}

// Writer builds one control packet.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a control packet for cmd.
func NewWriter(cmd Command) *Writer {
	w := &Writer{}
	w.buf.Write([]byte{0, 0, 0, 0})
	w.buf.WriteByte(byte(cmd))
	return w
}

// WriteByte appends one byte.
func (w *Writer) WriteByte(b byte) error {
	return w.buf.WriteByte(b)
}

// WriteLong appends a big-endian int32.
func (w *Writer) WriteLong(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

// WriteString appends s and a NUL terminator.
func (w *Writer) WriteString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// Bytes finalizes the length word and returns the packet. A packet longer
// than MaxPacketSize is cut to that size so the length never spills into
// the flag bits.
func (w *Writer) Bytes() []byte {
	p := w.buf.Bytes()
	if len(p) > MaxPacketSize {
		p = p[:MaxPacketSize]
	}
	binary.BigEndian.PutUint32(p[0:4], uint32(len(p))&LengthMask|uint32(FlagCtl))
	return p
}

// Reader walks the fields of a control packet. Errors are sticky: after
// the first short read every call returns a zero value and Err reports it.
type Reader struct {
	data []byte
	off  int
	err  error
}

// ParseControl validates the framing of a control packet and returns its
// command and a reader positioned after it.
func ParseControl(p []byte) (Command, *Reader, error) {
	if len(p) < 4 {
		return 0, nil, ErrShortPacket
	}
	word := binary.BigEndian.Uint32(p[0:4])
	if word == ignoreWord {
		return 0, nil, ErrIgnore
	}
	if Flags(word&^LengthMask) != FlagCtl {
		return 0, nil, ErrNotControl
	}
	if int(word&LengthMask) != len(p) {
		return 0, nil, ErrLengthMismatch
	}
	if len(p) < ControlHeaderSize {
		return 0, nil, ErrShortPacket
	}
	return Command(p[4]), &Reader{data: p, off: ControlHeaderSize}, nil
}

// Err returns the first read error.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.Remaining() < 1 {
		r.err = errors.Wrap(ErrShortPacket, "read byte")
		return 0, r.err
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

// ReadLong reads a big-endian int32.
func (r *Reader) ReadLong() int32 {
	if r.err != nil {
		return 0
	}
	if r.Remaining() < 4 {
		r.err = errors.Wrap(ErrShortPacket, "read long")
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return v
}

// ReadString reads up to a NUL terminator or the end of the packet.
func (r *Reader) ReadString() string {
	if r.err != nil {
		return ""
	}
	if r.Remaining() < 1 {
		r.err = errors.Wrap(ErrShortPacket, "read string")
		return ""
	}
	rest := r.data[r.off:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		r.off += i + 1
		return string(rest[:i])
	}
	r.off = len(r.data)
	return string(rest)
}

// readU8 is ReadByte for decoders that check Err once at the end.
func (r *Reader) readU8() byte {
	b, _ := r.ReadByte()
	return b
}
