package protocol

import "github.com/pkg/errors"

var (
	ErrShortPacket    = errors.New("protocol: short packet")
	ErrPacketTooLarge = errors.New("protocol: packet exceeds maximum size")
	ErrNotControl     = errors.New("protocol: not a control packet")
	ErrLengthMismatch = errors.New("protocol: length field does not match packet size")
	ErrIgnore         = errors.New("protocol: ignore sentinel")
	ErrUnknownCommand = errors.New("protocol: unknown control command")
)
