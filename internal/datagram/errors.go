package datagram

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrEmptyMessage    = errors.New("datagram: empty message")
	ErrMessageTooLarge = errors.New("datagram: message too large")
	ErrSendInFlight    = errors.New("datagram: reliable message already in flight")
	ErrConnClosed      = errors.New("datagram: connection closed")
	ErrNoFreeConn      = errors.New("datagram: no free connection slot")
	ErrNotListening    = errors.New("datagram: not listening")
	ErrNoResponse      = errors.New("datagram: no response")
	ErrBadResponse     = errors.New("datagram: bad response")
	ErrReconnect       = errors.New("datagram: peer reconnected")
)

// RejectError carries the reason a server refused a connection.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("connection rejected: %s", e.Reason)
}

// ProtocolError is a framing violation that ends a connection.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "datagram protocol error: " + e.Msg
}
