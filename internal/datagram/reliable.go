package datagram

import (
	"net/netip"

	"github.com/LemmyAI/netgame/internal/protocol"
	"github.com/LemmyAI/netgame/internal/transport"
)

// SendMessage starts sending a reliable message. Only one message may be
// in flight; CanSendMessage reports when the next one is allowed.
// A write failure is returned and left to retransmission.
func (c *Conn) SendMessage(data []byte) error {
	switch {
	case c.state != stateActive:
		return ErrConnClosed
	case len(data) == 0:
		return ErrEmptyMessage
	case len(data) > protocol.MaxMessageSize:
		return ErrMessageTooLarge
	case !c.canSend:
		return ErrSendInFlight
	}

	c.sendBuf = append(c.sendBuf[:0], data...)
	c.canSend = false
	c.stats.MessagesSent++
	c.stats.PacketsSent++

	seq := c.sendSequence
	c.sendSequence++
	return c.writeFragment(seq)
}

// CanSendMessage flushes a pending fragment and reports whether a new
// reliable message may be sent.
func (c *Conn) CanSendMessage() bool {
	if c.state != stateActive {
		return false
	}
	if c.sendNext {
		if err := c.sendNextFragment(); err != nil {
			c.log.WithError(err).Warn("send next fragment failed")
		}
	}
	return c.canSend
}

// writeFragment sends the head of sendBuf as sequence seq.
func (c *Conn) writeFragment(seq uint32) error {
	n := len(c.sendBuf)
	flags := protocol.FlagData
	if n <= c.mtu {
		flags |= protocol.FlagEOM
	} else {
		n = c.mtu
	}

	c.packet = protocol.AppendPacket(c.packet[:0], flags, seq, c.sendBuf[:n])
	c.lastSendTime = c.d.clock.Now()
	return c.write(c.packet)
}

func (c *Conn) sendNextFragment() error {
	c.sendNext = false
	c.stats.PacketsSent++

	seq := c.sendSequence
	c.sendSequence++
	return c.writeFragment(seq)
}

// resend repeats the unacknowledged fragment.
func (c *Conn) resend() error {
	c.sendNext = false
	c.stats.PacketsResent++
	c.log.WithField("seq", c.sendSequence-1).Debug("retransmitting fragment")
	return c.writeFragment(c.sendSequence - 1)
}

func (c *Conn) handlePacket(p []byte, from netip.AddrPort) {
	if c.relearn {
		c.relearn = false
		if transport.CompareAddr(from, c.addr) == transport.AddrSameHost {
			c.log.WithField("new_addr", from.String()).Info("🔁 peer port relearned")
			c.addr = from
			c.setLogger()
		}
	}
	if transport.CompareAddr(from, c.addr) != transport.AddrSame {
		c.stats.ForgedPackets++
		c.log.WithField("from", from.String()).Debug("forged packet dropped")
		return
	}

	if protocol.IsControl(p) {
		return
	}

	h, err := protocol.ParseHeader(p)
	switch err {
	case nil:
	case protocol.ErrPacketTooLarge:
		c.d.drop(c, &ProtocolError{Msg: "packet length exceeds maximum"})
		return
	default:
		c.stats.ShortPackets++
		return
	}

	if h.Flags&(protocol.FlagUnreliable|protocol.FlagAck|protocol.FlagData) == 0 {
		c.log.WithField("flags", h.Flags.String()).Debug("packet without a handled flag dropped")
		return
	}

	c.stats.PacketsReceived++
	c.lastMessageTime = c.d.clock.Now()
	payload := h.Payload(p)

	switch {
	case h.Flags&protocol.FlagUnreliable != 0:
		c.receiveUnreliable(h.Sequence, payload)
	case h.Flags&protocol.FlagAck != 0:
		c.receiveAck(h.Sequence)
	case h.Flags&protocol.FlagData != 0:
		c.receiveData(h, payload)
	}
}

func (c *Conn) receiveAck(seq uint32) {
	if seq != c.sendSequence-1 {
		c.log.WithField("seq", seq).Debug("stale ACK received")
		return
	}
	if seq != c.ackSequence {
		c.log.WithField("seq", seq).Debug("duplicate ACK received")
		return
	}
	c.ackSequence++

	n := len(c.sendBuf)
	if n > c.mtu {
		n = c.mtu
	}
	c.sendBuf = c.sendBuf[:copy(c.sendBuf, c.sendBuf[n:])]

	if len(c.sendBuf) > 0 {
		c.sendNext = true
	} else {
		c.canSend = true
	}
}

func (c *Conn) receiveData(h protocol.Header, payload []byte) {
	var ack [protocol.HeaderSize]byte
	protocol.PutHeader(ack[:], protocol.FlagAck, protocol.HeaderSize, h.Sequence)
	if err := c.write(ack[:]); err != nil {
		c.log.WithError(err).Warn("ACK write failed")
	}

	if h.Sequence != c.receiveSequence {
		c.stats.ReceivedDuplicates++
		return
	}
	c.receiveSequence++

	if len(c.recvBuf)+len(payload) > protocol.MaxMessageSize {
		c.d.drop(c, &ProtocolError{Msg: "reassembled message exceeds maximum"})
		return
	}
	c.recvBuf = append(c.recvBuf, payload...)

	if h.Flags&protocol.FlagEOM == 0 {
		return
	}
	c.stats.MessagesReceived++
	msg := c.recvBuf
	c.recvBuf = c.recvBuf[:0]
	c.deliver(msg, true)
}
