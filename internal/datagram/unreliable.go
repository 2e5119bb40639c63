package datagram

import (
	"github.com/LemmyAI/netgame/internal/protocol"
)

// SendUnreliable sends data as one unacknowledged packet. It is not
// gated by an in-flight reliable message.
func (c *Conn) SendUnreliable(data []byte) error {
	if c.state != stateActive {
		return ErrConnClosed
	}
	if len(data) > c.mtu {
		return ErrMessageTooLarge
	}

	c.packet = protocol.AppendPacket(c.packet[:0], protocol.FlagUnreliable, c.unreliableSendSequence, data)
	c.unreliableSendSequence++
	c.stats.UnreliableMessagesSent++
	c.stats.PacketsSent++
	return c.write(c.packet)
}

// receiveUnreliable drops packets older than the last one delivered.
// Gaps are counted but the newer packet is still delivered.
func (c *Conn) receiveUnreliable(seq uint32, payload []byte) {
	if seq < c.unreliableReceiveSequence {
		c.log.WithField("seq", seq).Debug("stale datagram")
		return
	}
	if seq != c.unreliableReceiveSequence {
		dropped := seq - c.unreliableReceiveSequence
		c.stats.DroppedDatagrams += uint64(dropped)
		c.log.WithField("count", dropped).Debug("dropped datagrams")
	}
	c.unreliableReceiveSequence = seq + 1

	c.stats.UnreliableMessagesReceived++
	c.deliver(payload, false)
}
