package datagram

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/protocol"
	"github.com/LemmyAI/netgame/internal/transport"
)

type connState int

const (
	stateFree connState = iota
	stateConnecting
	stateActive
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	default:
		return "free"
	}
}

// Handle identifies a connection record across reuse of its slot.
type Handle struct {
	Index int
	Gen   uint32
}

// Conn is one connection record in the driver's arena.
type Conn struct {
	d     *Driver
	index int
	gen   uint32
	state connState

	id   uuid.UUID
	log  logrus.FieldLogger
	sock transport.Socket
	addr netip.AddrPort
	mtu  int
	mod  protocol.ModInfo

	// Outbound reliable message. sendBuf holds the part not yet acked.
	canSend  bool
	sendNext bool
	sendBuf  []byte

	sendSequence           uint32
	ackSequence            uint32
	unreliableSendSequence uint32

	receiveSequence           uint32
	unreliableReceiveSequence uint32
	recvBuf                   []byte

	// Scratch buffers owned by this connection.
	packet  []byte
	readBuf []byte

	connectTime     time.Time
	lastMessageTime time.Time
	lastSendTime    time.Time

	// relearn lets the first packet on a private socket move the peer port.
	relearn bool

	attempts int
	err      error

	stats Stats
}

func newConn(d *Driver, index int) *Conn {
	return &Conn{
		d:       d,
		index:   index,
		sendBuf: make([]byte, 0, protocol.MaxMessageSize),
		recvBuf: make([]byte, 0, protocol.MaxMessageSize),
		packet:  make([]byte, 0, protocol.MaxPacketSize),
		readBuf: make([]byte, protocol.MaxPacketSize),
	}
}

// reset prepares a free record for a new connection.
func (c *Conn) reset(sock transport.Socket, addr netip.AddrPort, state connState) {
	now := c.d.clock.Now()

	c.gen++
	c.state = state
	c.id = uuid.New()
	c.sock = sock
	c.addr = addr
	c.mtu = c.d.net.DefaultMTU()
	c.mod = protocol.ModInfo{}

	c.canSend = true
	c.sendNext = false
	c.sendBuf = c.sendBuf[:0]
	c.sendSequence = 0
	c.ackSequence = 0
	c.unreliableSendSequence = 0
	c.receiveSequence = 0
	c.unreliableReceiveSequence = 0
	c.recvBuf = c.recvBuf[:0]

	c.connectTime = now
	c.lastMessageTime = now
	c.lastSendTime = now
	c.relearn = false
	c.attempts = 0
	c.err = nil
	c.stats = Stats{}

	c.setLogger()
}

func (c *Conn) setLogger() {
	c.log = c.d.log.WithFields(logrus.Fields{
		"conn": c.id.String()[:8],
		"addr": c.addr.String(),
	})
}

// ID returns the session id assigned when the record was allocated.
func (c *Conn) ID() uuid.UUID { return c.id }

// Handle returns a stable reference to this connection.
func (c *Conn) Handle() Handle { return Handle{Index: c.index, Gen: c.gen} }

// Addr returns the peer address.
func (c *Conn) Addr() netip.AddrPort { return c.addr }

// LocalAddr returns the address of the connection's socket.
func (c *Conn) LocalAddr() netip.AddrPort {
	if c.sock == nil {
		return netip.AddrPort{}
	}
	return c.sock.LocalAddr()
}

// MTU returns the largest fragment payload.
func (c *Conn) MTU() int { return c.mtu }

// Mod returns the peer's protocol variant.
func (c *Conn) Mod() protocol.ModInfo { return c.mod }

// Active reports whether the connection is established.
func (c *Conn) Active() bool { return c.state == stateActive }

// ConnectTime returns when the connection was allocated.
func (c *Conn) ConnectTime() time.Time { return c.connectTime }

// LastMessageTime returns when a valid packet last arrived from the peer.
func (c *Conn) LastMessageTime() time.Time { return c.lastMessageTime }

// Stats returns the connection's counters.
func (c *Conn) Stats() Stats { return c.stats }

// Err returns why the connection ended, if it was dropped.
func (c *Conn) Err() error { return c.err }

// Close tears the connection down without raising OnDisconnect.
// Any message in flight is discarded.
func (c *Conn) Close() error {
	if c.state == stateFree {
		return ErrConnClosed
	}
	c.d.release(c)
	return nil
}

// poll runs retransmission and drains the connection's socket.
func (c *Conn) poll() {
	now := c.d.clock.Now()
	if !c.canSend && !c.sendNext && now.Sub(c.lastSendTime) > c.d.config.RetransmitInterval {
		if err := c.resend(); err != nil {
			c.log.WithError(err).Warn("retransmit failed")
		}
	}

	gen := c.gen
	for c.gen == gen && c.state == stateActive {
		n, from, err := c.sock.Read(c.readBuf)
		if err != nil {
			c.d.drop(c, errors.Wrap(err, "read"))
			return
		}
		if n == 0 {
			break
		}
		c.handlePacket(c.readBuf[:n], from)
	}

	if c.gen == gen && c.state == stateActive && c.sendNext {
		if err := c.sendNextFragment(); err != nil {
			c.log.WithError(err).Warn("send next fragment failed")
		}
	}
}

func (c *Conn) deliver(data []byte, reliable bool) {
	if c.d.onMessage == nil {
		return
	}
	c.d.onMessage(c, append([]byte(nil), data...), reliable)
}

func (c *Conn) write(p []byte) error {
	if _, err := c.sock.Write(p, c.addr); err != nil {
		return errors.Wrapf(err, "write to %s", c.addr)
	}
	return nil
}
