package datagram

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/protocol"
	"github.com/LemmyAI/netgame/internal/transport"
)

// Connect resolves host, opens a socket and sends CONNECT. The returned
// connection stays in the connecting state until Pump sees the server's
// answer; OnConnect or OnDisconnect reports the outcome.
func (d *Driver) Connect(host string) (*Conn, error) {
	addr, err := d.net.Resolve(host, d.config.Port)
	if err != nil {
		return nil, err
	}
	sock, err := d.net.Open(0)
	if err != nil {
		return nil, errors.Wrap(err, "open client socket")
	}
	c := d.alloc(sock, addr, stateConnecting)
	if c == nil {
		if err := sock.Close(); err != nil {
			d.log.WithError(err).Debug("socket close failed")
		}
		return nil, ErrNoFreeConn
	}

	c.log.Info("🔌 connecting")
	if err := c.sendConnect(); err != nil {
		d.release(c)
		return nil, err
	}
	return c, nil
}

func (c *Conn) sendConnect() error {
	cfg := c.d.config
	req := &protocol.ConnectRequest{
		GameID:  cfg.GameID,
		Version: cfg.ProtocolVersion,
		Mod:     cfg.Mod,
		HasMod:  true,
	}
	if cfg.Password != 0 {
		req.Password = cfg.Password
		req.HasPassword = true
	}

	c.attempts++
	c.lastSendTime = c.d.clock.Now()
	return c.write(protocol.Encode(req))
}

// pollConnect waits for ACCEPT or REJECT from the server and resends
// CONNECT until the attempts run out.
func (c *Conn) pollConnect() {
	gen := c.gen
	for c.gen == gen && c.state == stateConnecting {
		n, from, err := c.sock.Read(c.readBuf)
		if err != nil {
			c.d.drop(c, errors.Wrap(err, "read"))
			return
		}
		if n == 0 {
			break
		}
		if transport.CompareAddr(from, c.addr) != transport.AddrSame {
			continue
		}
		msg, err := protocol.Decode(c.readBuf[:n])
		if err != nil {
			continue
		}
		c.handleConnectReply(msg)
	}

	if c.gen != gen || c.state != stateConnecting {
		return
	}
	if c.d.clock.Since(c.lastSendTime) < c.d.config.ConnectRetryInterval {
		return
	}
	if c.attempts >= c.d.config.ConnectAttempts {
		c.d.drop(c, ErrNoResponse)
		return
	}
	c.log.WithField("attempt", c.attempts+1).Debug("resending CONNECT")
	if err := c.sendConnect(); err != nil {
		c.log.WithError(err).Warn("CONNECT write failed")
	}
}

func (c *Conn) handleConnectReply(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Reject:
		c.d.drop(c, &RejectError{Reason: m.Reason})
	case *protocol.Accept:
		now := c.d.clock.Now()
		c.addr = transport.WithPort(c.addr, int(m.Port))
		c.mod = m.Mod
		c.state = stateActive
		c.connectTime = now
		c.lastMessageTime = now
		c.setLogger()
		c.log.WithFields(logrus.Fields{
			"mod":     m.Mod.ID,
			"version": m.Mod.Version,
		}).Info("✅ connected")
		if c.d.onConnect != nil {
			c.d.onConnect(c)
		}
	default:
		c.d.drop(c, errors.Wrapf(ErrBadResponse, "got %s", msg.Command()))
	}
}
