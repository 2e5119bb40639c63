package datagram

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/protocol"
	"github.com/LemmyAI/netgame/internal/transport"
)

// checkNewConnections answers every control packet queued on the listen socket.
func (d *Driver) checkNewConnections() {
	for d.listen != nil {
		n, from, err := d.listen.Read(d.ctlBuf)
		if err != nil {
			d.log.WithError(err).Warn("control socket read failed")
			return
		}
		if n == 0 {
			return
		}
		d.handleControl(d.ctlBuf[:n], from)
	}
}

func (d *Driver) handleControl(p []byte, from netip.AddrPort) {
	msg, err := protocol.Decode(p)
	if err != nil {
		if err != protocol.ErrIgnore {
			d.log.WithError(err).WithField("from", from.String()).Debug("bad control packet")
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.ServerInfoRequest:
		d.serverInfo(m, from)
	case *protocol.PlayerInfoRequest:
		d.playerInfo(m, from)
	case *protocol.RuleInfoRequest:
		d.ruleInfo(m, from)
	case *protocol.RconRequest:
		d.rcon(m, from)
	case *protocol.ConnectRequest:
		d.admit(m, from)
	default:
		d.log.WithFields(logrus.Fields{
			"from": from.String(),
			"cmd":  msg.Command().String(),
		}).Debug("unexpected control command")
	}
}

func (d *Driver) reply(msg protocol.Message, to netip.AddrPort) {
	if _, err := d.listen.Write(protocol.Encode(msg), to); err != nil {
		d.log.WithError(err).WithField("to", to.String()).Warn("control reply failed")
	}
}

func (d *Driver) serverInfo(m *protocol.ServerInfoRequest, from netip.AddrPort) {
	if m.GameID != d.config.GameID {
		return
	}
	// Never answer our own broadcast.
	if transport.CompareAddr(from, d.listen.LocalAddr()) == transport.AddrSame {
		return
	}
	addr := d.config.AdvertiseAddr
	if addr == "" {
		addr = d.listen.LocalAddr().String()
	}
	d.reply(&protocol.ServerInfoReply{
		Address:   addr,
		HostName:  d.host.HostName(),
		LevelName: d.host.LevelName(),
		Users:     byte(d.ActiveCount()),
		MaxUsers:  byte(d.host.MaxPlayers()),
		Version:   d.config.ProtocolVersion,
	}, from)
}

func (d *Driver) playerInfo(m *protocol.PlayerInfoRequest, from netip.AddrPort) {
	players := d.host.Players()
	if int(m.Index) >= len(players) {
		return
	}
	p := players[m.Index]

	r := &protocol.PlayerInfoReply{
		Index:  m.Index,
		Name:   p.Name,
		Colors: p.Colors,
		Frags:  p.Frags,
	}
	if p.Conn != nil {
		r.ConnectTime = int32(d.clock.Since(p.Conn.ConnectTime()).Seconds())
		r.Address = p.Conn.Addr().String()
	}
	d.reply(r, from)
}

func (d *Driver) ruleInfo(m *protocol.RuleInfoRequest, from netip.AddrPort) {
	name, value, ok := d.host.NextRule(m.Prev)
	if !ok {
		d.reply(&protocol.RuleInfoReply{}, from)
		return
	}
	d.reply(&protocol.RuleInfoReply{Name: name, Value: value}, from)
}

func (d *Driver) rcon(m *protocol.RconRequest, from netip.AddrPort) {
	log := d.log.WithField("from", from.String())

	password := d.host.RconPassword()
	switch {
	case password == "":
		d.reply(&protocol.RconReply{Reason: ReasonRconDisabled}, from)
	case m.Password != password:
		log.Warn("rcon with bad password")
		d.reply(&protocol.RconReply{Reason: ReasonRconPassword}, from)
	default:
		log.WithField("command", m.Text).Info("rcon")
		out := d.host.Execute(m.Text)
		if len(out) > protocol.MaxRconOutput {
			log.WithField("size", len(out)).Debug("rcon output truncated")
			out = out[:protocol.MaxRconOutput]
		}
		d.reply(&protocol.RconReply{Output: out}, from)
	}
}

func (d *Driver) reject(to netip.AddrPort, reason string) {
	d.log.WithFields(logrus.Fields{"from": to.String(), "reason": reason}).Info("connection rejected")
	d.reply(&protocol.Reject{Reason: reason}, to)
}

// admit runs the CONNECT checks in order and opens a private socket for
// an accepted client.
func (d *Driver) admit(m *protocol.ConnectRequest, from netip.AddrPort) {
	if m.GameID != d.config.GameID {
		return
	}
	if m.Version != d.config.ProtocolVersion {
		d.reject(from, ReasonIncompatible)
		return
	}
	if d.ban.Matches(from.Addr()) {
		d.reject(from, ReasonBanned)
		return
	}

	for _, c := range d.conns {
		if c.state != stateActive || transport.CompareAddr(from, c.addr) != transport.AddrSame {
			continue
		}
		if d.clock.Since(c.connectTime) < d.config.ConnectGrace {
			// Our ACCEPT was lost; repeat it.
			d.accept(c, from)
			return
		}
		// The client restarted. Its next retry gets a fresh connection.
		d.drop(c, ErrReconnect)
		return
	}

	if password, ok := d.host.ConnectPassword(); ok {
		if !m.HasPassword || m.Password != password {
			d.reject(from, ReasonPassword)
			return
		}
	}

	if d.ActiveCount() >= d.host.MaxPlayers() {
		d.reject(from, ReasonFull)
		return
	}

	sock, err := d.net.Open(0)
	if err != nil {
		d.log.WithError(err).Error("cannot open connection socket")
		return
	}
	c := d.alloc(sock, from, stateActive)
	if c == nil {
		if err := sock.Close(); err != nil {
			d.log.WithError(err).Debug("socket close failed")
		}
		d.reject(from, ReasonFull)
		return
	}
	c.relearn = true
	if m.HasMod {
		c.mod = m.Mod
	}

	d.accept(c, from)
	c.log.WithField("local", sock.LocalAddr().String()).Info("✅ connection accepted")
	if d.onConnect != nil {
		d.onConnect(c)
	}
}

func (d *Driver) accept(c *Conn, to netip.AddrPort) {
	d.reply(&protocol.Accept{
		Port: int32(c.sock.LocalAddr().Port()),
		Mod:  d.config.Mod,
	}, to)
}
