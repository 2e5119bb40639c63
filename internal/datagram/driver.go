// Package datagram implements reliable and unreliable connections over a
// lossy datagram socket, plus the control channel used for discovery,
// admission and remote console.
//
// A Driver owns a fixed arena of connection records. It is not safe for
// concurrent use: the game loop calls Pump once per tick and every
// callback runs inside Pump.
package datagram

import (
	"context"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/protocol"
	"github.com/LemmyAI/netgame/internal/transport"
)

// Driver manages connections for one transport backend.
type Driver struct {
	config Config
	net    transport.Driver
	clock  clock.Clock
	log    logrus.FieldLogger

	conns []*Conn

	listen transport.Socket
	host   Host
	ctlBuf []byte
	ban    Ban

	retired Stats

	onMessage    func(c *Conn, data []byte, reliable bool)
	onConnect    func(c *Conn)
	onDisconnect func(c *Conn, reason error)
}

// New creates a driver. A nil clock uses wall time and a nil logger uses
// the logrus standard logger.
func New(config Config, net transport.Driver, clk clock.Clock, log logrus.FieldLogger) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = DefaultConfig().MaxConnections
	}

	d := &Driver{
		config: config,
		net:    net,
		clock:  clk,
		log:    log.WithField("driver", net.Name()),
		ban:    NoBan(),
		ctlBuf: make([]byte, protocol.MaxPacketSize),
	}
	d.conns = make([]*Conn, config.MaxConnections)
	for i := range d.conns {
		d.conns[i] = newConn(d, i)
	}
	return d
}

// OnMessage sets the handler for messages received on any connection.
// data is owned by the handler.
func (d *Driver) OnMessage(fn func(c *Conn, data []byte, reliable bool)) {
	d.onMessage = fn
}

// OnConnect sets the handler for newly established connections.
func (d *Driver) OnConnect(fn func(c *Conn)) {
	d.onConnect = fn
}

// OnDisconnect sets the handler for connections dropped by the driver.
// It is not called for Conn.Close.
func (d *Driver) OnDisconnect(fn func(c *Conn, reason error)) {
	d.onDisconnect = fn
}

// Config returns the driver configuration.
func (d *Driver) Config() Config { return d.config }

// Listen opens the control socket on the configured port and starts
// answering control requests on behalf of host.
func (d *Driver) Listen(host Host) error {
	if d.listen != nil {
		return errors.New("datagram: already listening")
	}
	sock, err := d.net.Open(d.config.Port)
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", d.config.Port)
	}
	d.listen = sock
	d.host = host
	d.log.WithField("addr", sock.LocalAddr().String()).Info("🎧 listening")
	return nil
}

// ListenAddr returns the control socket address.
func (d *Driver) ListenAddr() netip.AddrPort {
	if d.listen == nil {
		return netip.AddrPort{}
	}
	return d.listen.LocalAddr()
}

// Pump answers control requests, advances connection handshakes and
// drains every active connection. Call it once per tick.
func (d *Driver) Pump() {
	if d.listen != nil {
		d.checkNewConnections()
	}
	for _, c := range d.conns {
		switch c.state {
		case stateConnecting:
			c.pollConnect()
		case stateActive:
			c.poll()
		}
	}
}

// Lookup resolves a handle. Stale handles return nil.
func (d *Driver) Lookup(h Handle) *Conn {
	if h.Index < 0 || h.Index >= len(d.conns) {
		return nil
	}
	c := d.conns[h.Index]
	if c.gen != h.Gen || c.state == stateFree {
		return nil
	}
	return c
}

// Conns returns the active connections in slot order.
func (d *Driver) Conns() []*Conn {
	var out []*Conn
	for _, c := range d.conns {
		if c.state == stateActive {
			out = append(out, c)
		}
	}
	return out
}

// ActiveCount returns the number of established connections.
func (d *Driver) ActiveCount() int {
	n := 0
	for _, c := range d.conns {
		if c.state == stateActive {
			n++
		}
	}
	return n
}

// Stats returns counters for closed and open connections combined.
func (d *Driver) Stats() Stats {
	s := d.retired
	for _, c := range d.conns {
		if c.state != stateFree {
			s.Add(c.stats)
		}
	}
	return s
}

// Ban returns the current ban filter.
func (d *Driver) Ban() Ban { return d.ban }

// SetBan replaces the ban filter.
func (d *Driver) SetBan(b Ban) {
	d.ban = b
	d.log.Info(b.String())
}

// Shutdown closes every connection and the control socket.
func (d *Driver) Shutdown() error {
	for _, c := range d.conns {
		d.release(c)
	}
	if d.listen == nil {
		return nil
	}
	err := d.listen.Close()
	d.listen = nil
	d.host = nil
	return err
}

// Dial connects to host and pumps the driver until the handshake
// finishes, fails or ctx is done.
func (d *Driver) Dial(ctx context.Context, host string) (*Conn, error) {
	c, err := d.Connect(host)
	if err != nil {
		return nil, err
	}

	ticker := d.clock.Ticker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		d.Pump()
		switch c.state {
		case stateActive:
			return c, nil
		case stateFree:
			return nil, c.err
		}

		select {
		case <-ctx.Done():
			d.release(c)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// alloc takes a free record from the arena.
func (d *Driver) alloc(sock transport.Socket, addr netip.AddrPort, state connState) *Conn {
	for _, c := range d.conns {
		if c.state == stateFree {
			c.reset(sock, addr, state)
			return c
		}
	}
	return nil
}

// release frees a record and closes its socket.
func (d *Driver) release(c *Conn) {
	if c.state == stateFree {
		return
	}
	if c.sock != nil {
		if err := c.sock.Close(); err != nil {
			c.log.WithError(err).Debug("socket close failed")
		}
		c.sock = nil
	}
	d.retired.Add(c.stats)
	c.state = stateFree
	c.canSend = false
	c.sendNext = false
	c.sendBuf = c.sendBuf[:0]
	c.recvBuf = c.recvBuf[:0]
}

// drop releases c and raises OnDisconnect.
func (d *Driver) drop(c *Conn, reason error) {
	if c.state == stateFree {
		return
	}
	c.err = reason
	d.release(c)
	c.log.WithError(reason).Info("❎ connection dropped")
	if d.onDisconnect != nil {
		d.onDisconnect(c, reason)
	}
}
