package transport

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const maxUDPPacket = 65535

// UDPDriver implements Driver using UDP over IPv4.
type UDPDriver struct {
	config Config
	log    logrus.FieldLogger
}

// NewUDPDriver creates a new UDP driver.
func NewUDPDriver(config Config, log logrus.FieldLogger) *UDPDriver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &UDPDriver{
		config: config,
		log:    log.WithField("driver", "udp"),
	}
}

// Name returns "udp".
func (d *UDPDriver) Name() string { return "udp" }

// DefaultMTU returns the configured fragment size.
func (d *UDPDriver) DefaultMTU() int { return d.config.MTU }

// Resolve looks up an IPv4 address for name.
func (d *UDPDriver) Resolve(name string, defaultPort int) (netip.AddrPort, error) {
	return resolveHost(name, defaultPort)
}

// Open binds a UDP socket with broadcast enabled.
func (d *UDPDriver) Open(port int) (Socket, error) {
	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}
	conn := pc.(*net.UDPConn)

	s := &udpSocket{
		conn:   conn,
		config: d.config,
		log:    d.log,
		inbox:  make(chan udpPacket, d.config.RecvBufferSize),
		stopCh: make(chan struct{}),
	}
	s.local = conn.LocalAddr().(*net.UDPAddr).AddrPort()

	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

type udpPacket struct {
	data []byte
	from netip.AddrPort
	err  error
}

type udpSocket struct {
	conn   *net.UDPConn
	config Config
	log    logrus.FieldLogger
	local  netip.AddrPort

	inbox  chan udpPacket
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Read returns the next queued datagram without blocking.
func (s *udpSocket) Read(p []byte) (int, netip.AddrPort, error) {
	select {
	case pkt := <-s.inbox:
		if pkt.err != nil {
			return 0, netip.AddrPort{}, pkt.err
		}
		n := copy(p, pkt.data)
		return n, pkt.from, nil
	default:
		return 0, netip.AddrPort{}, nil
	}
}

// Write sends data to addr.
func (s *udpSocket) Write(p []byte, to netip.AddrPort) (int, error) {
	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	n, err := s.conn.WriteToUDPAddrPort(p, to)
	if err != nil {
		return n, errors.Wrapf(err, "write to %s", to)
	}
	return n, nil
}

// Broadcast sends data to the IPv4 limited broadcast address.
func (s *udpSocket) Broadcast(p []byte, port int) error {
	to := netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), uint16(port))
	_, err := s.Write(p, to)
	return err
}

// LocalAddr returns the bound address.
func (s *udpSocket) LocalAddr() netip.AddrPort { return s.local }

// Close shuts down the socket and its receive loop.
func (s *udpSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

// receiveLoop moves datagrams from the kernel into the inbox so Read can poll.
func (s *udpSocket) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxUDPPacket)

	for {
		n, addr, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			// Check if we're shutting down
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.log.WithError(err).Warn("udp read failed")
			s.deliver(udpPacket{err: errors.Wrap(err, "read udp")})
			return
		}

		// Copy data (buf will be reused)
		data := make([]byte, n)
		copy(data, buf[:n])

		from := netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		s.deliver(udpPacket{data: data, from: from})
	}
}

func (s *udpSocket) deliver(pkt udpPacket) {
	select {
	case s.inbox <- pkt:
	case <-s.stopCh:
	default:
		// Inbox full: behave like a kernel buffer overrun.
		s.log.Debug("udp inbox full, dropping datagram")
	}
}
