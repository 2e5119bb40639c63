package transport

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrBroadcastUnsupported is returned by backends without a broadcast medium.
var ErrBroadcastUnsupported = errors.New("transport: broadcast not supported")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for browser clients
	},
}

// WebSocketDriver carries each datagram as one binary WebSocket message.
// It lets browser-hosted peers use the same connection protocol as UDP
// peers. Every socket both accepts inbound WebSocket connections on its
// port and dials out lazily on the first Write to an unknown address.
type WebSocketDriver struct {
	config Config
	log    logrus.FieldLogger
	dialer websocket.Dialer
}

// NewWebSocketDriver creates a WebSocket driver.
func NewWebSocketDriver(config Config, log logrus.FieldLogger) *WebSocketDriver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WebSocketDriver{
		config: config,
		log:    log.WithField("driver", "websocket"),
		dialer: websocket.Dialer{HandshakeTimeout: config.WriteTimeout},
	}
}

// Name returns "websocket".
func (d *WebSocketDriver) Name() string { return "websocket" }

// DefaultMTU returns the configured fragment size.
func (d *WebSocketDriver) DefaultMTU() int { return d.config.MTU }

// Resolve looks up an IPv4 address for name.
func (d *WebSocketDriver) Resolve(name string, defaultPort int) (netip.AddrPort, error) {
	return resolveHost(name, defaultPort)
}

// Open starts a WebSocket listener on port.
func (d *WebSocketDriver) Open(port int) (Socket, error) {
	ln, err := net.Listen("tcp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "listen websocket")
	}

	s := &wsSocket{
		driver: d,
		ln:     ln,
		local:  ln.Addr().(*net.TCPAddr).AddrPort(),
		peers:  make(map[netip.AddrPort]*wsPeer),
		inbox:  make(chan udpPacket, d.config.RecvBufferSize),
		stopCh: make(chan struct{}),
	}
	s.server = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.log.WithError(err).Warn("websocket listener stopped")
		}
	}()

	return s, nil
}

type wsPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex // one writer at a time
}

type wsSocket struct {
	driver *WebSocketDriver
	ln     net.Listener
	server *http.Server
	local  netip.AddrPort

	peers   map[netip.AddrPort]*wsPeer
	peersMu sync.Mutex

	inbox  chan udpPacket
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *wsSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	from, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		http.Error(w, "bad remote address", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.driver.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s.addPeer(netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), conn)
}

func (s *wsSocket) addPeer(addr netip.AddrPort, conn *websocket.Conn) *wsPeer {
	p := &wsPeer{conn: conn}

	s.peersMu.Lock()
	if old := s.peers[addr]; old != nil {
		old.conn.Close()
	}
	s.peers[addr] = p
	s.peersMu.Unlock()

	s.wg.Add(1)
	go s.readLoop(addr, p)
	return p
}

func (s *wsSocket) removePeer(addr netip.AddrPort, p *wsPeer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if s.peers[addr] == p {
		delete(s.peers, addr)
	}
}

// readLoop forwards binary messages from one peer into the inbox.
func (s *wsSocket) readLoop(addr netip.AddrPort, p *wsPeer) {
	defer s.wg.Done()
	defer s.removePeer(addr, p)

	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.driver.log.WithError(err).WithField("peer", addr).Debug("websocket peer gone")
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		select {
		case s.inbox <- udpPacket{data: data, from: addr}:
		case <-s.stopCh:
			return
		default:
			s.driver.log.Debug("websocket inbox full, dropping datagram")
		}
	}
}

// Read returns the next queued datagram without blocking.
func (s *wsSocket) Read(p []byte) (int, netip.AddrPort, error) {
	select {
	case pkt := <-s.inbox:
		return copy(p, pkt.data), pkt.from, nil
	default:
		return 0, netip.AddrPort{}, nil
	}
}

// Write sends p to addr, dialing a new WebSocket connection if needed.
func (s *wsSocket) Write(p []byte, to netip.AddrPort) (int, error) {
	s.peersMu.Lock()
	peer := s.peers[to]
	s.peersMu.Unlock()

	if peer == nil {
		conn, _, err := s.driver.dialer.Dial("ws://"+to.String()+"/", nil)
		if err != nil {
			return 0, errors.Wrapf(err, "dial %s", to)
		}
		peer = s.addPeer(to, conn)
	}

	peer.mu.Lock()
	defer peer.mu.Unlock()

	if s.driver.config.WriteTimeout > 0 {
		_ = peer.conn.SetWriteDeadline(time.Now().Add(s.driver.config.WriteTimeout))
	}
	if err := peer.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, errors.Wrapf(err, "write to %s", to)
	}
	return len(p), nil
}

// Broadcast is not available over WebSocket.
func (s *wsSocket) Broadcast(p []byte, port int) error {
	return ErrBroadcastUnsupported
}

// LocalAddr returns the listener address.
func (s *wsSocket) LocalAddr() netip.AddrPort { return s.local }

// Close stops the listener and drops every peer.
func (s *wsSocket) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stopCh)
		err = s.server.Close()

		s.peersMu.Lock()
		for _, p := range s.peers {
			p.conn.Close()
		}
		s.peersMu.Unlock()

		s.wg.Wait()
	})
	return err
}
