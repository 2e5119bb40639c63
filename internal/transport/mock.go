package transport

import (
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
)

// MockNetwork is an in-memory datagram network for testing.
// Every MockDriver attached to it gets its own host address; datagrams are
// queued on the destination socket synchronously on Write.
type MockNetwork struct {
	mu       sync.Mutex
	sockets  map[netip.AddrPort]*MockSocket
	sent     []MockMessage
	nextPort uint16

	// Filter, when set, is consulted for every datagram. Returning false
	// drops it, which lets tests simulate loss.
	Filter func(msg MockMessage) bool

	// CloseErr, when set, is returned by every socket Close after the
	// socket has been released.
	CloseErr error
}

// MockMessage records a datagram that crossed the network.
type MockMessage struct {
	From netip.AddrPort
	To   netip.AddrPort
	Data []byte
}

// NewMockNetwork creates an empty network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		sockets:  make(map[netip.AddrPort]*MockSocket),
		nextPort: 50000,
	}
}

// Driver returns a driver whose sockets bind to host.
func (n *MockNetwork) Driver(host string) *MockDriver {
	return &MockDriver{
		net:  n,
		host: netip.MustParseAddr(host),
		MTU:  DefaultConfig().MTU,
	}
}

// Inject queues a datagram on the socket bound to to, as if from had sent it.
func (n *MockNetwork) Inject(from, to netip.AddrPort, data []byte) {
	n.deliver(MockMessage{From: from, To: to, Data: append([]byte(nil), data...)})
}

// Socket returns the socket bound to addr.
func (n *MockNetwork) Socket(addr netip.AddrPort) *MockSocket {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sockets[addr]
}

// SentMessages returns all datagrams written so far, including dropped ones.
func (n *MockNetwork) SentMessages() []MockMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]MockMessage{}, n.sent...)
}

// Clear forgets recorded datagrams.
func (n *MockNetwork) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = n.sent[:0]
}

func (n *MockNetwork) deliver(msg MockMessage) {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	filter := n.Filter
	dst := n.sockets[msg.To]
	n.mu.Unlock()

	if filter != nil && !filter(msg) {
		return
	}
	if dst != nil {
		dst.push(msg)
	}
}

// MockDriver implements Driver on a MockNetwork.
type MockDriver struct {
	net  *MockNetwork
	host netip.Addr

	// MTU is returned by DefaultMTU.
	MTU int
}

// Name returns "mock".
func (d *MockDriver) Name() string { return "mock" }

// DefaultMTU returns d.MTU.
func (d *MockDriver) DefaultMTU() int { return d.MTU }

// Resolve accepts literal addresses only.
func (d *MockDriver) Resolve(name string, defaultPort int) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(name)
	if err != nil {
		host, portStr = name, strconv.Itoa(defaultPort)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "resolve %q", name)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "resolve %q", name)
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}

// Open binds a socket on the driver's host.
func (d *MockDriver) Open(port int) (Socket, error) {
	n := d.net
	n.mu.Lock()
	defer n.mu.Unlock()

	if port == 0 {
		for {
			n.nextPort++
			if _, used := n.sockets[netip.AddrPortFrom(d.host, n.nextPort)]; !used {
				break
			}
		}
		port = int(n.nextPort)
	}

	local := netip.AddrPortFrom(d.host, uint16(port))
	if _, used := n.sockets[local]; used {
		return nil, errors.Errorf("mock: %s already in use", local)
	}

	s := &MockSocket{net: n, local: local}
	n.sockets[local] = s
	return s, nil
}

// MockSocket is a socket on a MockNetwork.
type MockSocket struct {
	net   *MockNetwork
	local netip.AddrPort

	mu      sync.Mutex
	queue   deque.Deque[MockMessage]
	readErr error
	closed  bool
}

// FailReads makes the next Read return err.
func (s *MockSocket) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// Pending returns the number of queued datagrams.
func (s *MockSocket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Read pops the oldest queued datagram.
func (s *MockSocket) Read(p []byte) (int, netip.AddrPort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return 0, netip.AddrPort{}, s.readErr
	}
	if s.queue.Len() == 0 {
		return 0, netip.AddrPort{}, nil
	}
	msg := s.queue.PopFront()
	return copy(p, msg.Data), msg.From, nil
}

// Write sends p to the socket bound to addr, if any.
func (s *MockSocket) Write(p []byte, to netip.AddrPort) (int, error) {
	if s.isClosed() {
		return 0, errors.New("mock: write on closed socket")
	}
	s.net.deliver(MockMessage{From: s.local, To: to, Data: append([]byte(nil), p...)})
	return len(p), nil
}

// Broadcast delivers p to every socket on the network bound to port.
func (s *MockSocket) Broadcast(p []byte, port int) error {
	if s.isClosed() {
		return errors.New("mock: broadcast on closed socket")
	}

	s.net.mu.Lock()
	var targets []netip.AddrPort
	for addr := range s.net.sockets {
		if int(addr.Port()) == port {
			targets = append(targets, addr)
		}
	}
	s.net.mu.Unlock()

	for _, to := range targets {
		s.net.deliver(MockMessage{From: s.local, To: to, Data: append([]byte(nil), p...)})
	}
	return nil
}

// LocalAddr returns the bound address.
func (s *MockSocket) LocalAddr() netip.AddrPort { return s.local }

// Close unbinds the socket.
func (s *MockSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.queue.Clear()
	s.mu.Unlock()

	s.net.mu.Lock()
	if s.net.sockets[s.local] == s {
		delete(s.net.sockets, s.local)
	}
	err := s.net.CloseErr
	s.net.mu.Unlock()
	return err
}

func (s *MockSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockSocket) push(msg MockMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue.PushBack(msg)
}
