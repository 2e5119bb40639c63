// Package transport provides the socket abstraction the datagram driver runs on.
// This allows swapping UDP, WebSocket, or mock backends without changing the
// connection protocol.
package transport

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Driver opens sockets for one network backend.
type Driver interface {
	// Name identifies the backend in host cache entries and logs.
	Name() string

	// Open binds a socket. Port 0 picks an ephemeral port.
	Open(port int) (Socket, error)

	// Resolve turns "host" or "host:port" into an address.
	// A missing port is filled in with defaultPort.
	Resolve(name string, defaultPort int) (netip.AddrPort, error)

	// DefaultMTU is the largest fragment payload a connection should use.
	DefaultMTU() int
}

// Socket is a non-blocking datagram endpoint.
type Socket interface {
	// Read copies one queued datagram into p. It never blocks: when
	// nothing is queued it returns 0 and a nil error.
	Read(p []byte) (n int, from netip.AddrPort, err error)

	// Write sends one datagram to the given address.
	Write(p []byte, to netip.AddrPort) (int, error)

	// Broadcast sends one datagram to every host on the local network
	// listening on port.
	Broadcast(p []byte, port int) error

	// LocalAddr returns the bound address.
	LocalAddr() netip.AddrPort

	// Close releases the socket.
	Close() error
}

// AddrMatch is the result of comparing two addresses.
type AddrMatch int

const (
	// AddrDifferent means the hosts differ.
	AddrDifferent AddrMatch = -1
	// AddrSame means host and port are equal.
	AddrSame AddrMatch = 0
	// AddrSameHost means the host is equal but the port differs.
	AddrSameHost AddrMatch = 1
)

// CompareAddr compares two endpoints.
func CompareAddr(a, b netip.AddrPort) AddrMatch {
	if a.Addr().Unmap() != b.Addr().Unmap() {
		return AddrDifferent
	}
	if a.Port() != b.Port() {
		return AddrSameHost
	}
	return AddrSame
}

// WithPort returns addr with its port replaced.
func WithPort(addr netip.AddrPort, port int) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr(), uint16(port))
}

// ParseAddr parses "ip:port".
func ParseAddr(s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "parse addr %q", s)
	}
	return ap, nil
}

// resolveHost is the DNS-backed resolver shared by the UDP and WebSocket drivers.
func resolveHost(name string, defaultPort int) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(name)
	if err != nil {
		host = name
		portStr = strconv.Itoa(defaultPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return netip.AddrPort{}, errors.Errorf("bad port in %q", name)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), uint16(port)), nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, "resolve %q", host)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			addr, _ := netip.AddrFromSlice(v4)
			return netip.AddrPortFrom(addr, uint16(port)), nil
		}
	}
	return netip.AddrPort{}, errors.Errorf("no IPv4 address for %q", host)
}

// Config holds transport configuration.
type Config struct {
	MTU            int           `yaml:"mtu"`
	RecvBufferSize int           `yaml:"recv_buffer_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MTU:            1392, // 1400 byte datagrams are safe for UDP, minus the 8 byte header
		RecvBufferSize: 1024,
		WriteTimeout:   5 * time.Second,
	}
}
