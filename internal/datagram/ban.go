package datagram

import (
	"fmt"
	"net/netip"

	"github.com/pkg/errors"
)

// Ban is an IPv4 address/mask filter applied to CONNECT requests.
type Ban struct {
	Addr netip.Addr
	Mask netip.Addr
}

var (
	anyAddr   = netip.AddrFrom4([4]byte{0, 0, 0, 0})
	allOnes   = netip.AddrFrom4([4]byte{255, 255, 255, 255})
	errBanArg = errors.New("usage: ban [address [mask]] | ban off")
)

// NoBan is the disabled filter.
func NoBan() Ban {
	return Ban{Addr: anyAddr, Mask: allOnes}
}

// Active reports whether the filter bans anything.
func (b Ban) Active() bool {
	return b.Addr.IsValid() && b.Addr != anyAddr
}

// Matches reports whether addr is banned. Only IPv4 addresses are
// filtered; other families always pass.
func (b Ban) Matches(addr netip.Addr) bool {
	if !b.Active() {
		return false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return false
	}
	a, m, want := addr.As4(), b.Mask.As4(), b.Addr.As4()
	for i := range a {
		if a[i]&m[i] != want[i] {
			return false
		}
	}
	return true
}

func (b Ban) String() string {
	if !b.Active() {
		return "Banning not active"
	}
	return fmt.Sprintf("Banning %s [%s]", b.Addr, b.Mask)
}

// ParseBan parses the arguments of the ban command: "off", an address,
// or an address and a mask. The mask defaults to 255.255.255.255.
func ParseBan(args []string) (Ban, error) {
	switch len(args) {
	case 1:
		if args[0] == "off" {
			return NoBan(), nil
		}
		addr, err := parseIPv4(args[0])
		if err != nil {
			return Ban{}, err
		}
		return Ban{Addr: addr, Mask: allOnes}, nil
	case 2:
		addr, err := parseIPv4(args[0])
		if err != nil {
			return Ban{}, err
		}
		mask, err := parseIPv4(args[1])
		if err != nil {
			return Ban{}, err
		}
		return Ban{Addr: addr, Mask: mask}, nil
	default:
		return Ban{}, errBanArg
	}
}

func parseIPv4(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "ban address %q", s)
	}
	a = a.Unmap()
	if !a.Is4() {
		return netip.Addr{}, errors.Errorf("ban address %q is not IPv4", s)
	}
	return a, nil
}
