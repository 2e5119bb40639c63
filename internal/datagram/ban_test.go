package datagram

import (
	"net/netip"
	"testing"
)

func TestParseBan(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"off", []string{"off"}, "Banning not active", false},
		{"host", []string{"192.168.1.5"}, "Banning 192.168.1.5 [255.255.255.255]", false},
		{"subnet", []string{"192.168.1.0", "255.255.255.0"}, "Banning 192.168.1.0 [255.255.255.0]", false},
		{"ipv6", []string{"::1"}, "", true},
		{"garbage", []string{"nope"}, "", true},
		{"too many", []string{"1.2.3.4", "255.0.0.0", "x"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBan(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %s", b)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBan failed: %v", err)
			}
			if b.String() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, b.String())
			}
		})
	}
}

func TestBanMatches(t *testing.T) {
	subnet, _ := ParseBan([]string{"192.168.1.0", "255.255.255.0"})

	tests := []struct {
		name string
		ban  Ban
		addr string
		want bool
	}{
		{"default bans nobody", NoBan(), "0.0.0.0", false},
		{"in subnet", subnet, "192.168.1.77", true},
		{"mapped in subnet", subnet, "::ffff:192.168.1.77", true},
		{"outside subnet", subnet, "192.168.2.77", false},
		{"ipv6 exempt", subnet, "fe80::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ban.Matches(netip.MustParseAddr(tt.addr)); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
