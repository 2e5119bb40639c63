package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestAppendPacketHeader(t *testing.T) {
	p := AppendPacket(nil, FlagData|FlagEOM, 7, []byte("abc"))

	want := []byte{0x00, 0x09, 0x00, 0x0b, 0, 0, 0, 7, 'a', 'b', 'c'}
	if !bytes.Equal(p, want) {
		t.Fatalf("expected % x, got % x", want, p)
	}

	h, err := ParseHeader(p)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Flags != FlagData|FlagEOM {
		t.Errorf("expected DATA|EOM, got %s", h.Flags)
	}
	if h.Length != 11 {
		t.Errorf("expected length 11, got %d", h.Length)
	}
	if h.Sequence != 7 {
		t.Errorf("expected sequence 7, got %d", h.Sequence)
	}
	if string(h.Payload(p)) != "abc" {
		t.Errorf("expected payload abc, got %q", h.Payload(p))
	}
}

func TestParseHeaderErrors(t *testing.T) {
	oversized := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(oversized, uint32(FlagData)|0xffff)

	truncated := AppendPacket(nil, FlagData, 0, []byte("hello"))[:10]

	tests := []struct {
		name string
		p    []byte
		want error
	}{
		{"short", []byte{0, 1, 2}, ErrShortPacket},
		{"oversized", oversized, ErrPacketTooLarge},
		{"truncated", truncated, ErrLengthMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHeader(tt.p); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFlagsString(t *testing.T) {
	if got := (FlagData | FlagEOM).String(); got != "DATA|EOM" {
		t.Errorf("expected DATA|EOM, got %s", got)
	}
	if got := Flags(0).String(); got != "0x0" {
		t.Errorf("expected 0x0, got %s", got)
	}
}

func TestEncodeDecodeConnect(t *testing.T) {
	original := &ConnectRequest{
		GameID:      "QUAKE",
		Version:     3,
		Mod:         ModInfo{ID: 1, Version: 34, Flags: 0},
		HasMod:      true,
		Password:    1234,
		HasPassword: true,
	}

	decoded, err := Decode(Encode(original))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	req, ok := decoded.(*ConnectRequest)
	if !ok {
		t.Fatalf("expected *ConnectRequest, got %T", decoded)
	}
	if *req != *original {
		t.Errorf("expected %+v, got %+v", original, req)
	}
}

func TestDecodeConnectWithoutMod(t *testing.T) {
	decoded, err := Decode(Encode(&ConnectRequest{GameID: "QUAKE", Version: 3}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	req := decoded.(*ConnectRequest)
	if req.HasMod || req.HasPassword {
		t.Errorf("expected no mod and no password, got %+v", req)
	}
}

func TestControlLayout(t *testing.T) {
	p := Encode(&Reject{Reason: "Server is full."})

	word := binary.BigEndian.Uint32(p)
	if Flags(word&^LengthMask) != FlagCtl {
		t.Errorf("expected CTL flag, got %s", Flags(word&^LengthMask))
	}
	if int(word&LengthMask) != len(p) {
		t.Errorf("expected length %d, got %d", len(p), word&LengthMask)
	}
	if Command(p[4]) != CmdReject {
		t.Errorf("expected REJECT, got %s", Command(p[4]))
	}
	if p[len(p)-1] != 0 {
		t.Error("expected NUL terminated reason")
	}
}

func TestParseControlValidation(t *testing.T) {
	good := Encode(&ServerInfoRequest{GameID: "QUAKE", Version: 3})

	badLength := append([]byte(nil), good...)
	badLength = append(badLength, 0)

	notCtl := append([]byte(nil), good...)
	binary.BigEndian.PutUint32(notCtl, uint32(len(notCtl))|uint32(FlagCtl|FlagData))

	tests := []struct {
		name string
		p    []byte
		want error
	}{
		{"ignore sentinel", []byte{0xff, 0xff, 0xff, 0xff, 0x02}, ErrIgnore},
		{"length mismatch", badLength, ErrLengthMismatch},
		{"extra flags", notCtl, ErrNotControl},
		{"too short", []byte{0x80}, ErrShortPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseControl(tt.p); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecodeTruncatedReply(t *testing.T) {
	p := Encode(&PlayerInfoReply{Index: 1, Name: "ranger", Colors: 3, Frags: 10, ConnectTime: 60, Address: "10.0.0.1:26000"})
	// Cut inside the colors field and fix the length word so framing passes.
	p = p[:14]
	binary.BigEndian.PutUint32(p, uint32(len(p))|uint32(FlagCtl))

	_, err := Decode(p)
	if errors.Cause(err) != ErrShortPacket {
		t.Errorf("expected ErrShortPacket, got %v", err)
	}
}

func TestRuleInfoEndOfList(t *testing.T) {
	p := Encode(&RuleInfoReply{})
	if len(p) != ControlHeaderSize {
		t.Errorf("expected bare header for end of list, got %d bytes", len(p))
	}

	decoded, err := Decode(p)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.(*RuleInfoReply).Name != "" {
		t.Error("expected empty rule name")
	}
}

func TestRconReply(t *testing.T) {
	decoded, err := Decode(Encode(&RconReply{Output: "host: test\n"}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	reply := decoded.(*RconReply)
	if !reply.OK() || reply.Output != "host: test\n" {
		t.Errorf("unexpected reply %+v", reply)
	}

	decoded, _ = Decode(Encode(&RconReply{Reason: "Incorrect rcon password"}))
	reply = decoded.(*RconReply)
	if reply.OK() || reply.Output != "" {
		t.Errorf("unexpected failure reply %+v", reply)
	}
}

func TestOversizedControlPacketIsCut(t *testing.T) {
	for _, size := range []int{MaxDatagram + 100, 70000} {
		p := Encode(&RconReply{Output: strings.Repeat("x", size)})
		if len(p) != MaxPacketSize {
			t.Fatalf("%d: expected packet of %d bytes, got %d", size, MaxPacketSize, len(p))
		}
		if !IsControl(p) {
			t.Fatalf("%d: length spilled into the flag bits", size)
		}
		decoded, err := Decode(p)
		if err != nil {
			t.Fatalf("%d: Decode failed: %v", size, err)
		}
		if got := len(decoded.(*RconReply).Output); got != MaxPacketSize-ControlHeaderSize-1 {
			t.Errorf("%d: unexpected output length %d", size, got)
		}
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		cmd      Command
		expected string
	}{
		{CmdConnect, "CONNECT"},
		{CmdAccept, "ACCEPT"},
		{CmdRconResp, "RCON_REPLY"},
		{Command(0x7f), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.expected {
			t.Errorf("expected %s, got %s", tt.expected, got)
		}
	}
}

func TestDecodeUnknownCommand(t *testing.T) {
	w := NewWriter(Command(0x42))
	if _, err := Decode(w.Bytes()); errors.Cause(err) != ErrUnknownCommand {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func BenchmarkAppendPacket(b *testing.B) {
	payload := make([]byte, 1392)
	buf := make([]byte, 0, HeaderSize+len(payload))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = AppendPacket(buf[:0], FlagData, uint32(i), payload)
	}
}
