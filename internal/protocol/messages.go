package protocol

import "github.com/pkg/errors"

// ModInfo identifies a protocol variant and its version.
type ModInfo struct {
	ID      byte
	Version byte
	Flags   byte
}

// Message is a typed control message.
type Message interface {
	Command() Command
	encode(w *Writer)
	decode(r *Reader)
}

// Encode serializes a control message into a packet.
func Encode(msg Message) []byte {
	w := NewWriter(msg.Command())
	msg.encode(w)
	return w.Bytes()
}

// Decode parses a control packet into a typed message.
func Decode(p []byte) (Message, error) {
	cmd, r, err := ParseControl(p)
	if err != nil {
		return nil, err
	}

	var msg Message
	switch cmd {
	case CmdConnect:
		msg = &ConnectRequest{}
	case CmdServerInfo:
		msg = &ServerInfoRequest{}
	case CmdPlayerInfo:
		msg = &PlayerInfoRequest{}
	case CmdRuleInfo:
		msg = &RuleInfoRequest{}
	case CmdRcon:
		msg = &RconRequest{}
	case CmdAccept:
		msg = &Accept{}
	case CmdReject:
		msg = &Reject{}
	case CmdServerInfoResp:
		msg = &ServerInfoReply{}
	case CmdPlayerInfoResp:
		msg = &PlayerInfoReply{}
	case CmdRuleInfoResp:
		msg = &RuleInfoReply{}
	case CmdRconResp:
		msg = &RconReply{}
	default:
		return nil, errors.Wrapf(ErrUnknownCommand, "command 0x%02x", byte(cmd))
	}

	msg.decode(r)
	if err := r.Err(); err != nil {
		return nil, errors.Wrapf(err, "decode %s", cmd)
	}
	return msg, nil
}

// ConnectRequest asks a server for a connection.
type ConnectRequest struct {
	GameID  string
	Version byte
	// Mod is sent when HasMod is set; older clients omit it.
	Mod    ModInfo
	HasMod bool
	// Password is sent when HasPassword is set.
	Password    int32
	HasPassword bool
}

func (m *ConnectRequest) Command() Command { return CmdConnect }

func (m *ConnectRequest) encode(w *Writer) {
	w.WriteString(m.GameID)
	w.WriteByte(m.Version)
	if !m.HasMod && !m.HasPassword {
		return
	}
	w.WriteByte(m.Mod.ID)
	w.WriteByte(m.Mod.Version)
	w.WriteByte(m.Mod.Flags)
	if m.HasPassword {
		w.WriteLong(m.Password)
	}
}

func (m *ConnectRequest) decode(r *Reader) {
	m.GameID = r.ReadString()
	m.Version = r.readU8()
	if r.Remaining() >= 3 {
		m.HasMod = true
		m.Mod.ID = r.readU8()
		m.Mod.Version = r.readU8()
		m.Mod.Flags = r.readU8()
	}
	if r.Remaining() >= 4 {
		m.HasPassword = true
		m.Password = r.ReadLong()
	}
}

// Accept admits a client and names the port of its private socket.
type Accept struct {
	Port int32
	Mod  ModInfo
}

func (m *Accept) Command() Command { return CmdAccept }

func (m *Accept) encode(w *Writer) {
	w.WriteLong(m.Port)
	w.WriteByte(m.Mod.ID)
	w.WriteByte(m.Mod.Version)
	w.WriteByte(m.Mod.Flags)
}

func (m *Accept) decode(r *Reader) {
	m.Port = r.ReadLong()
	if r.Remaining() >= 3 {
		m.Mod.ID = r.readU8()
		m.Mod.Version = r.readU8()
		m.Mod.Flags = r.readU8()
	}
}

// Reject refuses a connection with a human-readable reason.
type Reject struct {
	Reason string
}

func (m *Reject) Command() Command { return CmdReject }
func (m *Reject) encode(w *Writer) { w.WriteString(m.Reason) }
func (m *Reject) decode(r *Reader) { m.Reason = r.ReadString() }

// ServerInfoRequest is a discovery probe.
type ServerInfoRequest struct {
	GameID  string
	Version byte
}

func (m *ServerInfoRequest) Command() Command { return CmdServerInfo }

func (m *ServerInfoRequest) encode(w *Writer) {
	w.WriteString(m.GameID)
	w.WriteByte(m.Version)
}

func (m *ServerInfoRequest) decode(r *Reader) {
	m.GameID = r.ReadString()
	m.Version = r.readU8()
}

// ServerInfoReply describes a server.
type ServerInfoReply struct {
	Address   string
	HostName  string
	LevelName string
	Users     byte
	MaxUsers  byte
	Version   byte
}

func (m *ServerInfoReply) Command() Command { return CmdServerInfoResp }

func (m *ServerInfoReply) encode(w *Writer) {
	w.WriteString(m.Address)
	w.WriteString(m.HostName)
	w.WriteString(m.LevelName)
	w.WriteByte(m.Users)
	w.WriteByte(m.MaxUsers)
	w.WriteByte(m.Version)
}

func (m *ServerInfoReply) decode(r *Reader) {
	m.Address = r.ReadString()
	m.HostName = r.ReadString()
	m.LevelName = r.ReadString()
	m.Users = r.readU8()
	m.MaxUsers = r.readU8()
	m.Version = r.readU8()
}

// PlayerInfoRequest asks for the index'th active player.
type PlayerInfoRequest struct {
	Index byte
}

func (m *PlayerInfoRequest) Command() Command { return CmdPlayerInfo }
func (m *PlayerInfoRequest) encode(w *Writer) { w.WriteByte(m.Index) }
func (m *PlayerInfoRequest) decode(r *Reader) { m.Index = r.readU8() }

// PlayerInfoReply describes one active player.
type PlayerInfoReply struct {
	Index       byte
	Name        string
	Colors      int32
	Frags       int32
	ConnectTime int32 // seconds
	Address     string
}

func (m *PlayerInfoReply) Command() Command { return CmdPlayerInfoResp }

func (m *PlayerInfoReply) encode(w *Writer) {
	w.WriteByte(m.Index)
	w.WriteString(m.Name)
	w.WriteLong(m.Colors)
	w.WriteLong(m.Frags)
	w.WriteLong(m.ConnectTime)
	w.WriteString(m.Address)
}

func (m *PlayerInfoReply) decode(r *Reader) {
	m.Index = r.readU8()
	m.Name = r.ReadString()
	m.Colors = r.ReadLong()
	m.Frags = r.ReadLong()
	m.ConnectTime = r.ReadLong()
	m.Address = r.ReadString()
}

// RuleInfoRequest asks for the rule after Prev; empty Prev starts the list.
type RuleInfoRequest struct {
	Prev string
}

func (m *RuleInfoRequest) Command() Command { return CmdRuleInfo }
func (m *RuleInfoRequest) encode(w *Writer) { w.WriteString(m.Prev) }

func (m *RuleInfoRequest) decode(r *Reader) {
	if r.Remaining() > 0 {
		m.Prev = r.ReadString()
	}
}

// RuleInfoReply carries one rule. An empty Name marks the end of the list
// and is sent without any strings.
type RuleInfoReply struct {
	Name  string
	Value string
}

func (m *RuleInfoReply) Command() Command { return CmdRuleInfoResp }

func (m *RuleInfoReply) encode(w *Writer) {
	if m.Name == "" {
		return
	}
	w.WriteString(m.Name)
	w.WriteString(m.Value)
}

func (m *RuleInfoReply) decode(r *Reader) {
	if r.Remaining() == 0 {
		return
	}
	m.Name = r.ReadString()
	m.Value = r.ReadString()
}

// RconRequest runs a console command on the server.
type RconRequest struct {
	Password string
	Text     string
}

func (m *RconRequest) Command() Command { return CmdRcon }

func (m *RconRequest) encode(w *Writer) {
	w.WriteString(m.Password)
	w.WriteString(m.Text)
}

func (m *RconRequest) decode(r *Reader) {
	m.Password = r.ReadString()
	m.Text = r.ReadString()
}

// MaxRconOutput is the most console output one RCON reply carries: the
// packet minus the header, the empty reason and the output terminator.
const MaxRconOutput = MaxPacketSize - ControlHeaderSize - 2

// RconReply starts with an empty Reason on success, followed by the
// captured console output. On failure Reason holds the refusal.
type RconReply struct {
	Reason string
	Output string
}

func (m *RconReply) Command() Command { return CmdRconResp }

// OK reports whether the command was executed.
func (m *RconReply) OK() bool { return m.Reason == "" }

func (m *RconReply) encode(w *Writer) {
	w.WriteString(m.Reason)
	if m.Reason == "" {
		w.WriteString(m.Output)
	}
}

func (m *RconReply) decode(r *Reader) {
	m.Reason = r.ReadString()
	if m.Reason == "" && r.Remaining() > 0 {
		m.Output = r.ReadString()
	}
}
