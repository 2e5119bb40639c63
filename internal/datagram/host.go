package datagram

// PlayerInfo is what a PLAYER_INFO reply reports for one active player.
type PlayerInfo struct {
	Name   string
	Colors int32
	Frags  int32
	Conn   *Conn
}

// Host is the game server the admission protocol answers for.
type Host interface {
	HostName() string
	LevelName() string
	MaxPlayers() int

	// Players lists active players in slot order.
	Players() []PlayerInfo

	// NextRule returns the server-visible rule after prev; an empty prev
	// starts the list. ok is false at the end.
	NextRule(prev string) (name, value string, ok bool)

	// RconPassword returns "" when rcon is disabled.
	RconPassword() string

	// ConnectPassword returns the join password, if one is set.
	ConnectPassword() (int32, bool)

	// Execute runs console text and returns its captured output.
	Execute(text string) string
}
