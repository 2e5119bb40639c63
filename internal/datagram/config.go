package datagram

import (
	"time"

	"github.com/LemmyAI/netgame/internal/protocol"
)

// Admission rejection reasons sent to clients.
const (
	ReasonIncompatible = "Incompatible version."
	ReasonBanned       = "You have been banned."
	ReasonPassword     = "Incorrect password."
	ReasonFull         = "Server is full."

	ReasonRconDisabled = "rcon is disabled on this server"
	ReasonRconPassword = "Incorrect rcon password"
)

// Config holds datagram driver configuration.
type Config struct {
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	GameID         string `yaml:"game_id"`

	ProtocolVersion byte             `yaml:"protocol_version"`
	Mod             protocol.ModInfo `yaml:"mod"`

	// Password is sent with CONNECT when non-zero.
	Password int32 `yaml:"password"`

	// AdvertiseAddr is reported in SERVER_INFO replies instead of the
	// listen socket address when set.
	AdvertiseAddr string `yaml:"advertise_addr"`

	RetransmitInterval   time.Duration `yaml:"retransmit_interval"`
	ConnectGrace         time.Duration `yaml:"connect_grace"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	ConnectAttempts      int           `yaml:"connect_attempts"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:                 26000,
		MaxConnections:       16,
		GameID:               "QUAKE",
		ProtocolVersion:      3,
		Mod:                  protocol.ModInfo{ID: 1, Version: 35},
		RetransmitInterval:   time.Second,
		ConnectGrace:         2 * time.Second,
		ConnectRetryInterval: 2500 * time.Millisecond,
		ConnectAttempts:      3,
	}
}
