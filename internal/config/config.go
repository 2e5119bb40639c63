// Package config loads the YAML configuration shared by the server and
// client binaries.
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/LemmyAI/netgame/internal/datagram"
	"github.com/LemmyAI/netgame/internal/game"
	"github.com/LemmyAI/netgame/internal/hostcache"
	"github.com/LemmyAI/netgame/internal/query"
	"github.com/LemmyAI/netgame/internal/transport"
)

// Backends selectable with the backend key.
const (
	BackendUDP       = "udp"
	BackendWebSocket = "websocket"
)

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config holds the whole configuration.
type Config struct {
	Backend   string           `yaml:"backend"`
	Log       LogConfig        `yaml:"log"`
	Transport transport.Config `yaml:"transport"`
	Datagram  datagram.Config  `yaml:"datagram"`
	Game      game.Config      `yaml:"game"`
	Query     query.Config     `yaml:"query"`
	HostCache hostcache.Config `yaml:"hostcache"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend:   BackendUDP,
		Log:       LogConfig{Level: "info", Format: "text"},
		Transport: transport.DefaultConfig(),
		Datagram:  datagram.DefaultConfig(),
		Game:      game.DefaultConfig(),
		Query:     query.DefaultConfig(),
		HostCache: hostcache.DefaultConfig(),
	}
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, errors.Wrap(err, "stat config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 && cfg.Game.RconPassword != "" {
		logrus.WithFields(logrus.Fields{
			"path": path,
			"perm": perm.String(),
		}).Warn("config file holds rcon_password but is readable by other users")
	}

	return cfg, cfg.Validate()
}

// Validate checks values and aligns settings shared between sections.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendUDP, BackendWebSocket:
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Transport.MTU <= 0 || c.Transport.MTU > 32000 {
		return errors.Errorf("transport.mtu %d out of range", c.Transport.MTU)
	}
	if c.Datagram.MaxConnections <= 0 {
		return errors.New("datagram.max_connections must be positive")
	}
	if c.Game.MaxPlayers > c.Datagram.MaxConnections {
		return errors.Errorf("game.max_players %d exceeds datagram.max_connections %d",
			c.Game.MaxPlayers, c.Datagram.MaxConnections)
	}
	if c.Game.TickRate <= 0 {
		return errors.New("game.tick_rate must be positive")
	}

	c.Query.Port = c.Datagram.Port
	c.Query.GameID = c.Datagram.GameID
	c.Query.ProtocolVersion = c.Datagram.ProtocolVersion
	return nil
}

// NewDriver opens the configured transport backend.
func (c *Config) NewDriver(log logrus.FieldLogger) transport.Driver {
	if c.Backend == BackendWebSocket {
		return transport.NewWebSocketDriver(c.Transport, log)
	}
	return transport.NewUDPDriver(c.Transport, log)
}

// NewLogger builds a logger from the log section.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	return log
}
