// Package game implements the dedicated server host: player slots, the
// tick loop that drives the datagram driver, and operator commands.
package game

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"

	"github.com/LemmyAI/netgame/internal/datagram"
)

// Config holds game engine configuration.
type Config struct {
	TickRate      int           `yaml:"tick_rate"`      // Ticks per second (default: 72)
	MaxPlayers    int           `yaml:"max_players"`    // Player slots (default: 16)
	ClientTimeout time.Duration `yaml:"client_timeout"` // Silence before a client is dropped
	HostName      string        `yaml:"hostname"`
	Level         string        `yaml:"level"`
	RconPassword  string        `yaml:"rcon_password"`
	Password      int32         `yaml:"password"` // 0 disables the join password
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickRate:      72,
		MaxPlayers:    16,
		ClientTimeout: 30 * time.Second,
		HostName:      "UNNAMED",
		Level:         "start",
	}
}

// Player occupies one slot.
type Player struct {
	ID          string
	Slot        int
	Name        string
	Colors      int32
	Frags       int32
	Conn        *datagram.Conn
	ConnectedAt time.Time

	// Reliable messages waiting for the connection to accept them.
	outbox deque.Deque[[]byte]
}

// Pending returns the number of queued reliable messages.
func (p *Player) Pending() int { return p.outbox.Len() }

// State holds the player slots.
type State struct {
	mu    sync.RWMutex
	slots []*Player
	tick  uint64
}

// NewState creates empty slots.
func NewState(config Config) *State {
	return &State{slots: make([]*Player, config.MaxPlayers)}
}

// AddPlayer puts conn in the first free slot. It returns nil when every
// slot is taken.
func (s *State) AddPlayer(conn *datagram.Conn, now time.Time) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.slots {
		if p != nil {
			continue
		}
		player := &Player{
			ID:          uuid.New().String()[:8], // Short ID
			Slot:        i,
			Name:        "player",
			Conn:        conn,
			ConnectedAt: now,
		}
		s.slots[i] = player
		return player
	}
	return nil
}

// RemovePlayer frees a slot.
func (s *State) RemovePlayer(slot int) *Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 0 || slot >= len(s.slots) {
		return nil
	}
	p := s.slots[slot]
	s.slots[slot] = nil
	return p
}

// GetPlayer returns the player in slot.
func (s *State) GetPlayer(slot int) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slot < 0 || slot >= len(s.slots) {
		return nil
	}
	return s.slots[slot]
}

// GetPlayerByConn returns the player using conn.
func (s *State) GetPlayerByConn(conn *datagram.Conn) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.slots {
		if p != nil && p.Conn == conn {
			return p
		}
	}
	return nil
}

// GetPlayerByName finds a player by name.
func (s *State) GetPlayerByName(name string) *Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.slots {
		if p != nil && p.Name == name {
			return p
		}
	}
	return nil
}

// AllPlayers returns the players in slot order.
func (s *State) AllPlayers() []*Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]*Player, 0, len(s.slots))
	for _, p := range s.slots {
		if p != nil {
			players = append(players, p)
		}
	}
	return players
}

// PlayerCount returns the number of occupied slots.
func (s *State) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.slots {
		if p != nil {
			n++
		}
	}
	return n
}

// MaxPlayers returns the number of slots.
func (s *State) MaxPlayers() int { return len(s.slots) }

// Tick increments the tick counter.
func (s *State) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	return s.tick
}

// CurrentTick returns the current tick.
func (s *State) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}
