// Package query runs the client side of the control channel: LAN server
// search, player and rule listings, and remote console commands.
//
// Each exchange is a poll procedure on a sched.Scheduler. A Client runs
// one exchange at a time; starting another while one is active returns
// ErrInProgress. Completion callbacks run inside Scheduler.Poll.
package query

import (
	"net/netip"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/hostcache"
	"github.com/LemmyAI/netgame/internal/protocol"
	"github.com/LemmyAI/netgame/internal/sched"
	"github.com/LemmyAI/netgame/internal/transport"
)

// Config holds query timing.
type Config struct {
	Port            int    `yaml:"port"`
	GameID          string `yaml:"game_id"`
	ProtocolVersion byte   `yaml:"protocol_version"`

	PollInterval     time.Duration `yaml:"poll_interval"`
	PollBudget       int           `yaml:"poll_budget"`
	SearchDuration   time.Duration `yaml:"search_duration"`
	RebroadcastDelay time.Duration `yaml:"rebroadcast_delay"`

	// DefaultMaxPlayers bounds a player query when the server is not cached.
	DefaultMaxPlayers int `yaml:"default_max_players"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:              26000,
		GameID:            "QUAKE",
		ProtocolVersion:   3,
		PollInterval:      100 * time.Millisecond,
		PollBudget:        20,
		SearchDuration:    1500 * time.Millisecond,
		RebroadcastDelay:  750 * time.Millisecond,
		DefaultMaxPlayers: 16,
	}
}

// Player is one PLAYER_INFO answer.
type Player struct {
	Index       int
	Name        string
	Colors      int
	Frags       int
	ConnectTime time.Duration
	Address     string
}

// Rule is one RULE_INFO answer.
type Rule struct {
	Name  string
	Value string
}

// Client runs control exchanges against servers.
type Client struct {
	config Config
	net    transport.Driver
	sched  *sched.Scheduler
	clock  clock.Clock
	cache  *hostcache.Cache
	log    logrus.FieldLogger

	ignore netip.AddrPort

	sock  transport.Socket
	buf   []byte
	procs []*sched.Procedure
}

// NewClient creates a query client. Discovered servers go into cache.
func NewClient(config Config, net transport.Driver, s *sched.Scheduler, clk clock.Clock, cache *hostcache.Cache, log logrus.FieldLogger) *Client {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		config: config,
		net:    net,
		sched:  s,
		clock:  clk,
		cache:  cache,
		log:    log.WithField("component", "query"),
		buf:    make([]byte, protocol.MaxPacketSize),
	}
}

// IgnoreAddr makes Search skip answers from addr, normally the local
// server's listen address.
func (c *Client) IgnoreAddr(addr netip.AddrPort) {
	c.ignore = addr
}

// Busy reports whether an exchange is running.
func (c *Client) Busy() bool { return c.sock != nil }

// Cache returns the host cache.
func (c *Client) Cache() *hostcache.Cache { return c.cache }

// Cancel stops the running exchange without calling its callback.
func (c *Client) Cancel() {
	c.finish()
}

func (c *Client) begin() error {
	if c.sock != nil {
		return ErrInProgress
	}
	sock, err := c.net.Open(0)
	if err != nil {
		return errors.Wrap(err, "open query socket")
	}
	c.sock = sock
	return nil
}

func (c *Client) finish() {
	for _, p := range c.procs {
		c.sched.Cancel(p)
	}
	c.procs = nil
	if c.sock != nil {
		if err := c.sock.Close(); err != nil {
			c.log.WithError(err).Debug("query socket close failed")
		}
		c.sock = nil
	}
}

func (c *Client) schedule(p *sched.Procedure, delay time.Duration) {
	if c.sock == nil {
		return
	}
	c.sched.Schedule(p, delay)
}

func (c *Client) send(msg protocol.Message, to netip.AddrPort) {
	if _, err := c.sock.Write(protocol.Encode(msg), to); err != nil {
		c.log.WithError(err).WithField("to", to.String()).Warn("query send failed")
	}
}

// drain decodes every queued reply. A valid from restricts replies to
// that sender.
func (c *Client) drain(from netip.AddrPort, fn func(msg protocol.Message, from netip.AddrPort)) {
	for c.sock != nil {
		n, addr, err := c.sock.Read(c.buf)
		if err != nil {
			c.log.WithError(err).Warn("query read failed")
			return
		}
		if n == 0 {
			return
		}
		if from.IsValid() && transport.CompareAddr(addr, from) != transport.AddrSame {
			continue
		}
		msg, err := protocol.Decode(c.buf[:n])
		if err != nil {
			c.log.WithError(err).Debug("bad reply")
			continue
		}
		fn(msg, addr)
	}
}

// Search broadcasts SERVER_INFO on the LAN and collects answers into the
// host cache.
func (c *Client) Search(done func(entries []hostcache.Entry, err error)) error {
	if err := c.begin(); err != nil {
		return err
	}
	c.cache.Clear()

	start := c.clock.Now()
	req := &protocol.ServerInfoRequest{GameID: c.config.GameID, Version: c.config.ProtocolVersion}
	broadcast := func() {
		if c.sock == nil {
			return
		}
		if err := c.sock.Broadcast(protocol.Encode(req), c.config.Port); err != nil {
			c.log.WithError(err).Warn("broadcast failed")
		}
	}

	rebroadcast := sched.NewProcedure(broadcast)

	var poll *sched.Procedure
	poll = sched.NewProcedure(func() {
		c.drain(netip.AddrPort{}, func(msg protocol.Message, from netip.AddrPort) {
			info, ok := msg.(*protocol.ServerInfoReply)
			if !ok {
				return
			}
			if c.ignore.IsValid() && transport.CompareAddr(from, c.ignore) == transport.AddrSame {
				return
			}
			c.addHost(info, from)
		})

		if c.clock.Since(start) >= c.config.SearchDuration {
			c.finish()
			done(c.cache.Entries(), nil)
			return
		}
		c.schedule(poll, c.config.PollInterval)
	})

	c.procs = []*sched.Procedure{rebroadcast, poll}
	broadcast()
	c.schedule(rebroadcast, c.config.RebroadcastDelay)
	c.schedule(poll, c.config.PollInterval)
	return nil
}

func (c *Client) addHost(info *protocol.ServerInfoReply, from netip.AddrPort) {
	e, err := c.cache.Add(hostcache.Entry{
		Name:     info.HostName,
		Map:      info.LevelName,
		CName:    info.Address,
		Addr:     from,
		Driver:   c.net.Name(),
		Users:    int(info.Users),
		MaxUsers: int(info.MaxUsers),
		Version:  int(info.Version),
		SeenAt:   c.clock.Now(),
	})
	switch err {
	case nil:
		c.log.WithFields(logrus.Fields{"name": e.Name, "addr": from.String()}).Debug("found server")
	case hostcache.ErrCacheFull:
		c.log.WithField("addr", from.String()).Debug("host cache full")
	}
}

// Players asks host for each player slot and reports the answers in
// slot order.
func (c *Client) Players(host string, done func(players []Player, err error)) error {
	addr, err := c.net.Resolve(host, c.config.Port)
	if err != nil {
		return err
	}
	if err := c.begin(); err != nil {
		return err
	}

	slots := c.config.DefaultMaxPlayers
	if e, ok := c.cache.Get(addr); ok && e.MaxUsers > 0 {
		slots = e.MaxUsers
	}
	for i := 0; i < slots; i++ {
		c.send(&protocol.PlayerInfoRequest{Index: byte(i)}, addr)
	}

	seen := make(map[byte]Player)
	budget := c.config.PollBudget

	finish := func(err error) {
		c.finish()
		players := make([]Player, 0, len(seen))
		for _, p := range seen {
			players = append(players, p)
		}
		sort.Slice(players, func(i, j int) bool { return players[i].Index < players[j].Index })
		done(players, err)
	}

	var poll *sched.Procedure
	poll = sched.NewProcedure(func() {
		c.drain(addr, func(msg protocol.Message, _ netip.AddrPort) {
			r, ok := msg.(*protocol.PlayerInfoReply)
			if !ok {
				return
			}
			seen[r.Index] = Player{
				Index:       int(r.Index),
				Name:        r.Name,
				Colors:      int(r.Colors),
				Frags:       int(r.Frags),
				ConnectTime: time.Duration(r.ConnectTime) * time.Second,
				Address:     r.Address,
			}
		})

		if len(seen) >= slots {
			finish(nil)
			return
		}
		budget--
		if budget <= 0 {
			if len(seen) == 0 {
				finish(ErrNoResponse)
			} else {
				finish(nil)
			}
			return
		}
		c.schedule(poll, c.config.PollInterval)
	})

	c.procs = []*sched.Procedure{poll}
	c.schedule(poll, c.config.PollInterval)
	return nil
}

// Rules pages through the server-visible rules of host.
func (c *Client) Rules(host string, done func(rules []Rule, err error)) error {
	addr, err := c.net.Resolve(host, c.config.Port)
	if err != nil {
		return err
	}
	if err := c.begin(); err != nil {
		return err
	}

	var rules []Rule
	budget := c.config.PollBudget
	finished := false

	var poll *sched.Procedure
	poll = sched.NewProcedure(func() {
		c.drain(addr, func(msg protocol.Message, _ netip.AddrPort) {
			r, ok := msg.(*protocol.RuleInfoReply)
			if !ok || finished {
				return
			}
			budget = c.config.PollBudget
			if r.Name == "" {
				finished = true
				c.finish()
				done(rules, nil)
				return
			}
			rules = append(rules, Rule{Name: r.Name, Value: r.Value})
			c.send(&protocol.RuleInfoRequest{Prev: r.Name}, addr)
		})
		if finished {
			return
		}

		budget--
		if budget <= 0 {
			c.finish()
			done(rules, ErrNoResponse)
			return
		}
		c.schedule(poll, c.config.PollInterval)
	})

	c.procs = []*sched.Procedure{poll}
	c.send(&protocol.RuleInfoRequest{}, addr)
	c.schedule(poll, c.config.PollInterval)
	return nil
}

// Rcon runs command on host's console.
func (c *Client) Rcon(host, password, command string, done func(output string, err error)) error {
	addr, err := c.net.Resolve(host, c.config.Port)
	if err != nil {
		return err
	}
	if err := c.begin(); err != nil {
		return err
	}

	budget := c.config.PollBudget
	finished := false

	var poll *sched.Procedure
	poll = sched.NewProcedure(func() {
		c.drain(addr, func(msg protocol.Message, _ netip.AddrPort) {
			r, ok := msg.(*protocol.RconReply)
			if !ok || finished {
				return
			}
			finished = true
			c.finish()
			if !r.OK() {
				done("", &RconError{Reason: r.Reason})
				return
			}
			done(r.Output, nil)
		})
		if finished {
			return
		}

		budget--
		if budget <= 0 {
			c.finish()
			done("", ErrNoResponse)
			return
		}
		c.schedule(poll, c.config.PollInterval)
	})

	c.procs = []*sched.Procedure{poll}
	c.send(&protocol.RconRequest{Password: password, Text: command}, addr)
	c.schedule(poll, c.config.PollInterval)
	return nil
}
