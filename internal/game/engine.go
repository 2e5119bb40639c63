package game

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/console"
	"github.com/LemmyAI/netgame/internal/cvar"
	"github.com/LemmyAI/netgame/internal/datagram"
	"github.com/LemmyAI/netgame/internal/sched"
)

// Engine runs the server tick loop and answers for the server in the
// control protocol.
type Engine struct {
	config  Config
	state   *State
	driver  *datagram.Driver
	sched   *sched.Scheduler
	vars    *cvar.Registry
	console *console.Console
	clock   clock.Clock
	log     logrus.FieldLogger

	tickRate time.Duration
	commands chan command

	hostname     *cvar.Var
	rconPassword *cvar.Var
}

// NewEngine wires a game server onto driver. Commands and variables are
// registered on con and vars.
func NewEngine(config Config, driver *datagram.Driver, s *sched.Scheduler, vars *cvar.Registry, con *console.Console, clk clock.Clock, log logrus.FieldLogger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if config.TickRate <= 0 {
		config.TickRate = DefaultConfig().TickRate
	}

	e := &Engine{
		config:   config,
		state:    NewState(config),
		driver:   driver,
		sched:    s,
		vars:     vars,
		console:  con,
		clock:    clk,
		log:      log.WithField("component", "engine"),
		tickRate: time.Second / time.Duration(config.TickRate),
		commands: make(chan command, 16),
	}

	e.registerVars()
	e.registerCommands()

	driver.OnConnect(e.playerConnected)
	driver.OnDisconnect(e.playerDisconnected)
	driver.OnMessage(e.handleMessage)
	return e
}

func (e *Engine) registerVars() {
	e.hostname = e.vars.MustRegister("hostname", e.config.HostName, 0)
	e.rconPassword = e.vars.MustRegister("rcon_password", e.config.RconPassword, 0)
	e.vars.MustRegister("maxplayers", strconv.Itoa(e.config.MaxPlayers), cvar.Server|cvar.ReadOnly)
	e.vars.MustRegister("sys_ticrate", strconv.Itoa(e.config.TickRate), cvar.Server|cvar.ReadOnly)
	e.vars.MustRegister("deathmatch", "0", cvar.Server)
	e.vars.MustRegister("teamplay", "0", cvar.Server)
	e.vars.MustRegister("fraglimit", "0", cvar.Server)
	e.vars.MustRegister("timelimit", "0", cvar.Server)
}

// Run listens for clients and ticks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.driver.Listen(e); err != nil {
		return err
	}
	defer e.driver.Shutdown()

	ticker := e.clock.Ticker(e.tickRate)
	defer ticker.Stop()

	e.log.WithFields(logrus.Fields{
		"tick_rate": e.config.TickRate,
		"interval":  e.tickRate,
	}).Info("🎮 Engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("🛑 Engine stopped")
			return nil
		case <-ticker.C:
			e.Frame()
		case cmd := <-e.commands:
			cmd.reply <- e.console.Execute(cmd.text)
		}
	}
}

// command is console text queued from another goroutine.
type command struct {
	text  string
	reply chan string
}

// Submit runs console text on the tick loop and returns its output.
// It blocks until Run picks the command up or ctx is done.
func (e *Engine) Submit(ctx context.Context, text string) (string, error) {
	cmd := command{text: text, reply: make(chan string, 1)}
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case out := <-cmd.reply:
		return out, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Frame runs one tick: network input, scheduled procedures, timeouts and
// queued output.
func (e *Engine) Frame() {
	e.state.Tick()
	e.driver.Pump()
	if e.sched != nil {
		e.sched.Poll()
	}
	e.checkTimeouts()
	for _, p := range e.state.AllPlayers() {
		e.flush(p)
	}
}

func (e *Engine) checkTimeouts() {
	if e.config.ClientTimeout <= 0 {
		return
	}
	now := e.clock.Now()
	for _, p := range e.state.AllPlayers() {
		if now.Sub(p.Conn.LastMessageTime()) > e.config.ClientTimeout {
			e.Kick(p, "timed out")
		}
	}
}

// State returns the player slots.
func (e *Engine) State() *State { return e.state }

// Driver returns the datagram driver.
func (e *Engine) Driver() *datagram.Driver { return e.driver }

// CurrentTick returns the current game tick.
func (e *Engine) CurrentTick() uint64 { return e.state.CurrentTick() }

// PlayerCount returns current player count.
func (e *Engine) PlayerCount() int { return e.state.PlayerCount() }

// Kick closes a player's connection and frees the slot.
func (e *Engine) Kick(p *Player, reason string) {
	if err := p.Conn.SendUnreliable([]byte("disconnect " + reason)); err != nil {
		e.log.WithError(err).Debug("disconnect notice failed")
	}
	p.Conn.Close()
	e.removePlayer(p, reason)
}

func (e *Engine) playerConnected(c *datagram.Conn) {
	p := e.state.AddPlayer(c, e.clock.Now())
	if p == nil {
		e.log.WithField("addr", c.Addr().String()).Warn("no free player slot")
		c.Close()
		return
	}
	e.log.WithFields(logrus.Fields{"slot": p.Slot, "id": p.ID, "addr": c.Addr().String()}).Info("✅ Player joined")
	e.SendReliable(p, []byte("slot "+strconv.Itoa(p.Slot)))
}

func (e *Engine) playerDisconnected(c *datagram.Conn, reason error) {
	if p := e.state.GetPlayerByConn(c); p != nil {
		e.removePlayer(p, reason.Error())
	}
}

func (e *Engine) removePlayer(p *Player, reason string) {
	if e.state.RemovePlayer(p.Slot) != p {
		return
	}
	p.outbox.Clear()
	e.log.WithFields(logrus.Fields{"slot": p.Slot, "name": p.Name, "reason": reason}).Info("❎ Player left")
	e.Broadcast([]byte("print "+p.Name+" left the game"), true, nil)
}

// handleMessage interprets reliable client commands and relays
// unreliable payloads to every other player.
func (e *Engine) handleMessage(c *datagram.Conn, data []byte, reliable bool) {
	p := e.state.GetPlayerByConn(c)
	if p == nil {
		return
	}
	if !reliable {
		e.Broadcast(data, false, p)
		return
	}

	cmd, arg, _ := strings.Cut(string(data), " ")
	switch cmd {
	case "name":
		if arg == "" {
			return
		}
		old := p.Name
		p.Name = arg
		e.Broadcast([]byte("print "+old+" renamed to "+arg), true, nil)
	case "color":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return
		}
		p.Colors = int32(n)
	case "say":
		e.Broadcast([]byte("print "+p.Name+": "+arg), true, nil)
	case "disconnect":
		c.Close()
		e.removePlayer(p, "quit")
	default:
		e.log.WithFields(logrus.Fields{"slot": p.Slot, "cmd": cmd}).Debug("unknown client command")
	}
}

// HostName implements datagram.Host.
func (e *Engine) HostName() string { return e.hostname.String() }

// LevelName implements datagram.Host.
func (e *Engine) LevelName() string { return e.config.Level }

// MaxPlayers implements datagram.Host.
func (e *Engine) MaxPlayers() int { return e.state.MaxPlayers() }

// Players implements datagram.Host.
func (e *Engine) Players() []datagram.PlayerInfo {
	players := e.state.AllPlayers()
	out := make([]datagram.PlayerInfo, 0, len(players))
	for _, p := range players {
		out = append(out, datagram.PlayerInfo{
			Name:   p.Name,
			Colors: p.Colors,
			Frags:  p.Frags,
			Conn:   p.Conn,
		})
	}
	return out
}

// NextRule implements datagram.Host.
func (e *Engine) NextRule(prev string) (string, string, bool) {
	v, ok := e.vars.Next(prev, cvar.Server)
	if !ok {
		return "", "", false
	}
	return v.Name, v.String(), true
}

// RconPassword implements datagram.Host.
func (e *Engine) RconPassword() string { return e.rconPassword.String() }

// ConnectPassword implements datagram.Host.
func (e *Engine) ConnectPassword() (int32, bool) {
	return e.config.Password, e.config.Password != 0
}

// Execute implements datagram.Host.
func (e *Engine) Execute(text string) string { return e.console.Execute(text) }
