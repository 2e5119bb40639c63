package game

import (
	"context"
	"io"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/console"
	"github.com/LemmyAI/netgame/internal/cvar"
	"github.com/LemmyAI/netgame/internal/datagram"
	"github.com/LemmyAI/netgame/internal/sched"
	"github.com/LemmyAI/netgame/internal/transport"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testClient is one connected player.
type testClient struct {
	driver     *datagram.Driver
	conn       *datagram.Conn
	reliable   []string
	unreliable []string
}

type testServer struct {
	t      *testing.T
	net    *transport.MockNetwork
	clock  *clock.Mock
	engine *Engine
	vars   *cvar.Registry
	con    *console.Console

	clients []*testClient
}

func newTestServer(t *testing.T, config Config) *testServer {
	t.Helper()
	s := &testServer{
		t:     t,
		net:   transport.NewMockNetwork(),
		clock: clock.NewMock(),
		vars:  cvar.NewRegistry(),
	}
	log := quietLogger()
	s.con = console.New(s.vars, log)

	drv := datagram.New(datagram.DefaultConfig(), s.net.Driver("10.0.0.1"), s.clock, log)
	s.engine = NewEngine(config, drv, sched.New(s.clock), s.vars, s.con, s.clock, log)
	if err := drv.Listen(s.engine); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	return s
}

func (s *testServer) frames(n int) {
	for i := 0; i < n; i++ {
		s.engine.Frame()
		for _, c := range s.clients {
			c.driver.Pump()
		}
	}
}

func (s *testServer) join(ip string) *testClient {
	s.t.Helper()
	c := &testClient{
		driver: datagram.New(datagram.DefaultConfig(), s.net.Driver(ip), s.clock, quietLogger()),
	}
	c.driver.OnMessage(func(_ *datagram.Conn, data []byte, reliable bool) {
		if reliable {
			c.reliable = append(c.reliable, string(data))
		} else {
			c.unreliable = append(c.unreliable, string(data))
		}
	})

	conn, err := c.driver.Connect("10.0.0.1")
	if err != nil {
		s.t.Fatalf("Connect failed: %v", err)
	}
	c.conn = conn
	s.clients = append(s.clients, c)
	s.frames(3)
	if !conn.Active() {
		s.t.Fatalf("client %s did not connect: %v", ip, conn.Err())
	}
	return c
}

// say sends one reliable command and waits for it to be acknowledged.
func (s *testServer) say(c *testClient, text string) {
	s.t.Helper()
	if err := c.conn.SendMessage([]byte(text)); err != nil {
		s.t.Fatalf("SendMessage failed: %v", err)
	}
	for i := 0; i < 10 && !c.conn.CanSendMessage(); i++ {
		s.frames(1)
	}
	s.frames(3)
}

func TestEngineRunStops(t *testing.T) {
	network := transport.NewMockNetwork()
	vars := cvar.NewRegistry()
	log := quietLogger()
	drv := datagram.New(datagram.DefaultConfig(), network.Driver("10.0.0.1"), nil, log)
	engine := NewEngine(DefaultConfig(), drv, nil, vars, console.New(vars, log), nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if engine.CurrentTick() < 1 {
		t.Errorf("expected at least 1 tick, got %d", engine.CurrentTick())
	}
	if network.Socket(netip.MustParseAddrPort("10.0.0.1:26000")) != nil {
		t.Error("listen socket still open after Run")
	}
}

func TestEngineSubmit(t *testing.T) {
	network := transport.NewMockNetwork()
	vars := cvar.NewRegistry()
	log := quietLogger()
	drv := datagram.New(datagram.DefaultConfig(), network.Driver("10.0.0.1"), nil, log)
	engine := NewEngine(DefaultConfig(), drv, nil, vars, console.New(vars, log), nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	submitCtx, submitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer submitCancel()
	out, err := engine.Submit(submitCtx, "hostname")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !strings.Contains(out, `"hostname" is "UNNAMED"`) {
		t.Errorf("unexpected output %q", out)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Nothing drains the queue once Run has returned.
	stopped, stoppedCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stoppedCancel()
	for i := 0; i < cap(engine.commands)+1; i++ {
		if _, err = engine.Submit(stopped, "status"); err != nil {
			break
		}
	}
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestEngineJoinAndLeave(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	c := s.join("10.0.0.2")

	if s.engine.PlayerCount() != 1 {
		t.Fatalf("expected 1 player, got %d", s.engine.PlayerCount())
	}
	if len(c.reliable) == 0 || c.reliable[0] != "slot 0" {
		t.Errorf("expected slot assignment, got %v", c.reliable)
	}

	s.say(c, "disconnect")
	if s.engine.PlayerCount() != 0 {
		t.Errorf("expected 0 players after disconnect, got %d", s.engine.PlayerCount())
	}
}

func TestEngineNameAndSay(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	a := s.join("10.0.0.2")
	b := s.join("10.0.0.3")

	s.say(a, "name ranger")
	s.say(a, "color 77")
	s.say(a, "say hello")

	p := s.engine.State().GetPlayer(0)
	if p.Name != "ranger" || p.Colors != 77 {
		t.Errorf("unexpected player %+v", p)
	}

	for _, c := range []*testClient{a, b} {
		if !contains(c.reliable, "print ranger: hello") {
			t.Errorf("client missing chat line, got %v", c.reliable)
		}
	}
}

func TestEngineRelaysUnreliable(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	a := s.join("10.0.0.2")
	b := s.join("10.0.0.3")

	if err := a.conn.SendUnreliable([]byte("origin 1 2 3")); err != nil {
		t.Fatalf("SendUnreliable failed: %v", err)
	}
	s.frames(2)

	if len(b.unreliable) != 1 || b.unreliable[0] != "origin 1 2 3" {
		t.Errorf("expected relayed datagram, got %v", b.unreliable)
	}
	if len(a.unreliable) != 0 {
		t.Errorf("sender got its own datagram back: %v", a.unreliable)
	}
}

func TestEngineTimeout(t *testing.T) {
	config := DefaultConfig()
	config.ClientTimeout = 10 * time.Second
	s := newTestServer(t, config)
	s.join("10.0.0.2")

	s.clock.Add(5 * time.Second)
	s.engine.Frame()
	if s.engine.PlayerCount() != 1 {
		t.Fatal("player dropped before the timeout")
	}

	s.clock.Add(6 * time.Second)
	s.engine.Frame()
	if s.engine.PlayerCount() != 0 {
		t.Error("expected silent player to time out")
	}
	if s.engine.Driver().ActiveCount() != 0 {
		t.Error("expected connection to be closed")
	}
}

func TestEngineHost(t *testing.T) {
	config := DefaultConfig()
	config.HostName = "frag fest"
	config.Password = 42
	s := newTestServer(t, config)

	if s.engine.HostName() != "frag fest" {
		t.Errorf("expected hostname, got %q", s.engine.HostName())
	}
	s.con.Execute(`hostname "renamed"`)
	if s.engine.HostName() != "renamed" {
		t.Errorf("expected cvar to drive hostname, got %q", s.engine.HostName())
	}
	if pw, ok := s.engine.ConnectPassword(); !ok || pw != 42 {
		t.Errorf("unexpected password %d %v", pw, ok)
	}

	var rules []string
	prev := ""
	for {
		name, _, ok := s.engine.NextRule(prev)
		if !ok {
			break
		}
		rules = append(rules, name)
		prev = name
	}
	want := "deathmatch fraglimit maxplayers sys_ticrate teamplay timelimit"
	if strings.Join(rules, " ") != want {
		t.Errorf("expected rules %q, got %q", want, strings.Join(rules, " "))
	}
}

func TestConsoleCommands(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.join("10.0.0.2")

	out := s.engine.Execute("status")
	if !strings.Contains(out, "players: 1 active (16 max)") || !strings.Contains(out, "10.0.0.2:") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	out = s.engine.Execute("net_stats json")
	if !strings.Contains(out, `"packetsSent"`) {
		t.Errorf("unexpected json output:\n%s", out)
	}
	out = s.engine.Execute("net_stats")
	if !strings.Contains(out, "reliable messages sent") {
		t.Errorf("unexpected net_stats output:\n%s", out)
	}
	addr := s.engine.Driver().Conns()[0].Addr().String()
	if out := s.engine.Execute("net_stats " + addr); !strings.Contains(out, "packetsReceived") {
		t.Errorf("unexpected per-connection output:\n%s", out)
	}

	if out := s.engine.Execute("ban"); !strings.Contains(out, "not active") {
		t.Errorf("unexpected ban output %q", out)
	}
	s.engine.Execute("ban 10.0.0.0 255.0.0.0")
	if !s.engine.Driver().Ban().Active() {
		t.Error("expected ban to be active")
	}

	s.engine.Execute("kick 1")
	if s.engine.PlayerCount() != 0 {
		t.Error("expected kick to free the slot")
	}
	if out := s.engine.Execute("kick 1"); !strings.Contains(out, "no player") {
		t.Errorf("unexpected output %q", out)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
