package query

import (
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/datagram"
	"github.com/LemmyAI/netgame/internal/hostcache"
	"github.com/LemmyAI/netgame/internal/sched"
	"github.com/LemmyAI/netgame/internal/transport"
)

type testHost struct {
	name    string
	players []datagram.PlayerInfo
	rules   []Rule
}

func (h *testHost) HostName() string               { return h.name }
func (h *testHost) LevelName() string              { return "dm4" }
func (h *testHost) MaxPlayers() int                { return 8 }
func (h *testHost) Players() []datagram.PlayerInfo { return h.players }
func (h *testHost) RconPassword() string           { return "secret" }
func (h *testHost) ConnectPassword() (int32, bool) { return 0, false }
func (h *testHost) Execute(text string) string     { return "ran " + text + "\n" }

func (h *testHost) NextRule(prev string) (string, string, bool) {
	i := 0
	if prev != "" {
		for i < len(h.rules) && h.rules[i].Name != prev {
			i++
		}
		i++
	}
	if i >= len(h.rules) {
		return "", "", false
	}
	return h.rules[i].Name, h.rules[i].Value, true
}

type testEnv struct {
	net     *transport.MockNetwork
	clock   *clock.Mock
	sched   *sched.Scheduler
	servers []*datagram.Driver
	client  *Client
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		net:   transport.NewMockNetwork(),
		clock: clock.NewMock(),
	}
	env.sched = sched.New(env.clock)
	env.client = NewClient(DefaultConfig(), env.net.Driver("10.0.0.2"), env.sched, env.clock,
		hostcache.New(hostcache.DefaultConfig()), quietLogger())
	return env
}

func (env *testEnv) addServer(t *testing.T, ip string, host datagram.Host) *datagram.Driver {
	t.Helper()
	d := datagram.New(datagram.DefaultConfig(), env.net.Driver(ip), env.clock, quietLogger())
	if err := d.Listen(host); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	env.servers = append(env.servers, d)
	return d
}

// step advances one poll interval.
func (env *testEnv) step() {
	for _, s := range env.servers {
		s.Pump()
	}
	env.clock.Add(100 * time.Millisecond)
	env.sched.Poll()
}

func (env *testEnv) run(steps int) {
	for i := 0; i < steps; i++ {
		env.step()
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{name: "alpha"})
	env.addServer(t, "10.0.0.3", &testHost{name: "alpha"})
	own := env.addServer(t, "10.0.0.2", &testHost{name: "me"})
	env.client.IgnoreAddr(own.ListenAddr())

	calls := 0
	var found []hostcache.Entry
	err := env.client.Search(func(entries []hostcache.Entry, err error) {
		calls++
		found = entries
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	env.run(14)
	if calls != 0 {
		t.Fatal("search finished early")
	}
	env.run(1)
	if calls != 1 {
		t.Fatalf("expected search to finish at 1.5s, calls=%d", calls)
	}
	if env.client.Busy() {
		t.Error("client still busy")
	}

	if len(found) != 2 {
		t.Fatalf("expected 2 servers, got %d: %+v", len(found), found)
	}
	if found[0].Name != "alpha" || found[1].Name != "alpha#2" {
		t.Errorf("expected suffixed names, got %s and %s", found[0].Name, found[1].Name)
	}
	if found[0].Map != "dm4" || found[0].MaxUsers != 8 {
		t.Errorf("unexpected entry %+v", found[0])
	}

	broadcasts := 0
	for _, m := range env.net.SentMessages() {
		if m.To == own.ListenAddr() {
			broadcasts++
		}
	}
	if broadcasts != 2 {
		t.Errorf("expected 2 broadcasts, got %d", broadcasts)
	}
}

func TestSearchFinishesOnLateTick(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{name: "alpha"})

	calls := 0
	err := env.client.Search(func(entries []hostcache.Entry, err error) {
		calls++
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	// A stalled loop: the whole search window passes before the first poll,
	// so the finishing poll and the rebroadcast fall due in one batch.
	env.servers[0].Pump()
	env.clock.Add(2 * time.Second)
	env.sched.Poll()

	if calls != 1 {
		t.Fatalf("expected done once, got %d", calls)
	}
	if env.client.Busy() {
		t.Error("client still busy")
	}
	if env.sched.Len() != 0 {
		t.Errorf("expected no queued procedures, got %d", env.sched.Len())
	}

	env.clock.Add(time.Second)
	env.sched.Poll()
	if calls != 1 {
		t.Errorf("expected no further callbacks, got %d", calls)
	}
}

func TestSingleQueryInProgress(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{name: "alpha"})

	if err := env.client.Search(func([]hostcache.Entry, error) {}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if err := env.client.Rcon("10.0.0.1", "secret", "status", func(string, error) {}); err != ErrInProgress {
		t.Errorf("expected ErrInProgress, got %v", err)
	}
	if err := env.client.Search(func([]hostcache.Entry, error) {}); err != ErrInProgress {
		t.Errorf("expected ErrInProgress, got %v", err)
	}

	env.client.Cancel()
	if env.sched.Len() != 0 {
		t.Errorf("expected no scheduled procedures, got %d", env.sched.Len())
	}
	if err := env.client.Rules("10.0.0.1", func([]Rule, error) {}); err != nil {
		t.Errorf("expected new query after Cancel, got %v", err)
	}
}

func TestPlayers(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{
		name: "alpha",
		players: []datagram.PlayerInfo{
			{Name: "ranger", Colors: 0x4d, Frags: 12},
			{Name: "shambler", Colors: 0, Frags: -1},
		},
	})

	var got []Player
	var gotErr error
	done := false
	err := env.client.Players("10.0.0.1", func(players []Player, err error) {
		got, gotErr, done = players, err, true
	})
	if err != nil {
		t.Fatalf("Players failed: %v", err)
	}

	// Only two of sixteen slots answer, so the poll budget runs out.
	env.run(19)
	if done {
		t.Fatal("finished before the poll budget ran out")
	}
	env.run(1)
	if !done {
		t.Fatal("expected completion after 20 polls")
	}
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if len(got) != 2 || got[0].Name != "ranger" || got[1].Name != "shambler" {
		t.Fatalf("unexpected players %+v", got)
	}
	if got[0].Frags != 12 || got[1].Frags != -1 || got[0].Colors != 0x4d {
		t.Errorf("unexpected fields %+v", got)
	}
}

func TestPlayersUsesCachedMax(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{
		name:    "alpha",
		players: []datagram.PlayerInfo{{Name: "a"}, {Name: "b"}},
	})
	env.client.Cache().Add(hostcache.Entry{Name: "alpha", Addr: netip.MustParseAddrPort("10.0.0.1:26000"), MaxUsers: 2})

	done := false
	env.client.Players("10.0.0.1", func(players []Player, err error) { done = true })
	env.run(1)
	if !done {
		t.Error("expected completion once every slot answered")
	}
}

func TestRules(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{
		name:  "alpha",
		rules: []Rule{{"deathmatch", "1"}, {"fraglimit", "20"}, {"timelimit", "15"}},
	})

	var got []Rule
	done := false
	err := env.client.Rules("10.0.0.1", func(rules []Rule, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got, done = rules, true
	})
	if err != nil {
		t.Fatalf("Rules failed: %v", err)
	}

	env.run(10)
	if !done {
		t.Fatal("rule query never finished")
	}
	if len(got) != 3 || got[2].Name != "timelimit" || got[2].Value != "15" {
		t.Errorf("unexpected rules %+v", got)
	}
}

func TestRcon(t *testing.T) {
	env := newTestEnv(t)
	env.addServer(t, "10.0.0.1", &testHost{name: "alpha"})

	var out string
	var gotErr error
	env.client.Rcon("10.0.0.1", "secret", "status", func(output string, err error) {
		out, gotErr = output, err
	})
	env.run(1)
	if gotErr != nil || out != "ran status\n" {
		t.Errorf("unexpected result %q, %v", out, gotErr)
	}

	env.client.Rcon("10.0.0.1", "guess", "status", func(output string, err error) {
		out, gotErr = output, err
	})
	env.run(1)
	var rerr *RconError
	if !errors.As(gotErr, &rerr) || rerr.Reason != datagram.ReasonRconPassword {
		t.Errorf("expected RconError, got %v", gotErr)
	}
}

func TestRconNoResponse(t *testing.T) {
	env := newTestEnv(t)

	var gotErr error
	calls := 0
	env.client.Rcon("10.0.0.9", "secret", "status", func(output string, err error) {
		calls++
		gotErr = err
	})
	env.run(25)

	if calls != 1 || gotErr != ErrNoResponse {
		t.Errorf("expected one ErrNoResponse, got %d calls, %v", calls, gotErr)
	}
	if env.client.Busy() {
		t.Error("client still busy")
	}
}
