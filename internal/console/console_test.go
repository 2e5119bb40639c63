package console

import (
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/cvar"
)

func newTestConsole() (*Console, *cvar.Registry) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	vars := cvar.NewRegistry()
	return New(vars, log), vars
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"status", []string{"status"}},
		{"  ban  10.0.0.1   255.0.0.0 ", []string{"ban", "10.0.0.1", "255.0.0.0"}},
		{`hostname "my server"`, []string{"hostname", "my server"}},
		{`say ""`, []string{"say", ""}},
		{"kick 2 // bye", []string{"kick", "2"}},
		{`echo "unterminated`, []string{"echo", "unterminated"}},
		{"", nil},
	}

	for _, tt := range tests {
		if got := Tokenize(tt.line); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q): expected %q, got %q", tt.line, tt.want, got)
		}
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines(`a; b "x;y"` + "\nc")
	want := []string{"a", ` b "x;y"`, "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestConsole_ExecuteCapturesOutput(t *testing.T) {
	c, _ := newTestConsole()

	var gotArgs []string
	c.Register("echo", "print arguments", func(out io.Writer, args []string) error {
		gotArgs = args
		_, err := io.WriteString(out, strings.Join(args, " ")+"\n")
		return err
	})

	out := c.Execute("echo hello world; echo again")
	if out != "hello world\nagain\n" {
		t.Errorf("unexpected output %q", out)
	}
	if !reflect.DeepEqual(gotArgs, []string{"again"}) {
		t.Errorf("unexpected args %q", gotArgs)
	}
}

func TestConsole_CommandError(t *testing.T) {
	c, _ := newTestConsole()
	c.Register("fail", "", func(out io.Writer, args []string) error {
		return errors.New("it broke")
	})

	if out := c.Execute("FAIL"); out != "it broke\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConsole_CvarFallback(t *testing.T) {
	c, vars := newTestConsole()
	vars.MustRegister("hostname", "UNNAMED", cvar.Server)

	if out := c.Execute("hostname"); out != `"hostname" is "UNNAMED"`+"\n" {
		t.Errorf("unexpected output %q", out)
	}
	c.Execute(`hostname "LAN party"`)
	if vars.Get("hostname").String() != "LAN party" {
		t.Errorf("expected set, got %q", vars.Get("hostname").String())
	}
}

func TestConsole_Unknown(t *testing.T) {
	c, _ := newTestConsole()
	if out := c.Execute("frobnicate"); out != `Unknown command "frobnicate"`+"\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConsole_Help(t *testing.T) {
	c, _ := newTestConsole()
	out := c.Execute("help")
	if !strings.Contains(out, "cvarlist") || !strings.Contains(out, "help") {
		t.Errorf("help output missing commands: %q", out)
	}
}
