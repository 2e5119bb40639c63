// Package console runs operator and rcon command text and captures its output.
package console

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/LemmyAI/netgame/internal/cvar"
)

// Func runs one command. Output goes to out; a returned error is printed.
type Func func(out io.Writer, args []string) error

type command struct {
	name string
	help string
	fn   Func
}

// Console dispatches command lines to registered commands, falling back
// to console variables.
type Console struct {
	vars     *cvar.Registry
	log      logrus.FieldLogger
	commands map[string]command
	mu       sync.Mutex
}

// New creates a console over vars. A nil logger uses the logrus standard logger.
func New(vars *cvar.Registry, log logrus.FieldLogger) *Console {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Console{
		vars:     vars,
		log:      log.WithField("component", "console"),
		commands: make(map[string]command),
	}
	c.Register("help", "list commands", c.help)
	c.Register("cvarlist", "list console variables", c.cvarList)
	return c
}

// Register adds or replaces a command.
func (c *Console) Register(name, help string, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[strings.ToLower(name)] = command{name: name, help: help, fn: fn}
}

// Execute runs text and returns everything it printed.
func (c *Console) Execute(text string) string {
	var buf bytes.Buffer
	c.Run(text, &buf)
	return buf.String()
}

// Run executes each command line in text, writing output to out.
func (c *Console) Run(text string, out io.Writer) {
	for _, line := range SplitLines(text) {
		args := Tokenize(line)
		if len(args) == 0 {
			continue
		}
		c.runOne(out, args)
	}
}

func (c *Console) runOne(out io.Writer, args []string) {
	c.mu.Lock()
	cmd, ok := c.commands[strings.ToLower(args[0])]
	c.mu.Unlock()

	if ok {
		c.log.WithField("cmd", args[0]).Debug("executing")
		if err := cmd.fn(out, args[1:]); err != nil {
			fmt.Fprintln(out, err)
		}
		return
	}

	if c.vars != nil {
		if v := c.vars.Get(args[0]); v != nil {
			if len(args) == 1 {
				fmt.Fprintf(out, "%q is %q\n", v.Name, v.String())
				return
			}
			if err := c.vars.Set(v.Name, args[1]); err != nil {
				fmt.Fprintln(out, err)
			}
			return
		}
	}

	fmt.Fprintf(out, "Unknown command %q\n", args[0])
}

func (c *Console) help(out io.Writer, args []string) error {
	c.mu.Lock()
	cmds := make([]command, 0, len(c.commands))
	for _, cmd := range c.commands {
		cmds = append(cmds, cmd)
	}
	c.mu.Unlock()

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })
	for _, cmd := range cmds {
		fmt.Fprintf(out, "%-12s %s\n", cmd.name, cmd.help)
	}
	return nil
}

func (c *Console) cvarList(out io.Writer, args []string) error {
	if c.vars == nil {
		return nil
	}
	for _, v := range c.vars.All() {
		flag := ' '
		if v.Flags&cvar.Server != 0 {
			flag = 's'
		}
		fmt.Fprintf(out, "%c %s %q\n", flag, v.Name, v.String())
	}
	return nil
}
