// Command server runs a game server on the datagram transport and reads
// console commands from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LemmyAI/netgame/internal/config"
	"github.com/LemmyAI/netgame/internal/console"
	"github.com/LemmyAI/netgame/internal/cvar"
	"github.com/LemmyAI/netgame/internal/datagram"
	"github.com/LemmyAI/netgame/internal/game"
	"github.com/LemmyAI/netgame/internal/sched"
)

var (
	cfgFile  string
	port     int
	logLevel string
	backend  string
)

// errQuit stops the errgroup; run treats it as a clean exit.
var errQuit = errors.New("quit")

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("2")).
	Border(lipgloss.RoundedBorder()).
	Padding(0, 1)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Run a netgame server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "netgame.yaml", "config file")
	rootCmd.Flags().IntVar(&port, "port", 0, "listen port (overrides datagram.port)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")
	rootCmd.Flags().StringVar(&backend, "backend", "", "udp or websocket (overrides backend)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if port != 0 {
		cfg.Datagram.Port = port
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.NewLogger()

	vars := cvar.NewRegistry()
	con := console.New(vars, log)
	drv := datagram.New(cfg.Datagram, cfg.NewDriver(log), nil, log)
	engine := game.NewEngine(cfg.Game, drv, sched.New(nil), vars, con, nil, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), bannerStyle.Render(fmt.Sprintf(
		"netgame server %q on %s port %d", cfg.Game.HostName, cfg.Backend, cfg.Datagram.Port)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		return readConsole(ctx, engine, cmd, log)
	})

	err = g.Wait()
	log.Info("👋 Bye!")
	if err == errQuit {
		return nil
	}
	return err
}

// readConsole feeds stdin lines to the engine until ctx is done or stdin
// closes. "quit" stops the server.
func readConsole(ctx context.Context, engine *game.Engine, cmd *cobra.Command, log logrus.FieldLogger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("console input failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				// Detached from a terminal: keep serving until signalled.
				<-ctx.Done()
				return nil
			}
			if line == "quit" || line == "exit" {
				return errQuit
			}
			out, err := engine.Submit(ctx, line)
			if err != nil {
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
		}
	}
}
