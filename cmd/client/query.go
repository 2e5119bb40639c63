package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LemmyAI/netgame/internal/hostcache"
	"github.com/LemmyAI/netgame/internal/query"
	"github.com/LemmyAI/netgame/internal/sched"
)

// runQuery starts one exchange with start and polls the scheduler until
// the exchange calls finish or the command is interrupted.
func runQuery(cmd *cobra.Command, start func(q *query.Client, finish func(error)) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := sched.New(nil)
	q := query.NewClient(cfg.Query, cfg.NewDriver(log), s, nil, hostcache.New(cfg.HostCache), log)

	var (
		finished bool
		result   error
	)
	err := start(q, func(err error) {
		finished = true
		result = err
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !finished {
		select {
		case <-ctx.Done():
			q.Cancel()
			return context.Cause(ctx)
		case <-ticker.C:
			s.Poll()
		}
	}
	return result
}

var slistCmd = &cobra.Command{
	Use:   "slist",
	Short: "Search the local network for servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var found []hostcache.Entry
		err := runQuery(cmd, func(q *query.Client, finish func(error)) error {
			return q.Search(func(entries []hostcache.Entry, err error) {
				found = entries
				finish(err)
			})
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderHosts(found))
		return nil
	},
}

var playersCmd = &cobra.Command{
	Use:   "players <host>",
	Short: "List the players on a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var players []query.Player
		err := runQuery(cmd, func(q *query.Client, finish func(error)) error {
			return q.Players(args[0], func(p []query.Player, err error) {
				players = p
				finish(err)
			})
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderPlayers(players))
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules <host>",
	Short: "List the server rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rules []query.Rule
		err := runQuery(cmd, func(q *query.Client, finish func(error)) error {
			return q.Rules(args[0], func(r []query.Rule, err error) {
				rules = r
				finish(err)
			})
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderRules(rules))
		return nil
	},
}

var rconPassword string

var rconCmd = &cobra.Command{
	Use:   "rcon <host> <command...>",
	Short: "Run a console command on a server",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var output string
		err := runQuery(cmd, func(q *query.Client, finish func(error)) error {
			return q.Rcon(args[0], rconPassword, joinArgs(args[1:]), func(out string, err error) {
				output = out
				finish(err)
			})
		})
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), output)
		return nil
	},
}

// joinArgs rebuilds a console line, quoting arguments that contain spaces.
func joinArgs(args []string) string {
	line := ""
	for i, a := range args {
		if i > 0 {
			line += " "
		}
		if a == "" || strings.ContainsAny(a, " \t") {
			line += `"` + a + `"`
		} else {
			line += a
		}
	}
	return line
}

func init() {
	rconCmd.Flags().StringVarP(&rconPassword, "password", "p", "", "rcon password")

	rootCmd.AddCommand(slistCmd)
	rootCmd.AddCommand(playersCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(rconCmd)
}
