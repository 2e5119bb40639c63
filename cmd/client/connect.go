package main

import (
	"bufio"
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/LemmyAI/netgame/internal/datagram"
)

var playerName string

var connectCmd = &cobra.Command{
	Use:   "connect <host>",
	Short: "Join a server and chat from stdin",
	Long: `Join a server. Plain lines are sent as chat. Lines starting with "/"
are sent as raw commands, for example "/name ranger" or "/color 4".
"/quit" leaves the server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		d := datagram.New(cfg.Datagram, cfg.NewDriver(log), nil, log)
		defer d.Shutdown()

		var gone error
		d.OnMessage(func(_ *datagram.Conn, data []byte, reliable bool) {
			line, err := serverMessage(string(data))
			if err != nil {
				gone = err
				return
			}
			if reliable {
				fmt.Fprintln(out, line)
			}
		})
		d.OnDisconnect(func(_ *datagram.Conn, reason error) {
			gone = reason
		})

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err := d.Dial(dialCtx, args[0])
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, titleStyle.Render("connected to "+conn.Addr().String()))

		var outbox deque.Deque[[]byte]
		outbox.PushBack([]byte("name " + playerName))

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				leave(d, conn)
				return nil
			case line, ok := <-lines:
				if !ok {
					lines = nil
					continue
				}
				msg, quit := clientCommand(line)
				if quit {
					outbox.PushBack([]byte("disconnect"))
					lines = nil
					continue
				}
				if msg != "" {
					outbox.PushBack([]byte(msg))
				}
			case <-ticker.C:
				d.Pump()
			}

			if gone != nil {
				return gone
			}
			for outbox.Len() > 0 && conn.CanSendMessage() {
				msg := outbox.PopFront()
				if string(msg) == "disconnect" {
					leave(d, conn)
					return nil
				}
				if err := conn.SendMessage(msg); err != nil {
					return err
				}
			}
		}
	},
}

// leave tells the server we are going and waits briefly for the ACK.
func leave(d *datagram.Driver, conn *datagram.Conn) {
	for i := 0; i < 50 && !conn.CanSendMessage(); i++ {
		time.Sleep(10 * time.Millisecond)
		d.Pump()
	}
	if err := conn.SendMessage([]byte("disconnect")); err != nil {
		return
	}
	for i := 0; i < 50 && !conn.CanSendMessage(); i++ {
		time.Sleep(10 * time.Millisecond)
		d.Pump()
	}
}

// serverMessage turns a message from the server into a line to print, or
// an error when the server dropped us.
func serverMessage(text string) (string, error) {
	if reason, ok := strings.CutPrefix(text, "disconnect "); ok {
		return "", errors.Errorf("disconnected: %s", reason)
	}
	return strings.TrimPrefix(text, "print "), nil
}

// clientCommand maps one line of input to a message for the server.
func clientCommand(line string) (msg string, quit bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return "", false
	case line == "/quit":
		return "", true
	case strings.HasPrefix(line, "/"):
		return strings.TrimPrefix(line, "/"), false
	default:
		return "say " + line, false
	}
}

func init() {
	connectCmd.Flags().StringVar(&playerName, "name", "player", "player name")
	rootCmd.AddCommand(connectCmd)
}
