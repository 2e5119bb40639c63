package game

import (
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/LemmyAI/netgame/internal/datagram"
)

func (e *Engine) registerCommands() {
	e.console.Register("status", "show server and player status", e.cmdStatus)
	e.console.Register("kick", "kick <slot|name>: disconnect a player", e.cmdKick)
	e.console.Register("ban", "ban [address [mask]] | ban off", e.cmdBan)
	e.console.Register("net_stats", "net_stats [*|address|json]: traffic counters", e.cmdNetStats)
}

func (e *Engine) cmdStatus(out io.Writer, args []string) error {
	fmt.Fprintf(out, "host:    %s\n", e.HostName())
	fmt.Fprintf(out, "map:     %s\n", e.LevelName())
	fmt.Fprintf(out, "players: %d active (%d max)\n\n", e.state.PlayerCount(), e.state.MaxPlayers())

	now := e.clock.Now()
	for _, p := range e.state.AllPlayers() {
		online := now.Sub(p.ConnectedAt).Truncate(time.Second)
		fmt.Fprintf(out, "#%-2d %-16.16s %3d %9s\n", p.Slot+1, p.Name, p.Frags, online)
		fmt.Fprintf(out, "    %s\n", p.Conn.Addr())
	}
	return nil
}

func (e *Engine) cmdKick(out io.Writer, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kick <slot|name>")
	}

	var p *Player
	if n, err := strconv.Atoi(args[0]); err == nil {
		p = e.state.GetPlayer(n - 1)
	} else {
		p = e.state.GetPlayerByName(args[0])
	}
	if p == nil {
		return errors.Errorf("no player %q", args[0])
	}

	e.Kick(p, "kicked")
	fmt.Fprintf(out, "kicked %s\n", p.Name)
	return nil
}

func (e *Engine) cmdBan(out io.Writer, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(out, e.driver.Ban())
		return nil
	}
	b, err := datagram.ParseBan(args)
	if err != nil {
		return err
	}
	e.driver.SetBan(b)
	fmt.Fprintln(out, b)
	return nil
}

func (e *Engine) cmdNetStats(out io.Writer, args []string) error {
	if len(args) == 0 {
		printStats(out, e.driver.Stats())
		return nil
	}

	switch args[0] {
	case "json":
		st, err := e.driver.Stats().Struct()
		if err != nil {
			return errors.Wrap(err, "stats")
		}
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
		if err != nil {
			return errors.Wrap(err, "stats")
		}
		fmt.Fprintln(out, string(b))
	case "*":
		for _, c := range e.driver.Conns() {
			fmt.Fprintf(out, "%s\n", c.Addr())
			printStats(out, c.Stats())
		}
	default:
		addr, err := netip.ParseAddrPort(args[0])
		if err != nil {
			return errors.Wrapf(err, "net_stats %q", args[0])
		}
		for _, c := range e.driver.Conns() {
			if c.Addr() == addr {
				printStats(out, c.Stats())
				return nil
			}
		}
		return errors.Errorf("no connection from %s", addr)
	}
	return nil
}

func printStats(out io.Writer, s datagram.Stats) {
	fmt.Fprintf(out, "unreliable messages sent   = %d\n", s.UnreliableMessagesSent)
	fmt.Fprintf(out, "unreliable messages recv   = %d\n", s.UnreliableMessagesReceived)
	fmt.Fprintf(out, "reliable messages sent     = %d\n", s.MessagesSent)
	fmt.Fprintf(out, "reliable messages received = %d\n", s.MessagesReceived)
	fmt.Fprintf(out, "packetsSent                = %d\n", s.PacketsSent)
	fmt.Fprintf(out, "packetsReSent              = %d\n", s.PacketsResent)
	fmt.Fprintf(out, "packetsReceived            = %d\n", s.PacketsReceived)
	fmt.Fprintf(out, "receivedDuplicateCount     = %d\n", s.ReceivedDuplicates)
	fmt.Fprintf(out, "shortPacketCount           = %d\n", s.ShortPackets)
	fmt.Fprintf(out, "droppedDatagrams           = %d\n", s.DroppedDatagrams)
	fmt.Fprintf(out, "forgedPackets              = %d\n", s.ForgedPackets)
}
