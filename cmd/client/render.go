package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/LemmyAI/netgame/internal/hostcache"
	"github.com/LemmyAI/netgame/internal/query"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	headerCell = lipgloss.NewStyle().Bold(true).Underline(true).PaddingRight(1)
	cell       = lipgloss.NewStyle().PaddingRight(1)
	fullCell   = cell.Foreground(lipgloss.Color("1"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderTable lays rows out in columns sized to their widest cell.
// highlight picks rows drawn with fullCell.
func renderTable(headers []string, rows [][]string, highlight func(int) bool) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, v := range row {
			if w := lipgloss.Width(v); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = headerCell.Width(widths[i] + 1).Render(h)
	}
	lines = append(lines, strings.Join(parts, ""))

	for r, row := range rows {
		style := cell
		if highlight != nil && highlight(r) {
			style = fullCell
		}
		for i, v := range row {
			parts[i] = style.Width(widths[i] + 1).Render(v)
		}
		lines = append(lines, strings.Join(parts, ""))
	}
	return strings.Join(lines, "\n")
}

func renderHosts(entries []hostcache.Entry) string {
	if len(entries) == 0 {
		return dimStyle.Render("No servers found.")
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{e.Name, e.Map, fmt.Sprintf("%d/%d", e.Users, e.MaxUsers), e.Addr.String()}
	}
	return renderTable([]string{"NAME", "MAP", "USERS", "ADDRESS"}, rows, func(i int) bool {
		return entries[i].MaxUsers > 0 && entries[i].Users >= entries[i].MaxUsers
	})
}

func renderPlayers(players []query.Player) string {
	if len(players) == 0 {
		return dimStyle.Render("No players.")
	}
	rows := make([][]string, len(players))
	for i, p := range players {
		rows[i] = []string{
			strconv.Itoa(p.Index + 1),
			p.Name,
			strconv.Itoa(p.Frags),
			fmt.Sprintf("%d:%02d", int(p.ConnectTime.Minutes()), int(p.ConnectTime.Seconds())%60),
			p.Address,
		}
	}
	return renderTable([]string{"#", "NAME", "FRAGS", "TIME", "ADDRESS"}, rows, nil)
}

func renderRules(rules []query.Rule) string {
	if len(rules) == 0 {
		return dimStyle.Render("No rules.")
	}
	rows := make([][]string, len(rules))
	for i, r := range rules {
		rows[i] = []string{r.Name, r.Value}
	}
	return renderTable([]string{"RULE", "VALUE"}, rows, nil)
}
