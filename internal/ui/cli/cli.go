// Package cli renders the league state on the terminal.
package cli

import (
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"golang.org/x/term"
	"io"
	"os"
	"regexp"
	"strings"
)

// CellWidth is the width of each column of the payoff table.
const CellWidth = 8

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Width(CellWidth).Align(lipgloss.Center)
	nameStyle    = lipgloss.NewStyle().Bold(true).Width(CellWidth + 2).Align(lipgloss.Left)
	winningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Width(CellWidth).Align(lipgloss.Right)
	losingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Width(CellWidth).Align(lipgloss.Right)
	unknownStyle = lipgloss.NewStyle().Faint(true).Width(CellWidth).Align(lipgloss.Right)
	titleStyle   = lipgloss.NewStyle().
			Background(lipgloss.Color("13")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 2)
)

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the length of what is left.
func displayWidth(s string) int {
	return len([]rune(ansiFilter.ReplaceAllString(s, "")))
}

// FormatPayoff renders the win-rate matrix of table (rows are home, columns away). Cells never
// played are shown as "-". names are the participants' display names, indexed by id; missing
// names are replaced by the id.
func FormatPayoff(table [][]payoff.Cell, names []string) string {
	name := func(id int) string {
		if id < len(names) && names[id] != "" {
			return truncate(names[id], CellWidth)
		}
		return fmt.Sprintf("#%d", id)
	}
	var sb strings.Builder
	sb.WriteString(nameStyle.Render("home\\away"))
	for away := range table {
		sb.WriteString(headerStyle.Render(name(away)))
	}
	sb.WriteString(headerStyle.Render("games"))
	sb.WriteByte('\n')
	for home, row := range table {
		sb.WriteString(nameStyle.Render(name(home)))
		var games float64
		for _, cell := range row {
			games += cell[payoff.EntryGames]
			sb.WriteString(renderCell(cell))
		}
		sb.WriteString(unknownStyle.Render(humanize.Comma(int64(games + 0.5))))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func renderCell(cell payoff.Cell) string {
	if cell[payoff.EntryGames] == 0 {
		return unknownStyle.Render("-")
	}
	winRate := cell.WinRate()
	text := fmt.Sprintf("%.0f%%", 100*winRate)
	if winRate >= 0.5 {
		return winningStyle.Render(text)
	}
	return losingStyle.Render(text)
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

// FormatPool lists the snapshots in the pool, with their trained steps. names are indexed by
// the snapshots' owner.
func FormatPool(pool []league.SnapshotInfo, names []string) string {
	var sb strings.Builder
	for _, info := range pool {
		name := fmt.Sprintf("#%d", info.Owner)
		if info.Owner < len(names) && names[info.Owner] != "" {
			name = names[info.Owner]
		}
		fmt.Fprintf(&sb, "%s: %s steps (%s)\n", name, humanize.Comma(info.Steps), info.Device)
	}
	return sb.String()
}

// PrintSummary prints the league summary to stdout, centered if it is a terminal. lipgloss drops
// the colors if it is not.
func PrintSummary(summary *league.Summary, names []string) {
	fd := int(os.Stdout.Fd())
	isTerminal := term.IsTerminal(fd)
	title := titleStyle.Render(fmt.Sprintf("League payoff after %d rounds", summary.Rounds))
	block := title + "\n\n" + FormatPayoff(summary.Payoff, names) + "\n" + FormatPool(summary.Pool, names)
	width := 0
	if isTerminal {
		width, _, _ = term.GetSize(fd)
	}
	printCentered(os.Stdout, block, width)
}

// printCentered prints the block centered in a terminal of the given width. If width is 0 it is
// printed flush left.
func printCentered(w io.Writer, block string, terminalWidth int) {
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	blockWidth := 0
	for _, line := range lines {
		blockWidth = max(blockWidth, displayWidth(line))
	}
	indent := max((terminalWidth-blockWidth)/2, 0)
	for _, line := range lines {
		if len(line) == 0 {
			_, _ = fmt.Fprintln(w)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", indent), line)
	}
}
