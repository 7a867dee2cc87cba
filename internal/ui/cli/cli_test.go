package cli

import (
	"bytes"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func TestFormatPayoff(t *testing.T) {
	table := payoff.New(3)
	table.Record(0, 1, payoff.Win)
	table.Record(0, 2, payoff.Draw)
	got := FormatPayoff(table.Table(), []string{"red", "a_very_long_name"})
	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "red")
	assert.Contains(t, lines[0], "a_very_…")
	assert.Contains(t, lines[0], "#2")
	assert.Contains(t, lines[1], "100%")
	assert.Contains(t, lines[1], "50%")
	assert.Contains(t, lines[2], "0%")
	assert.Contains(t, lines[3], "-")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[1]), "2"), "red played 2 games: %q", lines[1])
}

func TestFormatPool(t *testing.T) {
	got := FormatPool([]league.SnapshotInfo{
		{Owner: 0, TeamID: 0, Steps: 1234567},
		{Owner: 1, TeamID: 5, Steps: 10, Device: agentpool.Accelerator},
	}, []string{"red"})
	assert.Equal(t, "red: 1,234,567 steps (host)\n#1: 10 steps (accelerator)\n", got)
}

func TestPrintCentered(t *testing.T) {
	var buf bytes.Buffer
	printCentered(&buf, "ab\n\nabcd\n", 10)
	assert.Equal(t, "   ab\n\n   abcd\n", buf.String())
	buf.Reset()
	printCentered(&buf, "abcd", 0)
	assert.Equal(t, "abcd\n", buf.String())
	assert.Equal(t, 3, displayWidth("\x1b[31mabc\x1b[0m"))
}
