package ledger

import (
	"context"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
)

var _ league.Recorder = (*Ledger)(nil)

func TestLedger(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, MemoryPath, "teams=a;b")
	require.NoError(t, err)
	defer func() { require.NoError(t, l.Close()) }()
	require.NotEmpty(t, l.RunID())

	require.NoError(t, l.RecordOutcome(0, 1, payoff.Win))
	require.NoError(t, l.RecordOutcome(0, 1, payoff.Draw))
	require.NoError(t, l.RecordOutcome(0, 1, payoff.Win))
	require.NoError(t, l.RecordOutcome(1, 0, payoff.Loss))
	require.NoError(t, l.RecordSnapshot(&agentpool.Snapshot{Owner: 0, TeamID: 0, Steps: 10, Params: make([]float32, 3)}))
	require.NoError(t, l.RecordSnapshot(&agentpool.Snapshot{Owner: 0, TeamID: 0, Steps: 25, Device: agentpool.Accelerator}))
	require.NoError(t, l.RecordSnapshot(&agentpool.Snapshot{Owner: 1, TeamID: 1, Steps: 7}))
	require.NoError(t, l.RecordRound(1))
	require.NoError(t, l.RecordRound(2))
	require.NoError(t, l.RecordRound(2))

	outcomes, err := l.Outcomes(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.Equal(t, Outcome{Home: 0, Away: 1, Outcome: payoff.Draw}, outcomes[1])
	assert.Equal(t, Outcome{Home: 1, Away: 0, Outcome: payoff.Loss}, outcomes[3])

	counts, err := l.CountOutcomes(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, map[payoff.Outcome]int{payoff.Win: 2, payoff.Draw: 1}, counts)

	rounds, err := l.Rounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rounds)

	steps, err := l.LatestSteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{0: 25, 1: 7}, steps)
}

func TestRunsAreSeparate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := Open(ctx, path, "")
	require.NoError(t, err)
	require.NoError(t, first.RecordOutcome(0, 1, payoff.Win))
	require.NoError(t, first.Close())

	second, err := Open(ctx, path, "")
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	assert.NotEqual(t, first.RunID(), second.RunID())
	outcomes, err := second.Outcomes(ctx)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	_, err = Open(ctx, "", "")
	require.Error(t, err)
}

func TestRecordsAfterInterruption(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, err := Open(ctx, MemoryPath, "")
	require.NoError(t, err)
	defer func() { require.NoError(t, l.Close()) }()

	// The league was interrupted, but its final records are still written.
	cancel()
	require.NoError(t, l.RecordOutcome(1, 0, payoff.Draw))
	require.NoError(t, l.RecordSnapshot(&agentpool.Snapshot{Owner: 1, TeamID: 1, Steps: 3}))
	require.NoError(t, l.RecordRound(1))

	outcomes, err := l.Outcomes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{{Home: 1, Away: 0, Outcome: payoff.Draw}}, outcomes)
	rounds, err := l.Rounds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rounds)
}
