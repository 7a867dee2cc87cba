package main

import (
	"context"
	"flag"
	"github.com/janpfeifer/leagueGo/internal/ledger"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// setFlags sets the flags for the duration of the test.
func setFlags(t *testing.T, values map[string]string) {
	for name, value := range values {
		previous := flag.Lookup(name).Value.String()
		require.NoError(t, flag.Set(name, value))
		t.Cleanup(func() { _ = flag.Set(name, previous) })
	}
}

func smallLeague(t *testing.T) *teams.Registry {
	setFlags(t, map[string]string{
		"rounds":          "2",
		"trainer":         "battles=4",
		"progress":        "false",
		"request_timeout": "5s",
		"barrier_timeout": "5s",
	})
	registry, err := teams.ParseList(defaultTeams)
	require.NoError(t, err)
	return registry
}

func TestApplyEnvDefaults(t *testing.T) {
	setFlags(t, map[string]string{"rounds": "10"})
	t.Setenv("LEAGUE_ROUNDS", "3")
	t.Setenv("LEAGUE_ACCELERATOR", "true")
	t.Cleanup(func() { _ = flag.Set("accelerator", "false") })
	require.NoError(t, applyEnvDefaults())
	assert.Equal(t, 3, *flagRounds)
	assert.True(t, *flagAccelerator)

	t.Setenv("LEAGUE_ROUNDS", "many")
	assert.Error(t, applyEnvDefaults())
}

func TestRunCoordinated(t *testing.T) {
	registry := smallLeague(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	recorder, err := ledger.Open(ctx, ledger.MemoryPath, "test")
	require.NoError(t, err)
	defer func() { _ = recorder.Close() }()

	summary, names, err := runCoordinated(ctx, registry, 7, recorder)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "blue", "siege"}, names)
	assert.Len(t, summary.Pool, 3)
	assert.Equal(t, 3, summary.Workers)
	for _, info := range summary.Pool {
		assert.Equal(t, int64(2*4*5), info.Steps, "owner %d", info.Owner)
	}
	outcomes, err := recorder.Outcomes(ctx)
	require.NoError(t, err)
	assert.Len(t, outcomes, 3*2)
}

func TestRunRoles(t *testing.T) {
	registry := smallLeague(t)
	setFlags(t, map[string]string{
		"min_checkpoint_steps":   "10",
		"force_checkpoint_steps": "10",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, names, err := runRoles(ctx, registry, 7, nil)
	require.NoError(t, err)
	// A main player per team, and a main and a league exploiter per learning team.
	const numWorkers = 3 + 2*2
	assert.Equal(t, numWorkers, summary.Workers)
	assert.Equal(t, numWorkers, summary.Closed)
	assert.Equal(t, 2, summary.Rounds)
	// Main exploiters always find an opponent, so they were checkpointed after the first round.
	assert.Greater(t, len(summary.Payoff), numWorkers)
	assert.Len(t, names, len(summary.Payoff))
	assert.Equal(t, "red.mp", names[0])
	assert.Equal(t, "red.me", names[3])
	assert.Equal(t, "red.le", names[4])
	assert.Equal(t, "h7", names[7][len(names[7])-2:])
}

func TestLeagueFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, leagueFailure(ctx, nil))

	// A failure not caused by the user interrupting the league.
	failure := errors.Wrap(context.DeadlineExceeded, "worker 1")
	assert.ErrorIs(t, leagueFailure(ctx, failure), context.DeadlineExceeded)
	canceled := errors.WithMessage(context.Canceled, "worker 2")
	assert.Error(t, leagueFailure(ctx, canceled), "context not cancelled, so it is not an interruption")

	// Interrupted.
	cancel()
	assert.NoError(t, leagueFailure(ctx, canceled))
	assert.Error(t, leagueFailure(ctx, failure))
}
