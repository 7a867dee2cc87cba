package matchmaking

import (
	"context"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand/v2"
	"testing"
)

// countingSource wraps a LocalSource and counts calls to RecordMatch.
type countingSource struct {
	LocalSource
	numRecorded int
}

func (s *countingSource) RecordMatch(ctx context.Context, home, away int) error {
	s.numRecorded++
	return s.LocalSource.RecordMatch(ctx, home, away)
}

func buildTestLeague(t *testing.T, numTeams int) (*teams.Registry, *countingSource) {
	var teamList []*teams.Team
	pool := agentpool.New()
	for id := range numTeams {
		teamList = append(teamList, &teams.Team{ID: id, Units: []teams.Unit{{teams.RoleMelee, teams.AttackNormal}}})
		pool.Put(id, &agentpool.Snapshot{Owner: id, TeamID: id, Params: []float32{float32(id)}})
	}
	registry, err := teams.NewRegistry(teamList...)
	require.NoError(t, err)
	return registry, &countingSource{LocalSource: LocalSource{Pool: pool, Payoff: payoff.New(numTeams)}}
}

func newTestStrategy(t *testing.T, config string, source Source, registry *teams.Registry) Strategy {
	strategy, err := New(config, source, registry, rand.New(rand.NewPCG(42, 0)))
	require.NoError(t, err)
	return strategy
}

func TestNewErrors(t *testing.T) {
	registry, source := buildTestLeague(t, 2)
	rng := rand.New(rand.NewPCG(1, 0))
	_, err := New("elo", source, registry, rng)
	require.Error(t, err)
	_, err = New("pfsp:weighting=cubic", source, registry, rng)
	require.Error(t, err)
	_, err = New("balanced:typo=1", source, registry, rng)
	require.Error(t, err)
	assert.Contains(t, Names(), "pfsp")
}

func TestBalancedVisitsAllBeforeRepeating(t *testing.T) {
	registry, source := buildTestLeague(t, 3)
	strategy := newTestStrategy(t, "balanced", source, registry)
	home := registry.Get(0)
	seen := make(map[int]int)
	for range 3 {
		match, err := strategy.GetMatch(context.Background(), home)
		require.NoError(t, err)
		require.NotNil(t, match)
		seen[match.OpponentID]++
		assert.Equal(t, match.OpponentID, match.Opponent.ID)
		assert.Equal(t, match.OpponentID, match.Snapshot.Owner)
	}
	assert.Equal(t, 1, seen[1])
	assert.Equal(t, 1, seen[2])
	assert.Equal(t, 3, source.numRecorded)
}

func TestNonRecurring(t *testing.T) {
	registry, source := buildTestLeague(t, 4)
	strategy := newTestStrategy(t, "non_recurring", source, registry)
	ctx := context.Background()
	home := registry.Get(2)
	var opponents []int
	for {
		match, err := strategy.GetMatch(ctx, home)
		require.NoError(t, err)
		if match == nil {
			break
		}
		require.NotEqual(t, home.ID, match.OpponentID)
		opponents = append(opponents, match.OpponentID)
		require.LessOrEqual(t, len(opponents), 3, "non_recurring must stop after all adversaries were played")
	}
	assert.Equal(t, []int{0, 1, 3}, opponents)
	assert.Equal(t, 3, source.numRecorded)

	// Exhaustion is stable.
	match, err := strategy.GetMatch(ctx, home)
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.Equal(t, 3, source.numRecorded)

	// Participant 0 already played 2 (from the other side), so it has only 1 and 3 left.
	match, err = strategy.GetMatch(ctx, registry.Get(0))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 1, match.OpponentID)
}

func TestNonRecurringAlone(t *testing.T) {
	registry, source := buildTestLeague(t, 1)
	strategy := newTestStrategy(t, "non_recurring", source, registry)
	match, err := strategy.GetMatch(context.Background(), registry.Get(0))
	require.NoError(t, err)
	assert.Nil(t, match, "self is never an adversary")
}

func TestEmptyPool(t *testing.T) {
	registry, _ := buildTestLeague(t, 2)
	source := &LocalSource{Pool: agentpool.New(), Payoff: payoff.New(2)}
	for _, config := range []string{"random", "fsp", "balanced", "non_recurring", "pfsp"} {
		strategy := newTestStrategy(t, config, source, registry)
		match, err := strategy.GetMatch(context.Background(), registry.Get(0))
		require.NoError(t, err)
		assert.Nilf(t, match, "strategy %s should return no match for an empty pool", strategy)
	}
}

func TestRandomStrategiesRecordOnce(t *testing.T) {
	for _, config := range []string{"random", "fsp", "pfsp:weighting=variance"} {
		registry, source := buildTestLeague(t, 3)
		strategy := newTestStrategy(t, config, source, registry)
		for range 10 {
			match, err := strategy.GetMatch(context.Background(), registry.Get(1))
			require.NoError(t, err)
			require.NotNil(t, match)
		}
		assert.Equalf(t, 10, source.numRecorded, "strategy %s", strategy)
	}
}

func TestPFSPPrefersStrongerOpponents(t *testing.T) {
	registry, source := buildTestLeague(t, 3)
	// Participant 0 always beats 1 and always loses to 2.
	for range 20 {
		source.Payoff.Record(0, 1, payoff.Win)
		source.Payoff.Record(0, 2, payoff.Loss)
	}
	strategy := newTestStrategy(t, "pfsp:weighting=squared", source, registry)
	counts := make(map[int]int)
	for range 200 {
		match, err := strategy.GetMatch(context.Background(), registry.Get(0))
		require.NoError(t, err)
		counts[match.OpponentID]++
	}
	assert.Equal(t, 0, counts[1], "an opponent always beaten has zero weight")
	assert.Greater(t, counts[2], counts[0])
}
