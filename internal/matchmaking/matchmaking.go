// Package matchmaking implements the pluggable algorithms that choose an opponent for each
// training round: random, balanced, non-recurring round-robin, fictitious self-play (FSP) and
// prioritized fictitious self-play (PFSP).
//
// Strategies read the agent pool and the payoff table through a Source -- the league client in
// a running league, or a LocalSource in single-owner settings -- and they are created by name from
// a configuration string, e.g. "pfsp:weighting=squared". See New.
package matchmaking

import (
	"context"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/generics"
	"github.com/janpfeifer/leagueGo/internal/parameters"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"maps"
	"math/rand/v2"
	"slices"
	"strings"
)

// Match selected for a home participant.
type Match struct {
	OpponentID int
	Opponent   *teams.Team
	Snapshot   *agentpool.Snapshot
}

// Source gives the strategies access to the shared league state.
type Source interface {
	// GetPool returns the current snapshot of every participant in the pool.
	GetPool(ctx context.Context) (map[int]*agentpool.Snapshot, error)

	// PayoffRow returns the win rates and the matches counts of home against each of aways.
	PayoffRow(ctx context.Context, home int, aways []int) (winRates, matches []float64, err error)

	// RecordMatch registers that home was scheduled to play against away.
	RecordMatch(ctx context.Context, home, away int) error
}

// Strategy selects an opponent for the home team.
//
// The participant id of the home player is the id of its team.
type Strategy interface {
	// GetMatch returns the opponent chosen, or nil if there is no eligible opponent (the pool is
	// empty or, for exhaustive strategies, all opponents were already played).
	//
	// When a match is found, it has been recorded in the payoff table (RecordMatch) exactly once.
	GetMatch(ctx context.Context, home *teams.Team) (*Match, error)

	// String returns the strategy name.
	String() string
}

// Factory creates a Strategy from its parameters. It should consume the parameters it uses
// with parameters.PopParamOr: left-over parameters are reported as errors.
type Factory func(source Source, registry *teams.Registry, rng *rand.Rand, params parameters.Params) (Strategy, error)

var (
	// Registered strategies by name.
	factories = make(map[string]Factory)
)

// Register a strategy factory under the given name. It's not safe to call concurrently with New,
// and is meant to be called from init functions.
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Names of the registered strategies, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(factories))
}

// New creates the strategy described by config, e.g. "balanced" or "pfsp:weighting=variance".
func New(config string, source Source, registry *teams.Registry, rng *rand.Rand) (Strategy, error) {
	name, params := parameters.SplitModuleConfig(config)
	factory, found := factories[name]
	if !found {
		return nil, errors.Errorf("unknown matchmaking strategy %q, valid values are: %s", name, strings.Join(Names(), ", "))
	}
	strategy, err := factory(source, registry, rng, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create matchmaking strategy %q", name)
	}
	if err = parameters.CheckAllUsed(name, params); err != nil {
		return nil, err
	}
	klog.V(1).Infof("Created matchmaking strategy %s", strategy)
	return strategy, nil
}

// base implements the steps shared by all strategies: fetching the candidates and finalizing the match.
type base struct {
	source   Source
	registry *teams.Registry
}

// candidates returns the current pool and its ids in ascending order.
func (b *base) candidates(ctx context.Context) (ids []int, pool map[int]*agentpool.Snapshot, err error) {
	pool, err = b.source.GetPool(ctx)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "matchmaking failed to get pool")
	}
	ids = slices.Collect(generics.SortedKeys(pool))
	return
}

// finish records the match and builds the Match for the chosen opponent.
func (b *base) finish(ctx context.Context, name string, home *teams.Team, chosen int, pool map[int]*agentpool.Snapshot) (*Match, error) {
	snapshot := pool[chosen]
	opponent, found := b.registry.Lookup(snapshot.TeamID)
	if !found {
		return nil, errors.Errorf("%s: snapshot of participant %d refers to unknown team %d", name, chosen, snapshot.TeamID)
	}
	if err := b.source.RecordMatch(ctx, home.ID, chosen); err != nil {
		return nil, errors.WithMessagef(err, "%s: failed to record match %d vs %d", name, home.ID, chosen)
	}
	if klog.V(2).Enabled() {
		klog.Infof("%s: %s matched against %s (participant %d)", name, home, opponent, chosen)
	}
	return &Match{OpponentID: chosen, Opponent: opponent, Snapshot: snapshot}, nil
}
