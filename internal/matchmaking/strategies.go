package matchmaking

import (
	"context"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/generics"
	"github.com/janpfeifer/leagueGo/internal/parameters"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"math/rand/v2"
)

func init() {
	Register("random", newUniformRandom("random"))
	Register("fsp", newUniformRandom("fsp"))
	Register("balanced", newBalanced)
	Register("uniform", newBalanced)
	Register("non_recurring", newNonRecurring)
	Register("pfsp", newPFSP)
}

// uniformRandom picks any participant in the pool with equal probability, including home itself.
//
// It is registered both as "random" and as "fsp" (fictitious self-play): a baseline that ignores skill.
type uniformRandom struct {
	base
	name string
	rng  *rand.Rand
}

func newUniformRandom(name string) Factory {
	return func(source Source, registry *teams.Registry, rng *rand.Rand, _ parameters.Params) (Strategy, error) {
		return &uniformRandom{base: base{source, registry}, name: name, rng: rng}, nil
	}
}

func (s *uniformRandom) String() string { return s.name }

// GetMatch implements Strategy.
func (s *uniformRandom) GetMatch(ctx context.Context, home *teams.Team) (*Match, error) {
	ids, pool, err := s.candidates(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return s.finish(ctx, s.name, home, ids[s.rng.IntN(len(ids))], pool)
}

// balanced picks the participant with the fewest matches against home, so exposure is equalized
// across the pool. Ties go to the lowest id.
type balanced struct {
	base
}

func newBalanced(source Source, registry *teams.Registry, _ *rand.Rand, _ parameters.Params) (Strategy, error) {
	return &balanced{base{source, registry}}, nil
}

func (s *balanced) String() string { return "balanced" }

// GetMatch implements Strategy.
func (s *balanced) GetMatch(ctx context.Context, home *teams.Team) (*Match, error) {
	ids, pool, err := s.candidates(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	_, matches, err := s.source.PayoffRow(ctx, home.ID, ids)
	if err != nil {
		return nil, errors.WithMessage(err, "balanced matchmaking failed to read payoff")
	}
	return s.finish(ctx, "balanced", home, ids[generics.ArgMin(matches)], pool)
}

// selfMatchesSentinel is the matches count assigned to self-pairing by nonRecurring: it sorts
// after every adversary never played.
const selfMatchesSentinel = 2

// nonRecurring plays every adversary once, fewest matches first, and then returns no match:
// the round of the league is exhausted.
type nonRecurring struct {
	base
}

func newNonRecurring(source Source, registry *teams.Registry, _ *rand.Rand, _ parameters.Params) (Strategy, error) {
	return &nonRecurring{base{source, registry}}, nil
}

func (s *nonRecurring) String() string { return "non_recurring" }

// GetMatch implements Strategy.
func (s *nonRecurring) GetMatch(ctx context.Context, home *teams.Team) (*Match, error) {
	ids, pool, err := s.candidates(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	_, matches, err := s.source.PayoffRow(ctx, home.ID, ids)
	if err != nil {
		return nil, errors.WithMessage(err, "non_recurring matchmaking failed to read payoff")
	}
	for ii, id := range ids {
		if id == home.ID {
			matches[ii] = selfMatchesSentinel
		}
	}
	chosenIdx := generics.ArgMin(matches)
	if matches[chosenIdx] > 0 {
		// Every adversary was already played.
		return nil, nil
	}
	chosen := ids[chosenIdx]
	if chosen == home.ID {
		exceptions.Panicf("non_recurring matchmaking selected home participant %d as its own adversary: payoff table is corrupted (matches=%v)",
			home.ID, matches)
	}
	return s.finish(ctx, "non_recurring", home, chosen, pool)
}

// pfsp samples opponents proportionally to a weighting of the home win rate against them.
type pfsp struct {
	base
	weightingName string
	weighting     Weighting
	rng           *rand.Rand
}

func newPFSP(source Source, registry *teams.Registry, rng *rand.Rand, params parameters.Params) (Strategy, error) {
	name, err := parameters.PopParamOr(params, "weighting", WeightingLinear)
	if err != nil {
		return nil, err
	}
	weighting, err := WeightingByName(name)
	if err != nil {
		return nil, err
	}
	return &pfsp{base: base{source, registry}, weightingName: name, weighting: weighting, rng: rng}, nil
}

func (s *pfsp) String() string { return "pfsp:weighting=" + s.weightingName }

// GetMatch implements Strategy.
func (s *pfsp) GetMatch(ctx context.Context, home *teams.Team) (*Match, error) {
	ids, pool, err := s.candidates(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	winRates, _, err := s.source.PayoffRow(ctx, home.ID, ids)
	if err != nil {
		return nil, errors.WithMessage(err, "pfsp matchmaking failed to read payoff")
	}
	return s.finish(ctx, s.String(), home, ids[SamplePFSP(s.rng, winRates, s.weighting)], pool)
}
