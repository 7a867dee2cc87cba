package matchmaking

import (
	"context"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/payoff"
)

// LocalSource is a Source that accesses the pool and payoff table directly, for settings where the
// caller is their single owner (tests, tools evaluating a finished league).
type LocalSource struct {
	Pool   *agentpool.Pool
	Payoff *payoff.Store
}

var _ Source = (*LocalSource)(nil)

// GetPool implements Source.
func (s *LocalSource) GetPool(_ context.Context) (map[int]*agentpool.Snapshot, error) {
	return s.Pool.GetAll(), nil
}

// PayoffRow implements Source.
func (s *LocalSource) PayoffRow(_ context.Context, home int, aways []int) (winRates, matches []float64, err error) {
	return s.Payoff.WinRates(home, aways), s.Payoff.MatchesAgainst(home, aways), nil
}

// RecordMatch implements Source.
func (s *LocalSource) RecordMatch(_ context.Context, home, away int) error {
	s.Payoff.RecordMatch(home, away)
	return nil
}
