package league

import (
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/payoff"
)

// SnapshotInfo describes a snapshot in the pool, without its parameters.
type SnapshotInfo struct {
	Owner  int              `json:"owner"`
	TeamID int              `json:"team_id"`
	Steps  int64            `json:"steps"`
	Device agentpool.Device `json:"-"`
}

// Summary is an immutable copy of the league state, published by the Coordinator after changes.
type Summary struct {
	// Payoff table copy, indexed [home][away].
	Payoff [][]payoff.Cell

	// Pool holds the description of every snapshot, ordered by participant id.
	Pool []SnapshotInfo

	// Rounds completed (barrier generations).
	Rounds int

	// Workers registered and closed.
	Workers, Closed int
}

// WinRates returns the win-rate matrix of the summary.
func (s *Summary) WinRates() [][]float64 {
	rates := make([][]float64, len(s.Payoff))
	for home, row := range s.Payoff {
		rates[home] = make([]float64, len(row))
		for away, cell := range row {
			rates[home][away] = cell.WinRate()
		}
	}
	return rates
}

// publishSummary stores a new Summary. Only called from the coordinator goroutine (or before Run).
func (c *Coordinator) publishSummary() {
	s := &Summary{
		Payoff:  c.payoff.Table(),
		Rounds:  c.lastGeneration,
		Workers: len(c.links),
		Closed:  c.numClosed,
	}
	c.pool.Visit(func(_ int, snapshot *agentpool.Snapshot) {
		s.Pool = append(s.Pool, SnapshotInfo{
			Owner:  snapshot.Owner,
			TeamID: snapshot.TeamID,
			Steps:  snapshot.Steps,
			Device: snapshot.Device,
		})
	})
	c.summary.Store(s)
	c.dirty = false
}
