// Package payoff implements the decaying payoff table of the league: for every ordered pair
// (home, away) of participants it keeps the counts of games, wins, losses, draws and matches.
//
// Every update first decays the affected cells, so recent results dominate the win rates.
//
// Store is not safe for concurrent use: it is owned by a single writer (the league coordinator,
// or the roles.League behind its mutex).
package payoff

import (
	"fmt"
	"github.com/gomlx/exceptions"
)

// Entry enumerates the statistics kept for each (home, away) cell.
type Entry int

const (
	EntryGames Entry = iota
	EntryWin
	EntryLoss
	EntryDraw
	EntryMatches

	// NumEntries is the number of statistics per cell.
	NumEntries = 5
)

var entryNames = [NumEntries]string{"games", "win", "loss", "draw", "matches"}

func (e Entry) String() string {
	if e < 0 || int(e) >= NumEntries {
		return fmt.Sprintf("Entry(%d)", int(e))
	}
	return entryNames[e]
}

// DefaultDecay applied to a cell before each new game result is recorded.
const DefaultDecay = 0.99

// UnknownWinRate is the win rate assumed against opponents never played.
const UnknownWinRate = 0.5

// Cell holds the statistics for one (home, away) pair, indexed by Entry.
type Cell [NumEntries]float64

// Store is the payoff table. Rows and columns are participant ids, from 0 to Len()-1.
type Store struct {
	decay float64
	cells [][]Cell
}

// New creates a payoff Store for numPlayers participants with the DefaultDecay.
func New(numPlayers int) *Store {
	return NewWithDecay(numPlayers, DefaultDecay)
}

// NewWithDecay creates a payoff Store for numPlayers participants, using the given decay factor,
// which must be in (0, 1].
func NewWithDecay(numPlayers int, decay float64) *Store {
	if decay <= 0 || decay > 1 {
		exceptions.Panicf("payoff.NewWithDecay: decay must be in (0, 1], got %g", decay)
	}
	s := &Store{decay: decay}
	for range numPlayers {
		s.AddPlayer()
	}
	return s
}

// Len returns the number of participants in the table.
func (s *Store) Len() int { return len(s.cells) }

// Decay returns the decay factor used by the store.
func (s *Store) Decay() float64 { return s.decay }

// AddPlayer grows the table by one row and one column, and returns the id of the new participant.
func (s *Store) AddPlayer() int {
	id := len(s.cells)
	for ii := range s.cells {
		s.cells[ii] = append(s.cells[ii], Cell{})
	}
	s.cells = append(s.cells, make([]Cell, id+1))
	return id
}

func (s *Store) cell(home, away int) *Cell {
	if home < 0 || home >= len(s.cells) || away < 0 || away >= len(s.cells) {
		exceptions.Panicf("payoff: invalid pair (%d, %d) for table with %d participants", home, away, len(s.cells))
	}
	return &s.cells[home][away]
}

func (c *Cell) scale(factor float64) {
	for ii := range c {
		c[ii] *= factor
	}
}

// Record the outcome of one game of home against away.
//
// The cells (home, away) and (away, home) are decayed first, then the games count of both cells
// is incremented, as well as the outcome entry of (home, away) and the mirrored entry of (away, home).
// For self-play (home == away) the single cell is decayed once and incremented from both sides.
func (s *Store) Record(home, away int, outcome Outcome) {
	if !outcome.Valid() {
		exceptions.Panicf("payoff.Record: invalid outcome %s for (%d, %d)", outcome, home, away)
	}
	homeCell, awayCell := s.cell(home, away), s.cell(away, home)
	homeCell.scale(s.decay)
	if home != away {
		awayCell.scale(s.decay)
	}
	homeCell[EntryGames]++
	homeCell[outcome.Entry()]++
	awayCell[EntryGames]++
	awayCell[outcome.Mirror().Entry()]++
}

// RecordMatch increments the matches count of (home, away) and (away, home). It is independent of
// the games results, and only used for scheduling fairness.
func (s *Store) RecordMatch(home, away int) {
	s.cell(home, away)[EntryMatches]++
	s.cell(away, home)[EntryMatches]++
}

// Get returns the given statistic for (home, away).
func (s *Store) Get(home, away int, entry Entry) float64 {
	if entry < 0 || int(entry) >= NumEntries {
		exceptions.Panicf("payoff.Get: invalid entry %s", entry)
	}
	return s.cell(home, away)[entry]
}

// Matches returns the (decayed) number of matches scheduled between home and away.
func (s *Store) Matches(home, away int) float64 {
	return s.cell(home, away)[EntryMatches]
}

// WinRate of home against away, counting draws as half a win.
// It returns UnknownWinRate if they haven't played yet.
func (s *Store) WinRate(home, away int) float64 {
	return s.cell(home, away).WinRate()
}

// WinRates returns the win rate of home against each of aways.
func (s *Store) WinRates(home int, aways []int) []float64 {
	rates := make([]float64, len(aways))
	for ii, away := range aways {
		rates[ii] = s.WinRate(home, away)
	}
	return rates
}

// MatchesAgainst returns the matches count of home against each of aways.
func (s *Store) MatchesAgainst(home int, aways []int) []float64 {
	matches := make([]float64, len(aways))
	for ii, away := range aways {
		matches[ii] = s.Matches(home, away)
	}
	return matches
}

// Table returns a deep copy of the table, indexed [home][away].
func (s *Store) Table() [][]Cell {
	table := make([][]Cell, len(s.cells))
	for ii, row := range s.cells {
		table[ii] = append([]Cell(nil), row...)
	}
	return table
}

// WinRate of a cell, see Store.WinRate.
func (c Cell) WinRate() float64 {
	if c[EntryGames] == 0 {
		return UnknownWinRate
	}
	return (c[EntryWin] + 0.5*c[EntryDraw]) / c[EntryGames]
}
