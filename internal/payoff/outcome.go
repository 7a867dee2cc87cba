package payoff

import "fmt"

// Outcome of a game, from the point of view of the "home" participant.
type Outcome int

const (
	Win Outcome = iota
	Loss
	Draw
)

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Loss:
		return "loss"
	case Draw:
		return "draw"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Mirror returns the outcome from the point of view of the opponent: Win and Loss are swapped.
func (o Outcome) Mirror() Outcome {
	switch o {
	case Win:
		return Loss
	case Loss:
		return Win
	}
	return o
}

// Entry returns the statistic incremented by the outcome.
func (o Outcome) Entry() Entry {
	switch o {
	case Win:
		return EntryWin
	case Loss:
		return EntryLoss
	}
	return EntryDraw
}

// Valid returns whether o is one of Win, Loss or Draw.
func (o Outcome) Valid() bool {
	return o == Win || o == Loss || o == Draw
}

// OutcomeFromFlags derives the outcome of a battle for the training team from the "battle won"
// flags of both teams. Neither or both winning is a draw.
func OutcomeFromFlags(homeWon, awayWon bool) Outcome {
	switch {
	case homeWon && !awayWon:
		return Win
	case awayWon && !homeWon:
		return Loss
	}
	return Draw
}
