// Package roles implements the AlphaStar-style player roles of a league: main players, main
// exploiters, league exploiters and frozen historical checkpoints.
//
// Each role has its own opponent selection (Player.GetMatch) and its own criterion to freeze a
// checkpoint of itself (Player.ReadyToCheckpoint). The players share the payoff table and the
// snapshots through a League, a mutex guarded handle.
package roles

import (
	"fmt"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/parameters"
	"github.com/pkg/errors"
)

// Role of a player in the league.
type Role int

const (
	// MainPlayer trains against everybody: historical checkpoints (PFSP), the other main players
	// (self-play), and the checkpoints of exploiters that beat it.
	MainPlayer Role = iota

	// MainExploiter trains against the main players, to find their weaknesses.
	MainExploiter

	// LeagueExploiter trains against all historical checkpoints, to find global blind spots.
	LeagueExploiter

	// Historical is a frozen checkpoint of another player. It doesn't train.
	Historical
)

func (r Role) String() string {
	switch r {
	case MainPlayer:
		return "main_player"
	case MainExploiter:
		return "main_exploiter"
	case LeagueExploiter:
		return "league_exploiter"
	case Historical:
		return "historical"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole converts the name returned by Role.String back to a Role.
func ParseRole(name string) (Role, error) {
	for r := MainPlayer; r <= Historical; r++ {
		if r.String() == name {
			return r, nil
		}
	}
	return 0, errors.Errorf("unknown player role %q", name)
}

// Thresholds of the opponent selection and checkpointing, from AlphaStar.
const (
	// coin thresholds of the MainPlayer branches.
	pfspBranchProbability         = 0.5
	verificationBranchProbability = 0.15

	// exploiterWinRateThreshold below which a MainPlayer verifies itself against exploiter checkpoints.
	exploiterWinRateThreshold = 0.3

	// historicalWinRateThreshold below which a MainPlayer revisits an opponent's checkpoints.
	historicalWinRateThreshold = 0.7

	// selfPlayWinRateThreshold above which a MainPlayer plays directly against another main player.
	selfPlayWinRateThreshold = 0.3

	// exploiterMainWinRateThreshold above which a MainExploiter plays the live main player.
	exploiterMainWinRateThreshold = 0.1

	// leagueExploiterResetProbability is the chance a LeagueExploiter is reset to its initial
	// parameters when checkpointed. MainExploiters are always reset.
	leagueExploiterResetProbability = 0.25
)

// Config of the checkpoint policy.
type Config struct {
	// MinCheckpointSteps since the last checkpoint, before a player is considered for a new one.
	MinCheckpointSteps int64

	// ForceCheckpointSteps since the last checkpoint after which a checkpoint is taken regardless of
	// the win rates.
	ForceCheckpointSteps int64

	// CheckpointWinRate that the player must exceed against every player of its reference set to
	// be checkpointed.
	CheckpointWinRate float64

	// Decay of the payoff table.
	Decay float64
}

// DefaultConfig returns the AlphaStar defaults.
func DefaultConfig() Config {
	return Config{
		MinCheckpointSteps:   2e9,
		ForceCheckpointSteps: 4e9,
		CheckpointWinRate:    0.7,
		Decay:                0.99,
	}
}

// ConfigFromString parses "min_steps=...,force_steps=...,win_rate=...,decay=..." on top of the defaults.
func ConfigFromString(config string) (Config, error) {
	c := DefaultConfig()
	params := parameters.NewFromConfigString(config)
	var err error
	if c.MinCheckpointSteps, err = parameters.PopParamOr(params, "min_steps", c.MinCheckpointSteps); err != nil {
		return c, err
	}
	if c.ForceCheckpointSteps, err = parameters.PopParamOr(params, "force_steps", c.ForceCheckpointSteps); err != nil {
		return c, err
	}
	if c.CheckpointWinRate, err = parameters.PopParamOr(params, "win_rate", c.CheckpointWinRate); err != nil {
		return c, err
	}
	if c.Decay, err = parameters.PopParamOr(params, "decay", c.Decay); err != nil {
		return c, err
	}
	return c, parameters.CheckAllUsed("roles", params)
}

// Player in the league. ID, Role, TeamID and Parent are immutable; everything else is guarded by
// the League.
type Player struct {
	// ID is the player's index in the payoff table.
	ID int

	Role   Role
	TeamID int

	// Parent is the ID of the player a Historical was checkpointed from, -1 for other roles.
	Parent int

	league *League

	// checkpointStep is the number of steps of the snapshot at the time of the last checkpoint.
	checkpointStep int64
}

func (p *Player) String() string {
	if p.Role == Historical {
		return fmt.Sprintf("%s#%d(of #%d)", p.Role, p.ID, p.Parent)
	}
	return fmt.Sprintf("%s#%d", p.Role, p.ID)
}

// GetMatch selects the opponent for the player's next round. It returns nil if there is no
// eligible opponent, e.g. the PFSP branch of a MainPlayer before any checkpoint exists.
//
// It panics if the player is Historical: checkpoints don't train.
func (p *Player) GetMatch() *Player {
	l := p.league
	l.mu.Lock()
	defer l.mu.Unlock()
	var opponent *Player
	switch p.Role {
	case MainPlayer:
		opponent = l.mainPlayerMatch(p)
	case MainExploiter:
		opponent = l.mainExploiterMatch(p)
	case LeagueExploiter:
		opponent = l.leagueExploiterMatch(p)
	case Historical:
		exceptions.Panicf("GetMatch called on %s: historical players don't train", p)
	default:
		exceptions.Panicf("GetMatch called on player %d with unknown role %s", p.ID, p.Role)
	}
	if opponent != nil {
		l.payoff.RecordMatch(p.ID, opponent.ID)
	}
	return opponent
}

// ReadyToCheckpoint returns whether the player should be frozen into a Historical checkpoint now.
//
// Historical players are never ready.
func (p *Player) ReadyToCheckpoint() bool {
	l := p.league
	l.mu.Lock()
	defer l.mu.Unlock()
	switch p.Role {
	case MainPlayer, LeagueExploiter:
		return l.readyToCheckpoint(p, l.historical())
	case MainExploiter:
		return l.readyToCheckpoint(p, l.byRole(MainPlayer))
	case Historical:
		return false
	default:
		exceptions.Panicf("ReadyToCheckpoint called on player %d with unknown role %s", p.ID, p.Role)
	}
	return false
}

// Snapshot returns the current snapshot of the player, following the agentpool clone policy.
func (p *Player) Snapshot() *agentpool.Snapshot {
	l := p.league
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool.Get(p.ID)
}
