package roles

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/generics"
	"github.com/janpfeifer/leagueGo/internal/matchmaking"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"slices"
	"sync"
)

// League holds the players, their snapshots and the payoff table among them. It is safe for
// concurrent use: every operation holds the League's mutex.
type League struct {
	config Config

	mu      sync.Mutex
	rng     *rand.Rand
	payoff  *payoff.Store
	pool    *agentpool.Pool
	players []*Player

	// initial snapshot of each learning player, used to reset exploiters.
	initial map[int]*agentpool.Snapshot
}

// NewLeague creates an empty League. rng is used for all random choices, and is owned by the League.
func NewLeague(config Config, rng *rand.Rand) *League {
	if config.Decay == 0 {
		config.Decay = payoff.DefaultDecay
	}
	return &League{
		config:  config,
		rng:     rng,
		payoff:  payoff.NewWithDecay(0, config.Decay),
		pool:    agentpool.New(),
		initial: make(map[int]*agentpool.Snapshot),
	}
}

// AddPlayer adds a learning player with the given role, starting from the initial snapshot. The
// snapshot's Owner is set to the new player's ID.
//
// Historical players can only be created with Checkpoint.
func (l *League) AddPlayer(role Role, teamID int, initial *agentpool.Snapshot) *Player {
	if role == Historical {
		exceptions.Panicf("AddPlayer: historical players are created by Checkpoint")
	}
	if initial == nil {
		exceptions.Panicf("AddPlayer: nil initial snapshot for %s of team %d", role, teamID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.lockedAdd(role, teamID, -1)
	initial = initial.Clone()
	initial.Owner = p.ID
	initial.TeamID = teamID
	l.initial[p.ID] = initial
	l.pool.Put(p.ID, initial)
	p.checkpointStep = initial.Steps
	klog.V(1).Infof("League: added %s of team %d", p, teamID)
	return p
}

func (l *League) lockedAdd(role Role, teamID, parent int) *Player {
	id := l.payoff.AddPlayer()
	if id != len(l.players) {
		exceptions.Panicf("league payoff table has %d players, but the roster has %d", id, len(l.players))
	}
	p := &Player{ID: id, Role: role, TeamID: teamID, Parent: parent, league: l}
	l.players = append(l.players, p)
	return p
}

// Players returns all players, including historical ones, ordered by ID.
func (l *League) Players() []*Player {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.players)
}

// Historical returns the historical players, ordered by ID (oldest first).
func (l *League) Historical() []*Player {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.historical()
}

// Len returns the number of players, including historical ones.
func (l *League) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.players)
}

// SetSnapshot updates the snapshot of a learning player, after training.
func (l *League) SetSnapshot(p *Player, snapshot *agentpool.Snapshot) {
	if p.Role == Historical {
		exceptions.Panicf("SetSnapshot: %s is frozen", p)
	}
	if snapshot.Owner != p.ID {
		exceptions.Panicf("SetSnapshot: snapshot of %d given to %s", snapshot.Owner, p)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pool.Put(p.ID, snapshot)
}

// Report the outcome of a game of home against away.
func (l *League) Report(home, away *Player, outcome payoff.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payoff.Record(home.ID, away.ID, outcome)
}

// WinRate of home against away.
func (l *League) WinRate(home, away *Player) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payoff.WinRate(home.ID, away.ID)
}

// Payoff returns a copy of the payoff table, indexed by player ID.
func (l *League) Payoff() [][]payoff.Cell {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payoff.Table()
}

// Checkpoint freezes the current snapshot of p into a new Historical player.
//
// Exploiters may be reset to their initial parameters (MainExploiter always, LeagueExploiter with a
// 25% chance): in that case reset holds the snapshot the player must continue training from.
// Otherwise reset is nil.
func (l *League) Checkpoint(p *Player) (historical *Player, reset *agentpool.Snapshot) {
	if p.Role == Historical {
		exceptions.Panicf("Checkpoint: %s is already frozen", p)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.pool.Get(p.ID)
	historical = l.lockedAdd(Historical, p.TeamID, p.ID)
	frozen := current.Clone()
	frozen.Owner = historical.ID
	l.pool.Put(historical.ID, frozen)
	p.checkpointStep = current.Steps

	var doReset bool
	switch p.Role {
	case MainExploiter:
		doReset = true
	case LeagueExploiter:
		doReset = l.rng.Float64() < leagueExploiterResetProbability
	case MainPlayer:
	default:
		exceptions.Panicf("Checkpoint: unknown role %s", p.Role)
	}
	if doReset {
		// Steps keep counting from where the player was.
		reset = l.initial[p.ID].Clone()
		reset.Steps = current.Steps
		l.pool.Put(p.ID, reset)
	}
	klog.Infof("League: checkpointed %s at %s steps into %s (reset=%v)", p, humanize.Comma(current.Steps), historical, doReset)
	return historical, reset
}

// historical returns the Historical players. l.mu must be held.
func (l *League) historical() []*Player {
	return l.byRole(Historical)
}

// byRole returns the players with the given role. l.mu must be held.
func (l *League) byRole(role Role) []*Player {
	return generics.SliceFilter(l.players, func(p *Player) bool { return p.Role == role })
}

// winRates of home against each of aways. l.mu must be held.
func (l *League) winRates(home *Player, aways []*Player) []float64 {
	return l.payoff.WinRates(home.ID, generics.SliceMap(aways, func(p *Player) int { return p.ID }))
}

// pfsp samples one of candidates with the given weighting, or returns nil if there are none. l.mu must be held.
func (l *League) pfsp(home *Player, candidates []*Player, weighting string) *Player {
	if len(candidates) == 0 {
		return nil
	}
	idx := matchmaking.SamplePFSP(l.rng, l.winRates(home, candidates), matchmaking.MustWeighting(weighting))
	return candidates[idx]
}

// readyToCheckpoint implements the checkpoint criterion against the given reference set. l.mu must be held.
func (l *League) readyToCheckpoint(p *Player, reference []*Player) bool {
	stepsPassed := l.pool.Get(p.ID).Steps - p.checkpointStep
	if stepsPassed < l.config.MinCheckpointSteps {
		return false
	}
	if stepsPassed > l.config.ForceCheckpointSteps {
		return true
	}
	if len(reference) == 0 {
		return false
	}
	return slices.Min(l.winRates(p, reference)) > l.config.CheckpointWinRate
}

// mainPlayerMatch implements the MainPlayer opponent selection. l.mu must be held.
func (l *League) mainPlayerMatch(p *Player) *Player {
	coin := l.rng.Float64()
	if coin < pfspBranchProbability {
		return l.pfsp(p, l.historical(), matchmaking.WeightingSquared)
	}
	mains := l.byRole(MainPlayer)
	opponent := mains[l.rng.IntN(len(mains))]
	if coin < pfspBranchProbability+verificationBranchProbability {
		if match := l.verificationMatch(p, opponent); match != nil {
			return match
		}
	}
	return l.selfPlayMatch(p, opponent)
}

// verificationMatch checks p against checkpoints of the exploiters and of opponent. It returns nil
// if neither is needed. l.mu must be held.
func (l *League) verificationMatch(p, opponent *Player) *Player {
	exploiterCheckpoints := generics.SliceFilter(l.historical(), func(h *Player) bool {
		return l.players[h.Parent].Role == MainExploiter
	})
	if len(exploiterCheckpoints) > 0 && slices.Min(l.winRates(p, exploiterCheckpoints)) < exploiterWinRateThreshold {
		return l.pfsp(p, exploiterCheckpoints, matchmaking.WeightingSquared)
	}

	opponentCheckpoints := l.checkpointsOf(opponent)
	winRates, opponentCheckpoints := matchmaking.RemoveMonotonicSuffix(l.winRates(p, opponentCheckpoints), opponentCheckpoints)
	if len(winRates) > 0 && slices.Min(winRates) < historicalWinRateThreshold {
		return l.pfsp(p, opponentCheckpoints, matchmaking.WeightingSquared)
	}
	return nil
}

// selfPlayMatch plays opponent if p is not losing too badly against it, otherwise one of its
// checkpoints. l.mu must be held.
func (l *League) selfPlayMatch(p, opponent *Player) *Player {
	if l.payoff.WinRate(p.ID, opponent.ID) > selfPlayWinRateThreshold {
		return opponent
	}
	if match := l.pfsp(p, l.checkpointsOf(opponent), matchmaking.WeightingVariance); match != nil {
		return match
	}
	return opponent
}

// mainExploiterMatch picks a random main player, or one of its checkpoints if it is too strong. l.mu must be held.
func (l *League) mainExploiterMatch(p *Player) *Player {
	mains := l.byRole(MainPlayer)
	if len(mains) == 0 {
		return nil
	}
	opponent := mains[l.rng.IntN(len(mains))]
	if l.payoff.WinRate(p.ID, opponent.ID) > exploiterMainWinRateThreshold {
		return opponent
	}
	if match := l.pfsp(p, l.checkpointsOf(opponent), matchmaking.WeightingVariance); match != nil {
		return match
	}
	return opponent
}

// leagueExploiterMatch samples among all checkpoints. l.mu must be held.
func (l *League) leagueExploiterMatch(p *Player) *Player {
	return l.pfsp(p, l.historical(), matchmaking.WeightingLinearCapped)
}

// checkpointsOf returns the Historical players frozen from parent, oldest first. l.mu must be held.
func (l *League) checkpointsOf(parent *Player) []*Player {
	return generics.SliceFilter(l.players, func(h *Player) bool { return h.Role == Historical && h.Parent == parent.ID })
}
