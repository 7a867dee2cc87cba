package battle

import (
	"context"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/parameters"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"slices"
	"time"
)

// Trainer trains the policy of one team against the opponents given by the league, one round at a
// time. It implements league.TrainingLoop. It's owned by one worker, and it is not safe for
// concurrent use.
type Trainer struct {
	owner    int
	team     *teams.Team
	registry *teams.Registry
	rng      *rand.Rand
	policy   *Policy
	steps    int64
	baseline float32

	// RoundTime is the wall-clock slice of each round. 0 means rounds are limited only by BattlesPerRound.
	RoundTime time.Duration

	// BattlesPerRound limits the number of battles of each round. 0 means rounds are limited only
	// by RoundTime. At least one battle is always fought.
	BattlesPerRound int

	// Engagements per battle.
	Engagements int

	// LearningRate of the policy gradient, and MaxGradL2 the clipping of each update.
	LearningRate, MaxGradL2 float32

	// BaselineDecay of the moving average of the rewards, used as the policy gradient baseline.
	BaselineDecay float32

	// Device where published snapshots reside.
	Device agentpool.Device
}

// Assert Trainer is a league.TrainingLoop.
var _ league.TrainingLoop = (*Trainer)(nil)

// NewTrainer creates the trainer for team, playing as participant owner. The opponents' teams are
// looked up in registry.
//
// config holds the trainer's parameters, e.g. "lr=0.1,battles=32,engagements=5,round_time=1s".
func NewTrainer(owner int, team *teams.Team, registry *teams.Registry, rng *rand.Rand, config string) (*Trainer, error) {
	t := &Trainer{
		owner:         owner,
		team:          team,
		registry:      registry,
		rng:           rng,
		policy:        UniformPolicy(),
		Engagements:   DefaultEngagements,
		LearningRate:  0.1,
		MaxGradL2:     10,
		BaselineDecay: 0.95,
	}
	params := parameters.NewFromConfigString(config)
	var err error
	if t.BattlesPerRound, err = parameters.PopParamOr(params, "battles", 32); err != nil {
		return nil, err
	}
	if t.Engagements, err = parameters.PopParamOr(params, "engagements", t.Engagements); err != nil {
		return nil, err
	}
	lr, err := parameters.PopParamOr(params, "lr", float64(t.LearningRate))
	if err != nil {
		return nil, err
	}
	t.LearningRate = float32(lr)
	roundTime, err := parameters.PopParamOr(params, "round_time", "")
	if err != nil {
		return nil, err
	}
	if roundTime != "" {
		if t.RoundTime, err = time.ParseDuration(roundTime); err != nil {
			return nil, errors.Wrapf(err, "invalid round_time=%q", roundTime)
		}
	}
	if err = parameters.CheckAllUsed("trainer", params); err != nil {
		return nil, err
	}
	if t.Engagements <= 0 {
		return nil, errors.Errorf("engagements must be > 0, got %d", t.Engagements)
	}
	if t.BattlesPerRound <= 0 && t.RoundTime <= 0 {
		return nil, errors.New("either battles or round_time must be > 0")
	}
	return t, nil
}

// Snapshot returns a snapshot of the trainer's current policy.
func (t *Trainer) Snapshot() *agentpool.Snapshot {
	return &agentpool.Snapshot{
		Owner:  t.owner,
		TeamID: t.team.ID,
		Steps:  t.steps,
		Device: t.Device,
		Params: slices.Clone(t.policy.Weights()),
	}
}

// Reset the policy to the parameters of the given snapshot. The steps count is kept.
func (t *Trainer) Reset(snapshot *agentpool.Snapshot) {
	t.policy = NewPolicy(slices.Clone(snapshot.Params))
	t.baseline = 0
}

// Probabilities of the trainer's policy when facing the opponent team.
func (t *Trainer) Probabilities(opponent *teams.Team) [teams.NumAttackTypes]float32 {
	return t.policy.Probabilities(Features(opponent), AvailableAttacks(t.team))
}

// opponentPolicy returns the policy of the opponent snapshot.
func (t *Trainer) opponentPolicy(team *teams.Team, snapshot *agentpool.Snapshot) *Policy {
	if team.Scripted || len(snapshot.Params) == 0 {
		return UniformPolicy()
	}
	return NewPolicy(snapshot.Params)
}

// StartRound implements league.TrainingLoop. It fights battles against the opponent until the
// round time or the number of battles is exhausted, updating the policy after each battle (unless
// the team is scripted).
//
// The round is won if the team won more battles than it lost.
func (t *Trainer) StartRound(ctx context.Context, opponent *agentpool.Snapshot) (payoff.Outcome, *agentpool.Snapshot, int64, error) {
	opponentTeam, found := t.registry.Lookup(opponent.TeamID)
	if !found {
		return payoff.Draw, nil, 0, errors.Errorf("opponent snapshot of %d has unknown team %d", opponent.Owner, opponent.TeamID)
	}
	opponentPolicy := t.opponentPolicy(opponentTeam, opponent)
	var deadline time.Time
	if t.RoundTime > 0 {
		deadline = time.Now().Add(t.RoundTime)
	}

	var wins, losses, battles int
	var steps int64
	grad := make([]float32, ParamsDim)
	for {
		if err := ctx.Err(); err != nil {
			return payoff.Draw, nil, 0, errors.WithMessagef(err, "training %s against %s", t.team, opponentTeam)
		}
		result := Fight(t.rng, t.team, opponentTeam, t.policy, opponentPolicy, t.Engagements)
		battles++
		steps += int64(t.Engagements)
		homeWon, awayWon := result.Won()
		reward := float32(0)
		switch payoff.OutcomeFromFlags(homeWon, awayWon) {
		case payoff.Win:
			wins++
			reward = 1
		case payoff.Loss:
			losses++
			reward = -1
		}
		if !t.team.Scripted {
			t.learn(result, reward, grad)
		}

		if t.BattlesPerRound > 0 && battles >= t.BattlesPerRound {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}
	t.steps += steps
	outcome := payoff.OutcomeFromFlags(wins > losses, losses > wins)
	if klog.V(2).Enabled() {
		klog.Infof("%s vs %s: %d battles, %d wins, %d losses -> %s", t.team, opponentTeam, battles, wins, losses, outcome)
	}
	return outcome, t.Snapshot(), steps, nil
}

// learn updates the policy with REINFORCE, using a moving average of the rewards as baseline.
func (t *Trainer) learn(result *Result, reward float32, grad []float32) {
	advantage := reward - t.baseline
	t.baseline = t.BaselineDecay*t.baseline + (1-t.BaselineDecay)*reward
	if advantage == 0 {
		return
	}
	clear(grad)
	scale := advantage / float32(len(result.Choices))
	for ii := range result.Choices {
		t.policy.accumulateGradient(grad, &result.Choices[ii], scale)
	}
	t.policy.Update(grad, t.LearningRate, t.MaxGradL2)
}
