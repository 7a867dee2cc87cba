package league

import (
	"context"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/matchmaking"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"time"
)

// TrainingLoop is the learner of one worker: it trains its agent against the given opponent for
// one round.
type TrainingLoop interface {
	// StartRound trains for one round against opponent, and returns the outcome of the round (from
	// the point of view of the learner), the learner's updated snapshot and the number of
	// environment steps taken.
	StartRound(ctx context.Context, opponent *agentpool.Snapshot) (outcome payoff.Outcome, updated *agentpool.Snapshot, steps int64, err error)
}

// RunStats are the totals of a Runner.
type RunStats struct {
	Rounds              int
	Wins, Losses, Draws int
	Steps               int64
}

// DisconnectTimeout is how long Runner.Run waits for the Coordinator to acknowledge the disconnection.
var DisconnectTimeout = 5 * time.Second

// Runner drives the training rounds of one worker.
type Runner struct {
	Client   *Client
	Team     *teams.Team
	Strategy matchmaking.Strategy
	Loop     TrainingLoop

	// Initial snapshot, published before the first round so the pool is complete when matchmaking starts.
	Initial *agentpool.Snapshot

	// MaxRounds, if > 0, limits the number of rounds.
	MaxRounds int

	// SyncAfterMatchmaking adds a barrier wait after the opponent is chosen, so that all workers
	// read the pool before any of them publishes a new snapshot.
	SyncAfterMatchmaking bool
}

// Run the worker until the strategy has no more opponents, MaxRounds is reached, or an error happens.
// The worker is always disconnected on return, so it leaves the barrier for the others.
//
// Protocol violations (panics with exceptions.Panicf) are returned as errors.
func (r *Runner) Run(ctx context.Context) (stats RunStats, err error) {
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), DisconnectTimeout)
		defer cancel()
		if disconnectErr := r.Client.Disconnect(disconnectCtx); disconnectErr != nil && err == nil &&
			!errors.Is(disconnectErr, ErrCoordinatorStopped) {
			err = errors.WithMessagef(disconnectErr, "worker %d failed to disconnect", r.Client.WorkerID())
		}
	}()
	var runErr error
	err = exceptions.TryCatch[error](func() { runErr = r.run(ctx, &stats) })
	if err != nil {
		err = errors.WithMessagef(err, "worker %d (%s) failed", r.Client.WorkerID(), r.Team)
		return
	}
	err = runErr
	return
}

func (r *Runner) run(ctx context.Context, stats *RunStats) error {
	workerID := r.Client.WorkerID()
	if r.Initial != nil {
		if err := r.Client.PublishSnapshot(ctx, r.Initial); err != nil {
			return errors.WithMessage(err, "publishing initial snapshot")
		}
	}
	if _, err := r.Client.Sync(ctx); err != nil {
		return err
	}

	for r.MaxRounds <= 0 || stats.Rounds < r.MaxRounds {
		match, err := r.Strategy.GetMatch(ctx, r.Team)
		if err != nil {
			return err
		}
		if match == nil {
			klog.V(1).Infof("Worker %d (%s): no more opponents after %d rounds", workerID, r.Team.Name, stats.Rounds)
			break
		}
		if r.SyncAfterMatchmaking {
			if _, err = r.Client.Sync(ctx); err != nil {
				return err
			}
		}

		outcome, updated, steps, err := r.Loop.StartRound(ctx, match.Snapshot)
		if err != nil {
			return errors.WithMessagef(err, "training round %d against %d", stats.Rounds, match.OpponentID)
		}
		if err = r.Client.ReportOutcome(ctx, workerID, match.OpponentID, outcome); err != nil {
			return err
		}
		if err = r.Client.PublishSnapshot(ctx, updated); err != nil {
			return err
		}
		stats.Rounds++
		stats.Steps += steps
		switch outcome {
		case payoff.Win:
			stats.Wins++
		case payoff.Loss:
			stats.Losses++
		case payoff.Draw:
			stats.Draws++
		}
		if klog.V(1).Enabled() {
			klog.Infof("Worker %d (%s) round %d vs %d (%s): %s, %s steps",
				workerID, r.Team.Name, stats.Rounds, match.OpponentID, match.Opponent.Name, outcome,
				humanize.Comma(updated.Steps))
		}

		if _, err = r.Client.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}
