package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/barrier"
	"github.com/janpfeifer/leagueGo/internal/battle"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/ledger"
	"github.com/janpfeifer/leagueGo/internal/roles"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"math/rand/v2"
)

var (
	flagRoles            = flag.Bool("roles", false, "Organize the league in main players, exploiters and historical checkpoints, instead of one worker per team.")
	flagMainExploiters   = flag.Int("main_exploiters", 1, "With -roles, number of main exploiters per learning team.")
	flagLeagueExploiters = flag.Int("league_exploiters", 1, "With -roles, number of league exploiters per learning team.")
	flagMinCheckpoint    = flag.Int64("min_checkpoint_steps", 5_000, "With -roles, minimum steps trained since the last checkpoint before a player can be checkpointed.")
	flagForceCheckpoint  = flag.Int64("force_checkpoint_steps", 20_000, "With -roles, steps trained since the last checkpoint after which a player is always checkpointed.")
	flagCheckpointWin    = flag.Float64("checkpoint_win_rate", 0.7, "With -roles, win rate against every reference opponent needed to checkpoint early.")
)

// roleAbbreviations used in the participants' names.
var roleAbbreviations = map[roles.Role]string{
	roles.MainPlayer:      "mp",
	roles.MainExploiter:   "me",
	roles.LeagueExploiter: "le",
	roles.Historical:      "h",
}

// rolesWorker trains one learning player of a roles.League.
type rolesWorker struct {
	player   *roles.Player
	team     *teams.Team
	trainer  *battle.Trainer
	recorder league.Recorder
}

// rolesLeague adapts a roles.League to the status and cli summaries.
type rolesLeague struct {
	league     *roles.League
	barrier    *barrier.Barrier
	numWorkers int
}

// Summary implements status.SummarySource.
func (r *rolesLeague) Summary() *league.Summary {
	s := &league.Summary{
		Payoff:  r.league.Payoff(),
		Rounds:  r.barrier.Generation(),
		Workers: r.numWorkers,
		Closed:  r.numWorkers - r.barrier.Parties(),
	}
	for _, p := range r.league.Players() {
		snapshot := p.Snapshot()
		s.Pool = append(s.Pool, league.SnapshotInfo{
			Owner:  p.ID,
			TeamID: p.TeamID,
			Steps:  snapshot.Steps,
			Device: snapshot.Device,
		})
	}
	return s
}

// names of the players, indexed by ID.
func (r *rolesLeague) names(registry *teams.Registry) []string {
	players := r.league.Players()
	names := make([]string, len(players))
	for _, p := range players {
		suffix := roleAbbreviations[p.Role]
		if p.Role == roles.Historical {
			suffix = fmt.Sprintf("%s%d", suffix, p.ID)
		}
		names[p.ID] = registry.Get(p.TeamID).Name + "." + suffix
	}
	return names
}

// runRoles runs a roles.League: a MainPlayer per team, and the exploiters configured by the flags
// for every learning (not scripted) team. Each learning player is trained by its own goroutine,
// and they all wait for each other at the end of each round.
func runRoles(ctx context.Context, registry *teams.Registry, seed uint64, recorder *ledger.Ledger) (*league.Summary, []string, error) {
	config := roles.DefaultConfig()
	config.MinCheckpointSteps = *flagMinCheckpoint
	config.ForceCheckpointSteps = *flagForceCheckpoint
	config.CheckpointWinRate = *flagCheckpointWin
	l := roles.NewLeague(config, rand.New(rand.NewPCG(seed, 0)))

	var workers []*rolesWorker
	addPlayer := func(role roles.Role, team *teams.Team) error {
		id := l.Len()
		trainer, err := newTrainer(id, team, registry, rand.New(rand.NewPCG(seed, uint64(id)+1)))
		if err != nil {
			return err
		}
		p := l.AddPlayer(role, team.ID, trainer.Snapshot())
		if p.ID != id {
			exceptions.Panicf("player of %s got id %d, expected %d", team, p.ID, id)
		}
		w := &rolesWorker{player: p, team: team, trainer: trainer}
		if recorder != nil {
			w.recorder = recorder
		}
		workers = append(workers, w)
		return nil
	}
	for _, team := range registry.Teams() {
		if err := addPlayer(roles.MainPlayer, team); err != nil {
			return nil, nil, err
		}
	}
	for _, team := range registry.Teams() {
		if team.Scripted {
			continue
		}
		for range *flagMainExploiters {
			if err := addPlayer(roles.MainExploiter, team); err != nil {
				return nil, nil, err
			}
		}
		for range *flagLeagueExploiters {
			if err := addPlayer(roles.LeagueExploiter, team); err != nil {
				return nil, nil, err
			}
		}
	}

	adapter := &rolesLeague{league: l, barrier: barrier.New(len(workers)), numWorkers: len(workers)}
	stopStatus := serveStatus(ctx, adapter, adapter.names(registry))
	defer stopStatus()
	stopProgress := showProgress(ctx, adapter)

	g, gCtx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			defer adapter.barrier.Leave()
			var err error
			if exception := exceptions.TryCatch[error](func() { err = w.run(gCtx, l, adapter.barrier) }); exception != nil {
				return exception
			}
			return err
		})
	}
	err := g.Wait()
	stopProgress()
	return adapter.Summary(), adapter.names(registry), err
}

// run the training rounds of the worker's player.
func (w *rolesWorker) run(ctx context.Context, l *roles.League, b *barrier.Barrier) error {
	p := w.player
	var steps int64
	for round := 0; *flagRounds == 0 || round < *flagRounds; round++ {
		if opponent := p.GetMatch(); opponent != nil {
			outcome, updated, roundSteps, err := w.trainer.StartRound(ctx, opponent.Snapshot())
			if err != nil {
				return errors.WithMessagef(err, "%s of %s, round %d", p, w.team, round)
			}
			steps += roundSteps
			l.Report(p, opponent, outcome)
			l.SetSnapshot(p, updated)
			w.record(func(r league.Recorder) error { return r.RecordOutcome(p.ID, opponent.ID, outcome) })
			w.record(func(r league.Recorder) error { return r.RecordSnapshot(updated) })
			if klog.V(1).Enabled() {
				klog.Infof("%s of %s, round %d: %s against %s (%s steps)", p, w.team, round, outcome, opponent, humanize.Comma(roundSteps))
			}
			if p.ReadyToCheckpoint() {
				w.checkpoint(l)
			}
		} else {
			klog.V(1).Infof("%s of %s, round %d: no opponent available", p, w.team, round)
		}

		generation, err := b.Wait(ctx, *flagBarrierTimeout)
		if err != nil {
			return errors.WithMessagef(err, "%s of %s waiting for round %d", p, w.team, round)
		}
		w.record(func(r league.Recorder) error { return r.RecordRound(generation) })
	}
	klog.Infof("%s of %s finished: %s steps", p, w.team, humanize.Comma(steps))
	return nil
}

// checkpoint freezes the player, and resets its trainer if the league says so.
func (w *rolesWorker) checkpoint(l *roles.League) {
	historical, reset := l.Checkpoint(w.player)
	if reset != nil {
		w.trainer.Reset(reset)
	}
	w.record(func(r league.Recorder) error { return r.RecordSnapshot(historical.Snapshot()) })
}

// record calls fn with the recorder, if there is one. Errors are logged.
func (w *rolesWorker) record(fn func(r league.Recorder) error) {
	if w.recorder == nil {
		return
	}
	if err := fn(w.recorder); err != nil {
		klog.Warningf("Recording %s: %v", w.player, err)
	}
}
