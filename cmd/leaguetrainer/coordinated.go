package main

import (
	"context"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/ledger"
	"github.com/janpfeifer/leagueGo/internal/matchmaking"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"math/rand/v2"
)

// runCoordinated runs one worker per team, coordinated by a league.Coordinator. Participant ids are
// the team ids.
//
// Coordinator and workers run in one errgroup: the first error cancels everything.
func runCoordinated(ctx context.Context, registry *teams.Registry, seed uint64, recorder *ledger.Ledger) (*league.Summary, []string, error) {
	names := teamNames(registry)
	config := league.Config{}
	if recorder != nil {
		config.Recorder = recorder
	}
	coordinator := league.NewCoordinator(len(names), config)

	var runners []*league.Runner
	for _, team := range registry.Teams() {
		client, err := coordinator.Register(team.ID)
		if err != nil {
			return nil, nil, err
		}
		client.RequestTimeout = *flagRequestTimeout
		client.BarrierTimeout = *flagBarrierTimeout
		rng := rand.New(rand.NewPCG(seed, uint64(team.ID)+1))
		strategy, err := matchmaking.New(*flagMatchmaking, client, registry, rng)
		if err != nil {
			return nil, nil, err
		}
		trainer, err := newTrainer(team.ID, team, registry, rng)
		if err != nil {
			return nil, nil, err
		}
		runners = append(runners, &league.Runner{
			Client:               client,
			Team:                 team,
			Strategy:             strategy,
			Loop:                 trainer,
			Initial:              trainer.Snapshot(),
			MaxRounds:            *flagRounds,
			SyncAfterMatchmaking: true,
		})
	}
	stopStatus := serveStatus(ctx, coordinator, names)
	defer stopStatus()
	stopProgress := showProgress(ctx, coordinator)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(gCtx) })
	for _, runner := range runners {
		g.Go(func() error {
			stats, err := runner.Run(gCtx)
			klog.Infof("%s finished: %d rounds (%d wins, %d losses, %d draws), %s steps",
				runner.Team, stats.Rounds, stats.Wins, stats.Losses, stats.Draws, humanize.Comma(stats.Steps))
			return err
		})
	}
	err := g.Wait()
	stopProgress()
	return coordinator.Summary(), names, err
}
