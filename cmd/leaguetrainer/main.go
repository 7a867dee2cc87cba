// leaguetrainer trains a league of teams in the battle environment, and prints the resulting
// payoff table.
//
// By default every team is played by one worker, coordinated by a league.Coordinator that chooses
// their opponents with the -matchmaking strategy. With -roles the league is instead organized in
// main players, exploiters and their historical checkpoints (see package roles).
//
// Every flag can also be given by an environment variable LEAGUE_<FLAG_NAME>, e.g. LEAGUE_ROUNDS=10,
// optionally set in a .env file in the current directory. Command line flags take precedence.
package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/battle"
	"github.com/janpfeifer/leagueGo/internal/league"
	"github.com/janpfeifer/leagueGo/internal/ledger"
	"github.com/janpfeifer/leagueGo/internal/matchmaking"
	"github.com/janpfeifer/leagueGo/internal/profilers"
	"github.com/janpfeifer/leagueGo/internal/status"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/janpfeifer/leagueGo/internal/ui/cli"
	"github.com/janpfeifer/leagueGo/internal/ui/interrupt"
	"github.com/janpfeifer/leagueGo/internal/ui/spinning"
	"github.com/janpfeifer/must"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/term"
	"k8s.io/klog/v2"
	"math/rand/v2"
	"os"
	"strings"
	"time"
)

const defaultTeams = "red:melee/normal,ranged/pierce,support/siege; " +
	"blue:melee/pierce,melee/siege,ranged/normal; " +
	"siege*:melee/siege,ranged/siege"

var (
	flagTeams = flag.String("teams", defaultTeams,
		"List of teams separated by \";\", each with the format \"name:role/attack,...\". "+
			"Roles are melee, ranged or support; attack types are normal, pierce or siege. "+
			"A \"*\" suffix in the name makes the team scripted: it plays uniformly at random and doesn't learn.")
	flagMatchmaking = flag.String("matchmaking", "pfsp:weighting=variance",
		"Matchmaking strategy with its parameters, e.g. \"pfsp:weighting=squared\". "+
			"Valid strategies: "+strings.Join(matchmaking.Names(), ", "))
	flagRounds    = flag.Int("rounds", 10, "Number of training rounds per worker. 0 means until interrupted, or until the matchmaking has no more opponents.")
	flagRoundTime = flag.Duration("round_time", 0, "If > 0, each training round lasts this long, instead of a fixed number of battles.")
	flagTrainer   = flag.String("trainer", "battles=64,lr=0.1", "Parameters of the battle trainer: battles, engagements, lr, round_time.")

	flagRequestTimeout = flag.Duration("request_timeout", 30*time.Second, "Timeout of each request to the coordinator. 0 disables it.")
	flagBarrierTimeout = flag.Duration("barrier_timeout", 5*time.Minute, "Timeout waiting for the other workers at the end of each round. 0 disables it.")
	flagAccelerator    = flag.Bool("accelerator", false, "Mark snapshots as accelerator resident, so they are cloned whenever shared.")
	flagSeed           = flag.Uint64("seed", 0, "Random seed. 0 picks a random one.")

	flagLedger     = flag.String("ledger", "", "If set, path to the SQLite ledger where outcomes, snapshots and rounds are recorded. Use \":memory:\" for a volatile one.")
	flagStatusPort = flag.Int("status_port", -1, "If >= 0, serve the league status (/payoff, /pool, /rounds) on this port.")
	flagProgress   = flag.Bool("progress", true, "Display the progress of the league while it trains, if stdout is a terminal.")
)

// applyEnvDefaults sets the flags from the LEAGUE_<FLAG> environment variables. It must be called
// before flag.Parse, so the command line takes precedence.
func applyEnvDefaults() error {
	var err error
	flag.VisitAll(func(f *flag.Flag) {
		if err != nil {
			return
		}
		name := "LEAGUE_" + strings.ToUpper(f.Name)
		value, found := os.LookupEnv(name)
		if !found {
			return
		}
		if setErr := flag.Set(f.Name, value); setErr != nil {
			err = errors.Wrapf(setErr, "invalid value %q for environment variable %s", value, name)
		}
	})
	return err
}

func main() {
	klog.InitFlags(nil)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		klog.Warningf("Failed to load .env: %v", err)
	}
	must.M(applyEnvDefaults())
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopInterrupt := interrupt.SafeInterrupt(cancel, 5*time.Second)
	defer stopInterrupt()
	must.M(profilers.Setup(ctx))
	defer profilers.OnQuit()

	summary, names, err := run(ctx)
	if summary != nil {
		cli.PrintSummary(summary, names)
	}
	if err = leagueFailure(ctx, err); err != nil {
		profilers.OnQuit()
		klog.Fatalf("League failed: %+v", err)
	}
}

// leagueFailure returns err if the league failed. An interruption by the user (ctx cancelled) is
// only logged, and nil is returned.
func leagueFailure(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		klog.Warningf("League interrupted: %v", err)
		return nil
	}
	return err
}

// run the league configured by the flags until it finishes or ctx is cancelled. It returns the
// final summary and the names of its participants, also on error.
func run(ctx context.Context) (*league.Summary, []string, error) {
	registry, err := teams.ParseList(*flagTeams)
	if err != nil {
		return nil, nil, err
	}
	seed := *flagSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	klog.Infof("League of %d teams, seed=%d", registry.Len(), seed)

	var recorder *ledger.Ledger
	if *flagLedger != "" {
		recorder, err = ledger.Open(ctx, *flagLedger, runDescription(seed))
		if err != nil {
			return nil, nil, err
		}
		defer func() {
			klog.Infof("Ledger run %s", recorder.RunID())
			if err := recorder.Close(); err != nil {
				klog.Errorf("Closing ledger: %+v", err)
			}
		}()
	}

	if *flagRoles {
		return runRoles(ctx, registry, seed, recorder)
	}
	return runCoordinated(ctx, registry, seed, recorder)
}

// runDescription is stored with the ledger run.
func runDescription(seed uint64) string {
	var parts []string
	flag.Visit(func(f *flag.Flag) {
		parts = append(parts, fmt.Sprintf("-%s=%s", f.Name, f.Value))
	})
	parts = append(parts, fmt.Sprintf("seed=%d", seed))
	return strings.Join(parts, " ")
}

// newTrainer creates the battle trainer for a team, playing as participant owner.
func newTrainer(owner int, team *teams.Team, registry *teams.Registry, rng *rand.Rand) (*battle.Trainer, error) {
	config := *flagTrainer
	if *flagRoundTime > 0 {
		config += ",round_time=" + flagRoundTime.String()
	}
	trainer, err := battle.NewTrainer(owner, team, registry, rng, config)
	if err != nil {
		return nil, errors.WithMessagef(err, "trainer for %s", team)
	}
	if *flagAccelerator {
		trainer.Device = agentpool.Accelerator
	}
	return trainer, nil
}

// serveStatus starts the status endpoint, if -status_port was set. The returned stop function
// shuts it down and waits for it.
func serveStatus(ctx context.Context, source status.SummarySource, names []string) (stop func()) {
	if *flagStatusPort < 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := status.Serve(ctx, *flagStatusPort, source, names); err != nil {
			klog.Errorf("Status endpoint: %+v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// showProgress displays a spinning status line with the league progress, if -progress is set and
// stdout is a terminal. The returned stop function clears it.
func showProgress(ctx context.Context, source status.SummarySource) (stop func()) {
	if !*flagProgress || !term.IsTerminal(int(os.Stdout.Fd())) {
		return func() {}
	}
	s := spinning.New(ctx, os.Stdout, func() string {
		summary := source.Summary()
		var steps int64
		for _, info := range summary.Pool {
			steps += info.Steps
		}
		return fmt.Sprintf("round %d, %d/%d workers finished, %s steps",
			summary.Rounds, summary.Closed, summary.Workers, humanize.Comma(steps))
	})
	return s.Done
}

// teamNames returns the team names indexed by team id.
func teamNames(registry *teams.Registry) []string {
	ids := registry.IDs()
	names := make([]string, ids[len(ids)-1]+1)
	for _, team := range registry.Teams() {
		names[team.ID] = team.Name
	}
	return names
}
