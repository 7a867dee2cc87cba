package league

import (
	"context"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/matchmaking"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/janpfeifer/leagueGo/internal/teams"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"math/rand/v2"
	"sync"
	"testing"
	"time"
)

// startCoordinator registers numWorkers workers and runs the coordinator in the background.
// The returned channel yields Run's error.
func startCoordinator(t *testing.T, numWorkers int, config Config) (*Coordinator, []*Client, <-chan error) {
	coordinator := NewCoordinator(numWorkers, config)
	clients := make([]*Client, numWorkers)
	for id := range numWorkers {
		var err error
		clients[id], err = coordinator.Register(id)
		require.NoError(t, err)
		clients[id].RequestTimeout = 5 * time.Second
		clients[id].BarrierTimeout = 5 * time.Second
	}
	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(context.Background()) }()
	return coordinator, clients, runErr
}

func waitRun(t *testing.T, runErr <-chan error) error {
	select {
	case err := <-runErr:
		return err
	case <-time.After(10 * time.Second):
		require.FailNow(t, "coordinator didn't stop")
	}
	return nil
}

func TestRegister(t *testing.T) {
	coordinator := NewCoordinator(2, Config{})
	_, err := coordinator.Register(0)
	require.NoError(t, err)
	_, err = coordinator.Register(0)
	require.Error(t, err, "registering twice")
	_, err = coordinator.Register(2)
	require.Error(t, err, "out of range")
	assert.Equal(t, 1, coordinator.NumWorkers())
}

func TestAllWorkersClose(t *testing.T) {
	const numWorkers = 4
	coordinator, clients, runErr := startCoordinator(t, numWorkers, Config{})
	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Disconnect checks the reply is the ACK of its own CLOSE.
			assert.NoError(t, client.Disconnect(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, waitRun(t, runErr))
	summary := coordinator.Summary()
	assert.Equal(t, numWorkers, summary.Workers)
	assert.Equal(t, numWorkers, summary.Closed)
	assert.Equal(t, 0, coordinator.barrier.Parties())

	// Using a disconnected client.
	_, err := clients[0].GetPool(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, clients[0].Disconnect(context.Background()))
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	coordinator, clients, runErr := startCoordinator(t, 2, Config{})
	c0, c1 := clients[0], clients[1]

	require.NoError(t, c0.PublishSnapshot(ctx, &agentpool.Snapshot{Owner: 0, TeamID: 0, Params: []float32{1, 2}}))
	require.NoError(t, c1.PublishSnapshot(ctx, &agentpool.Snapshot{Owner: 1, TeamID: 1, Device: agentpool.Accelerator, Params: []float32{3}}))
	require.Error(t, c0.PublishSnapshot(ctx, &agentpool.Snapshot{Owner: 1}), "publishing someone else's snapshot")

	snapshot, err := c0.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, snapshot.Params)
	pool, err := c1.GetPool(ctx)
	require.NoError(t, err)
	require.Len(t, pool, 2)
	assert.Equal(t, []float32{1, 2}, pool[0].Params)

	require.NoError(t, c0.ReportOutcome(ctx, 0, 1, payoff.Win))
	require.NoError(t, c1.RecordMatch(ctx, 1, 0))
	winRates, matches, err := c1.PayoffRow(ctx, 1, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5}, winRates)
	assert.Equal(t, []float64{1, 0}, matches)

	// Checkpoint fails explicitly, but the coordinator keeps serving.
	err = c0.Checkpoint(ctx)
	require.ErrorIs(t, err, ErrNotImplemented)
	_, err = c0.GetPool(ctx)
	require.NoError(t, err)

	require.NoError(t, c0.Disconnect(ctx))
	require.NoError(t, c1.Disconnect(ctx))
	require.NoError(t, waitRun(t, runErr))

	summary := coordinator.Summary()
	require.Len(t, summary.Pool, 2)
	assert.Equal(t, agentpool.Accelerator, summary.Pool[1].Device)
	assert.InDelta(t, 1.0, summary.Payoff[0][1][payoff.EntryWin], 1e-9)
	assert.InDelta(t, 1.0, summary.WinRates()[0][1], 1e-9)
}

func TestAcceleratorSnapshotsAreCloned(t *testing.T) {
	ctx := context.Background()
	_, clients, runErr := startCoordinator(t, 1, Config{})
	mine := &agentpool.Snapshot{Owner: 0, Device: agentpool.Accelerator, Params: []float32{1, 2, 3}}
	require.NoError(t, clients[0].PublishSnapshot(ctx, mine))
	mine.Params[0] = 100
	got, err := clients[0].GetAgent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got.Params)
	require.NoError(t, clients[0].Disconnect(ctx))
	require.NoError(t, waitRun(t, runErr))
}

func TestUnknownCommandIsFatal(t *testing.T) {
	ctx := context.Background()
	coordinator, clients, runErr := startCoordinator(t, 2, Config{})
	_, err := clients[0].call(ctx, Command{Kind: CommandKind(99)})
	require.ErrorIs(t, err, ErrCoordinatorStopped)
	require.Error(t, waitRun(t, runErr))
	require.Error(t, coordinator.Err())

	// Other clients are released too.
	_, err = clients[1].GetPool(ctx)
	require.ErrorIs(t, err, ErrCoordinatorStopped)
}

func TestUnknownAgentIsFatal(t *testing.T) {
	_, clients, runErr := startCoordinator(t, 1, Config{})
	_, err := clients[0].GetAgent(context.Background(), 0)
	require.ErrorIs(t, err, ErrCoordinatorStopped)
	require.Error(t, waitRun(t, runErr))
}

func TestProtocolViolation(t *testing.T) {
	coordinator := NewCoordinator(1, Config{})
	client, err := coordinator.Register(0)
	require.NoError(t, err)

	// Fake coordinator that answers with the wrong command id.
	go func() {
		cmd := <-client.link.inbound
		client.link.outbound <- Reply{ID: cmd.ID + 1, Kind: cmd.Kind}
	}()
	require.Panics(t, func() { _, _ = client.GetPool(context.Background()) })

	// Data reply to an acknowledged command.
	go func() {
		cmd := <-client.link.inbound
		client.link.outbound <- Reply{ID: cmd.ID, Kind: cmd.Kind}
	}()
	require.Panics(t, func() { _ = client.RecordMatch(context.Background(), 0, 0) })
}

func TestRequestTimeout(t *testing.T) {
	coordinator := NewCoordinator(1, Config{})
	client, err := coordinator.Register(0)
	require.NoError(t, err)
	client.RequestTimeout = 20 * time.Millisecond

	// Coordinator never runs: the command is queued, but no reply comes.
	_, err = client.GetPool(context.Background())
	require.ErrorIs(t, err, ErrRequestTimeout)

	// The client is now unusable.
	_, err = client.GetPool(context.Background())
	require.ErrorIs(t, err, ErrRequestTimeout)
}

func TestBrokenWorkerIsEvicted(t *testing.T) {
	coordinator := NewCoordinator(2, Config{})
	c0, err := coordinator.Register(0)
	require.NoError(t, err)
	c1, err := coordinator.Register(1)
	require.NoError(t, err)
	c0.RequestTimeout = 5 * time.Second
	c1.RequestTimeout = 20 * time.Millisecond

	// Worker 1 gives up on a request before the coordinator starts.
	ctx := context.Background()
	_, err = c1.GetPool(ctx)
	require.ErrorIs(t, err, ErrRequestTimeout)

	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(ctx) }()
	require.NoError(t, c1.Disconnect(ctx))
	require.NoError(t, c1.Disconnect(ctx), "disconnecting twice is a no-op")

	// Worker 0 is not held back at the barrier by worker 1, even without a barrier timeout.
	require.NoError(t, c0.PublishSnapshot(ctx, &agentpool.Snapshot{Owner: 0, Params: []float32{1}}))
	synced := make(chan error, 1)
	go func() {
		_, err := c0.Sync(ctx)
		synced <- err
	}()
	select {
	case err = <-synced:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "worker 0 blocked at the barrier")
	}
	require.NoError(t, c0.Disconnect(ctx))

	require.NoError(t, waitRun(t, runErr))
	summary := coordinator.Summary()
	assert.Equal(t, 2, summary.Closed)
	assert.Len(t, summary.Pool, 1)
}

func TestCancelledRun(t *testing.T) {
	coordinator := NewCoordinator(1, Config{})
	client, err := coordinator.Register(0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(ctx) }()
	cancel()
	require.ErrorIs(t, waitRun(t, runErr), context.Canceled)
	_, err = client.GetPool(context.Background())
	require.ErrorIs(t, err, ErrCoordinatorStopped)
	require.Error(t, coordinator.Run(context.Background()), "Run twice")
}

// fakeLoop wins against opponents with a higher owner id, draws against itself and loses otherwise.
type fakeLoop struct {
	snapshot *agentpool.Snapshot
	err      error
	rounds   int
	failAt   int
}

func (l *fakeLoop) StartRound(_ context.Context, opponent *agentpool.Snapshot) (payoff.Outcome, *agentpool.Snapshot, int64, error) {
	l.rounds++
	if l.failAt > 0 && l.rounds >= l.failAt {
		return payoff.Draw, nil, 0, l.err
	}
	updated := l.snapshot.Clone()
	updated.Steps += 10
	l.snapshot = updated
	me := l.snapshot.Owner
	return payoff.OutcomeFromFlags(me < opponent.Owner, me > opponent.Owner), updated, 10, nil
}

type recorder struct {
	mu                        sync.Mutex
	outcomes, snapshots, last int
}

func (r *recorder) RecordOutcome(_, _ int, _ payoff.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes++
	return nil
}

func (r *recorder) RecordSnapshot(_ *agentpool.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
	return nil
}

func (r *recorder) RecordRound(round int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = round
	return nil
}

func buildRunners(t *testing.T, clients []*Client, strategyConfig string, maxRounds int, syncAfterMatchmaking bool) ([]*Runner, []*fakeLoop) {
	var teamList []*teams.Team
	for id := range clients {
		teamList = append(teamList, &teams.Team{ID: id, Name: string(rune('a' + id))})
	}
	registry, err := teams.NewRegistry(teamList...)
	require.NoError(t, err)
	runners := make([]*Runner, len(clients))
	loops := make([]*fakeLoop, len(clients))
	for id, client := range clients {
		strategy, err := matchmaking.New(strategyConfig, client, registry, rand.New(rand.NewPCG(uint64(id), 0)))
		require.NoError(t, err)
		initial := &agentpool.Snapshot{Owner: id, TeamID: id, Params: []float32{float32(id)}}
		loops[id] = &fakeLoop{snapshot: initial}
		runners[id] = &Runner{
			Client:               client,
			Team:                 registry.Get(id),
			Strategy:             strategy,
			Loop:                 loops[id],
			Initial:              initial,
			MaxRounds:            maxRounds,
			SyncAfterMatchmaking: syncAfterMatchmaking,
		}
	}
	return runners, loops
}

func TestRunner(t *testing.T) {
	const numWorkers, maxRounds = 3, 4
	rec := &recorder{}
	coordinator, clients, runErr := startCoordinator(t, numWorkers, Config{Recorder: rec, LogInterval: time.Millisecond})
	runners, _ := buildRunners(t, clients, "balanced", maxRounds, true)
	stats := make([]RunStats, numWorkers)
	var g errgroup.Group
	for id, runner := range runners {
		g.Go(func() (err error) {
			stats[id], err = runner.Run(context.Background())
			return
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, waitRun(t, runErr))

	for id := range numWorkers {
		assert.Equal(t, maxRounds, stats[id].Rounds)
		assert.Equal(t, maxRounds, stats[id].Wins+stats[id].Losses+stats[id].Draws)
		assert.Equal(t, int64(10*maxRounds), stats[id].Steps)
	}
	summary := coordinator.Summary()
	require.Len(t, summary.Pool, numWorkers)
	for _, info := range summary.Pool {
		assert.Equal(t, int64(10*maxRounds), info.Steps)
	}
	// Worker 0 never loses, worker 2 never wins.
	assert.Zero(t, stats[0].Losses)
	assert.Zero(t, stats[2].Wins)
	assert.Equal(t, numWorkers*maxRounds, rec.outcomes)
	assert.Equal(t, numWorkers*(maxRounds+1), rec.snapshots)
	assert.Greater(t, summary.Rounds, 0)
}

func TestRunnerFailureReleasesOthers(t *testing.T) {
	const numWorkers, maxRounds = 2, 3
	_, clients, runErr := startCoordinator(t, numWorkers, Config{})
	runners, loops := buildRunners(t, clients, "random", maxRounds, false)
	loops[1].failAt = 2
	loops[1].err = errors.New("simulator crashed")

	stats := make([]RunStats, numWorkers)
	errs := make([]error, numWorkers)
	var wg sync.WaitGroup
	for id, runner := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats[id], errs[id] = runner.Run(context.Background())
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	assert.Equal(t, maxRounds, stats[0].Rounds)
	require.Error(t, errs[1])
	assert.Contains(t, errs[1].Error(), "simulator crashed")
	assert.Equal(t, 1, stats[1].Rounds)
	require.NoError(t, waitRun(t, runErr))
}
