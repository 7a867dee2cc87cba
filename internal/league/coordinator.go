// Package league implements the coordination protocol of the league: a Coordinator that owns the
// payoff table and the agent pool, the worker side Client that talks to it through a pair of
// queues, and the Runner that drives a worker's training rounds.
//
// The Coordinator is the single writer of the shared state: workers only observe and change it by
// sending commands, which are processed one at a time, round-robin over the workers' queues.
package league

import (
	"context"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/barrier"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"sync/atomic"
	"time"
)

var (
	// ErrNotImplemented is returned for the checkpoint command.
	ErrNotImplemented = errors.New("not implemented")

	// ErrCoordinatorStopped is returned by clients when the Coordinator is no longer running.
	ErrCoordinatorStopped = errors.New("league coordinator stopped")
)

// Recorder is notified of every change of the league state. Errors are logged, and don't stop the league.
type Recorder interface {
	RecordOutcome(home, away int, outcome payoff.Outcome) error
	RecordSnapshot(snapshot *agentpool.Snapshot) error
	RecordRound(round int) error
}

// Config of the Coordinator. The zero value is usable.
type Config struct {
	// Decay of the payoff table. Defaults to payoff.DefaultDecay.
	Decay float64

	// LogInterval is how often the coordinator checks the barrier for logging, while idle.
	// Defaults to 1 second.
	LogInterval time.Duration

	// Recorder, if set, is notified of outcomes, snapshots and rounds.
	Recorder Recorder
}

// link holds the pair of queues connecting the Coordinator to one worker.
type link struct {
	workerID int
	inbound  chan Command
	outbound chan Reply
	closed   bool

	// left is set once the worker left the barrier, either by CLOSE or by eviction.
	left atomic.Bool

	// evicted is set by a Client whose queues are broken, and can't send CLOSE. The coordinator
	// then counts the worker as closed, and ignores any command left in its queue.
	evicted atomic.Bool
}

// leave the barrier, at most once per worker.
func (l *link) leave(b *barrier.Barrier) {
	if l.left.CompareAndSwap(false, true) {
		b.Leave()
	}
}

// Coordinator owns the payoff table and the agent pool, and serves the workers' commands.
type Coordinator struct {
	config  Config
	payoff  *payoff.Store
	pool    *agentpool.Pool
	barrier *barrier.Barrier

	links     []*link
	byWorker  map[int]*link
	numClosed int

	// wake is signalled by clients after sending a command.
	wake chan struct{}

	// done is closed when Run returns, err holds Run's error.
	done    chan struct{}
	err     error
	running atomic.Bool

	summary                     atomic.Pointer[Summary]
	dirty                       bool
	lastWaiting, lastGeneration int
}

// NewCoordinator creates a Coordinator for a league with numParticipants participants: worker ids
// (the payoff indices and pool keys) go from 0 to numParticipants-1.
func NewCoordinator(numParticipants int, config Config) *Coordinator {
	if config.Decay == 0 {
		config.Decay = payoff.DefaultDecay
	}
	if config.LogInterval <= 0 {
		config.LogInterval = time.Second
	}
	c := &Coordinator{
		config:   config,
		payoff:   payoff.NewWithDecay(numParticipants, config.Decay),
		pool:     agentpool.New(),
		barrier:  barrier.New(0),
		byWorker: make(map[int]*link),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.publishSummary()
	return c
}

// Register a worker, and return the Client it should use to talk to the Coordinator.
// It must be called before Run, once per worker.
func (c *Coordinator) Register(workerID int) (*Client, error) {
	if c.running.Load() {
		return nil, errors.Errorf("cannot register worker %d: coordinator already running", workerID)
	}
	if workerID < 0 || workerID >= c.payoff.Len() {
		return nil, errors.Errorf("invalid worker id %d, league has %d participants", workerID, c.payoff.Len())
	}
	if _, found := c.byWorker[workerID]; found {
		return nil, errors.Errorf("worker %d registered twice", workerID)
	}
	l := &link{
		workerID: workerID,
		inbound:  make(chan Command, 1),
		outbound: make(chan Reply, 1),
	}
	c.links = append(c.links, l)
	c.byWorker[workerID] = l
	c.barrier.Join()
	klog.V(1).Infof("Registered worker %d", workerID)
	return newClient(c, l), nil
}

// NumWorkers returns the number of registered workers.
func (c *Coordinator) NumWorkers() int { return len(c.links) }

// Done returns a channel closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Err returns the error Run returned, after Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Summary returns the latest summary of the league state. It's safe to call concurrently with Run.
func (c *Coordinator) Summary() *Summary {
	return c.summary.Load()
}

// Run serves the workers' commands until all of them closed (returns nil), ctx is cancelled, or
// a fatal error happens (unknown command, invalid ids). Either way, Done is closed on return, so
// clients blocked waiting for a reply are released.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("league coordinator Run called twice")
	}
	defer func() {
		c.err = err
		c.publishSummary()
		close(c.done)
	}()
	if len(c.links) == 0 {
		return errors.New("league coordinator has no registered workers")
	}
	klog.Infof("League coordinator serving %d workers", len(c.links))

	var loopErr error
	if fatalErr := exceptions.TryCatch[error](func() { loopErr = c.loop(ctx) }); fatalErr != nil {
		klog.Errorf("League coordinator fatal error: %+v", fatalErr)
		return errors.WithMessage(fatalErr, "league coordinator fatal error")
	}
	return loopErr
}

func (c *Coordinator) loop(ctx context.Context) error {
	ticker := time.NewTicker(c.config.LogInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return errors.WithMessage(ctx.Err(), "league coordinator interrupted")
		}
		c.observeBarrier()

		var processed int
		for _, l := range c.links {
			if l.closed {
				continue
			}
			if l.evicted.Load() {
				c.evict(l)
				continue
			}
			select {
			case cmd := <-l.inbound:
				c.dispatch(l, cmd)
				processed++
			default:
			}
		}
		if c.dirty {
			c.publishSummary()
		}
		if c.numClosed == len(c.links) {
			klog.Infof("League coordinator: all %d workers closed", len(c.links))
			return nil
		}
		if processed > 0 {
			continue
		}
		select {
		case <-ctx.Done():
		case <-c.wake:
		case <-ticker.C:
		}
	}
}

// observeBarrier logs the barrier transitions. It never gates the processing of commands.
func (c *Coordinator) observeBarrier() {
	generation := c.barrier.Generation()
	if generation != c.lastGeneration {
		c.lastGeneration = generation
		c.dirty = true
		klog.V(1).Infof("League round %d completed", generation)
		if c.config.Recorder != nil {
			if err := c.config.Recorder.RecordRound(generation); err != nil {
				klog.Warningf("Failed to record round %d: %+v", generation, err)
			}
		}
	}
	waiting, parties := c.barrier.Waiting(), c.barrier.Parties()
	if waiting == c.lastWaiting {
		return
	}
	switch {
	case waiting == parties && parties > 0:
		klog.V(1).Infof("League: all %d workers waiting at the barrier", parties)
	case waiting == 0:
		klog.V(2).Infof("League: no workers waiting at the barrier")
	}
	c.lastWaiting = waiting
}

// dispatch one command and reply to it on the worker's outbound queue.
func (c *Coordinator) dispatch(l *link, cmd Command) {
	if cmd.Origin != l.workerID {
		exceptions.Panicf("protocol violation: command %s received on the queue of worker %d", &cmd, l.workerID)
	}
	if klog.V(2).Enabled() {
		klog.Infof("Coordinator: processing %s", &cmd)
	}
	reply := Reply{ID: cmd.ID, Kind: cmd.Kind, Ack: cmd.Kind.Acknowledged()}
	switch cmd.Kind {
	case CommandGetAgent:
		reply.AgentID = cmd.AgentID
		reply.Snapshot = c.pool.Get(cmd.AgentID)

	case CommandGetPool:
		reply.Pool = c.pool.GetAll()

	case CommandUpdateAgent:
		c.pool.Put(cmd.AgentID, cmd.Snapshot)
		c.dirty = true
		if c.config.Recorder != nil {
			if err := c.config.Recorder.RecordSnapshot(cmd.Snapshot); err != nil {
				klog.Warningf("Failed to record snapshot of %d: %+v", cmd.AgentID, err)
			}
		}

	case CommandUpdatePayoff:
		c.payoff.Record(cmd.Home, cmd.Away, cmd.Outcome)
		c.dirty = true
		if c.config.Recorder != nil {
			if err := c.config.Recorder.RecordOutcome(cmd.Home, cmd.Away, cmd.Outcome); err != nil {
				klog.Warningf("Failed to record outcome %d vs %d: %+v", cmd.Home, cmd.Away, err)
			}
		}

	case CommandGetPayoff:
		reply.WinRates = c.payoff.WinRates(cmd.Home, cmd.Aways)
		reply.Matches = c.payoff.MatchesAgainst(cmd.Home, cmd.Aways)

	case CommandRecordMatch:
		c.payoff.RecordMatch(cmd.Home, cmd.Away)
		c.dirty = true

	case CommandCheckpoint:
		// TODO: decide whether checkpointing blocks the requester until the historical player is
		//  registered, or is fire-and-forget; until then it fails explicitly.
		reply.Err = errors.Wrapf(ErrNotImplemented, "checkpoint requested by worker %d", l.workerID)

	case CommandClose:
		l.closed = true
		c.numClosed++
		l.leave(c.barrier)
		c.dirty = true
		klog.V(1).Infof("Worker %d closed (%d of %d)", l.workerID, c.numClosed, len(c.links))

	default:
		exceptions.Panicf("protocol violation: unknown command %s", &cmd)
	}
	// The outbound queue has room for one reply, and a worker only has one command in flight.
	l.outbound <- reply
}

// evict counts a broken worker as closed.
func (c *Coordinator) evict(l *link) {
	l.closed = true
	c.numClosed++
	l.leave(c.barrier)
	c.dirty = true
	klog.Warningf("Worker %d evicted (%d of %d closed)", l.workerID, c.numClosed, len(c.links))
}

// signalWake wakes the coordinator loop up, if it is idle.
func (c *Coordinator) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
