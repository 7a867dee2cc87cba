package league

import (
	"context"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/matchmaking"
	"github.com/janpfeifer/leagueGo/internal/payoff"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"time"
)

var (
	// ErrClosed is returned by a Client used after Disconnect.
	ErrClosed = errors.New("league client already disconnected")

	// ErrRequestTimeout is returned when the Coordinator didn't reply within Client.RequestTimeout.
	ErrRequestTimeout = errors.New("league request timed out")
)

// Client is the worker side of the command channel. Each request blocks until the Coordinator
// replies, so from the worker's point of view the queues behave like an RPC.
//
// A Client is owned by one worker and is not safe for concurrent use.
type Client struct {
	coordinator *Coordinator
	link        *link
	nextID      uint64
	closed      bool

	// broken is set when a request was abandoned (timeout or cancellation): its reply may still
	// arrive, so the queues can no longer be trusted.
	broken error

	// RequestTimeout bounds the wait for each request to be accepted and replied. 0 means no timeout.
	RequestTimeout time.Duration

	// BarrierTimeout bounds each Sync. 0 means no timeout.
	BarrierTimeout time.Duration
}

// Assert Client is a matchmaking.Source.
var _ matchmaking.Source = (*Client)(nil)

func newClient(c *Coordinator, l *link) *Client {
	return &Client{coordinator: c, link: l}
}

// WorkerID returns the id of the worker this client serves.
func (c *Client) WorkerID() int { return c.link.workerID }

// stopped returns the error to report when the Coordinator is no longer running.
func (c *Client) stopped() error {
	if err := c.coordinator.Err(); err != nil {
		return errors.Wrapf(ErrCoordinatorStopped, "worker %d: %v", c.link.workerID, err)
	}
	return errors.Wrapf(ErrCoordinatorStopped, "worker %d", c.link.workerID)
}

// call sends the command and waits for its reply.
func (c *Client) call(ctx context.Context, cmd Command) (reply Reply, err error) {
	if c.closed {
		return reply, errors.Wrapf(ErrClosed, "worker %d sending %s", c.link.workerID, cmd.Kind)
	}
	if c.broken != nil {
		return reply, errors.WithMessagef(c.broken, "worker %d can't send %s after a failed request", c.link.workerID, cmd.Kind)
	}
	c.nextID++
	cmd.ID = c.nextID
	cmd.Origin = c.link.workerID

	var timeout <-chan time.Time
	if c.RequestTimeout > 0 {
		timer := time.NewTimer(c.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	done := c.coordinator.Done()

	// Send.
	select {
	case c.link.inbound <- cmd:
	case <-done:
		return reply, c.stopped()
	case <-ctx.Done():
		return reply, errors.WithMessagef(ctx.Err(), "worker %d sending %s", c.link.workerID, &cmd)
	case <-timeout:
		c.broken = errors.Wrapf(ErrRequestTimeout, "sending %s", &cmd)
		return reply, c.broken
	}
	c.coordinator.signalWake()

	// Receive.
	select {
	case reply = <-c.link.outbound:
	case <-done:
		// The coordinator may have replied just before stopping (e.g. to the last CLOSE).
		select {
		case reply = <-c.link.outbound:
		default:
			return reply, c.stopped()
		}
	case <-ctx.Done():
		c.broken = errors.WithMessagef(ctx.Err(), "waiting reply to %s", &cmd)
		return reply, c.broken
	case <-timeout:
		c.broken = errors.Wrapf(ErrRequestTimeout, "waiting reply to %s", &cmd)
		klog.Warningf("Worker %d: %v", c.link.workerID, c.broken)
		return reply, c.broken
	}
	c.checkReply(&cmd, &reply)
	if reply.Err != nil {
		return reply, reply.Err
	}
	return reply, nil
}

// checkReply panics if the reply doesn't match the command: the queues are out of sync and there is
// no way to recover.
func (c *Client) checkReply(cmd *Command, reply *Reply) {
	if reply.ID != cmd.ID || reply.Kind != cmd.Kind {
		exceptions.Panicf("protocol violation: worker %d sent %s but got reply to %s#%d",
			c.link.workerID, cmd, reply.Kind, reply.ID)
	}
	if reply.Ack != cmd.Kind.Acknowledged() {
		exceptions.Panicf("protocol violation: worker %d got unexpected ack=%v for %s",
			c.link.workerID, reply.Ack, cmd)
	}
}

// GetAgent returns the snapshot of the given participant. The participant must be in the pool,
// otherwise the Coordinator fails.
func (c *Client) GetAgent(ctx context.Context, id int) (*agentpool.Snapshot, error) {
	reply, err := c.call(ctx, Command{Kind: CommandGetAgent, AgentID: id})
	if err != nil {
		return nil, err
	}
	if reply.AgentID != id {
		exceptions.Panicf("protocol violation: worker %d asked for agent %d, got %d", c.link.workerID, id, reply.AgentID)
	}
	return reply.Snapshot, nil
}

// GetPool implements matchmaking.Source.
func (c *Client) GetPool(ctx context.Context) (map[int]*agentpool.Snapshot, error) {
	reply, err := c.call(ctx, Command{Kind: CommandGetPool})
	if err != nil {
		return nil, err
	}
	return reply.Pool, nil
}

// PayoffRow implements matchmaking.Source.
func (c *Client) PayoffRow(ctx context.Context, home int, aways []int) (winRates, matches []float64, err error) {
	reply, err := c.call(ctx, Command{Kind: CommandGetPayoff, Home: home, Aways: aways})
	if err != nil {
		return nil, nil, err
	}
	if len(reply.WinRates) != len(aways) || len(reply.Matches) != len(aways) {
		exceptions.Panicf("protocol violation: worker %d asked payoff for %d participants, got %d win rates and %d matches",
			c.link.workerID, len(aways), len(reply.WinRates), len(reply.Matches))
	}
	return reply.WinRates, reply.Matches, nil
}

// RecordMatch implements matchmaking.Source.
func (c *Client) RecordMatch(ctx context.Context, home, away int) error {
	_, err := c.call(ctx, Command{Kind: CommandRecordMatch, Home: home, Away: away})
	return err
}

// ReportOutcome records the outcome of a game of home against away in the payoff table.
func (c *Client) ReportOutcome(ctx context.Context, home, away int, outcome payoff.Outcome) error {
	_, err := c.call(ctx, Command{Kind: CommandUpdatePayoff, Home: home, Away: away, Outcome: outcome})
	return err
}

// PublishSnapshot stores the worker's snapshot in the pool. The snapshot must be owned by this worker.
func (c *Client) PublishSnapshot(ctx context.Context, snapshot *agentpool.Snapshot) error {
	if snapshot == nil || snapshot.Owner != c.link.workerID {
		return errors.Errorf("worker %d can only publish its own snapshot, got %v", c.link.workerID, snapshot)
	}
	_, err := c.call(ctx, Command{Kind: CommandUpdateAgent, AgentID: snapshot.Owner, Snapshot: snapshot})
	return err
}

// Checkpoint asks the Coordinator to freeze the worker's current snapshot. It's not implemented, and
// always returns an error wrapping ErrNotImplemented.
func (c *Client) Checkpoint(ctx context.Context) error {
	_, err := c.call(ctx, Command{Kind: CommandCheckpoint})
	return err
}

// Sync waits at the league barrier until all workers arrive. It returns the round completed.
func (c *Client) Sync(ctx context.Context) (int, error) {
	round, err := c.coordinator.barrier.Wait(ctx, c.BarrierTimeout)
	if err != nil {
		return 0, errors.WithMessagef(err, "worker %d sync", c.link.workerID)
	}
	return round, nil
}

// Disconnect closes the worker's connection, and blocks until the Coordinator acknowledges it.
// The worker leaves the barrier, so the remaining workers are not held back by it.
//
// If an earlier request was abandoned, or CLOSE itself fails, the worker is evicted instead: it
// leaves the barrier directly, and the Coordinator counts it as closed without a reply.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.closed {
		return nil
	}
	if c.broken != nil {
		klog.Warningf("Worker %d disconnecting after a failed request: %v", c.link.workerID, c.broken)
		c.evict()
		return nil
	}
	_, err := c.call(ctx, Command{Kind: CommandClose})
	if err != nil {
		c.evict()
	}
	c.closed = true
	return err
}

// evict marks the worker as gone without going through its queues.
func (c *Client) evict() {
	c.closed = true
	c.link.leave(c.coordinator.barrier)
	c.link.evicted.Store(true)
	c.coordinator.signalWake()
}
