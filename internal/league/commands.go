package league

import (
	"fmt"
	"github.com/janpfeifer/leagueGo/internal/agentpool"
	"github.com/janpfeifer/leagueGo/internal/payoff"
)

// CommandKind enumerates the messages a worker can send to the Coordinator.
type CommandKind int

const (
	// CommandGetAgent asks for the snapshot of one participant.
	CommandGetAgent CommandKind = iota

	// CommandGetPool asks for the snapshots of all participants.
	CommandGetPool

	// CommandUpdateAgent publishes the worker's snapshot. Acknowledged.
	CommandUpdateAgent

	// CommandUpdatePayoff records the outcome of a game. Acknowledged.
	CommandUpdatePayoff

	// CommandGetPayoff asks for the win rates and matches counts of home against a list of participants.
	CommandGetPayoff

	// CommandRecordMatch records that a match was scheduled. Acknowledged.
	CommandRecordMatch

	// CommandCheckpoint asks to freeze the worker's snapshot into a historical player. Not implemented.
	CommandCheckpoint

	// CommandClose disconnects the worker. Acknowledged.
	CommandClose
)

var commandNames = []string{
	"GET_AGENT", "GET_POOL", "UPDATE_AGENT", "UPDATE_PAYOFF", "GET_PAYOFF", "RECORD_MATCH", "CHECKPOINT", "CLOSE"}

func (k CommandKind) String() string {
	if k < 0 || int(k) >= len(commandNames) {
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
	return commandNames[k]
}

// Acknowledged returns whether the reply to this kind of command is a plain ACK, with no data.
func (k CommandKind) Acknowledged() bool {
	switch k {
	case CommandUpdateAgent, CommandUpdatePayoff, CommandRecordMatch, CommandClose:
		return true
	}
	return false
}

// Command sent by a worker on its inbound queue to the Coordinator.
//
// Only the fields relevant to the Kind are set.
type Command struct {
	ID     uint64
	Kind   CommandKind
	Origin int

	// AgentID for CommandGetAgent and CommandUpdateAgent.
	AgentID int

	// Snapshot for CommandUpdateAgent.
	Snapshot *agentpool.Snapshot

	// Home, Away and Outcome for CommandUpdatePayoff and CommandRecordMatch; Home and Aways for CommandGetPayoff.
	Home, Away int
	Aways      []int
	Outcome    payoff.Outcome
}

func (c *Command) String() string {
	return fmt.Sprintf("%s#%d(from worker %d)", c.Kind, c.ID, c.Origin)
}

// Reply sent by the Coordinator on the worker's outbound queue. It carries the ID and Kind of the
// command it answers.
type Reply struct {
	ID   uint64
	Kind CommandKind

	// Ack is set for acknowledged commands (see CommandKind.Acknowledged), which carry no data.
	Ack bool

	AgentID  int
	Snapshot *agentpool.Snapshot
	Pool     map[int]*agentpool.Snapshot

	WinRates, Matches []float64

	// Err is set if the command failed without compromising the league (e.g. not implemented).
	Err error
}
