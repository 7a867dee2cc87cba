package agentpool

import (
	"fmt"
	"slices"
)

// Device where a snapshot's parameters reside.
type Device int

const (
	// Host memory: the snapshot can be shared read-only among workers.
	Host Device = iota

	// Accelerator memory: the buffer may be written by its owner at any time, so the snapshot
	// must be cloned before it crosses a worker boundary.
	Accelerator
)

func (d Device) String() string {
	switch d {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	}
	return fmt.Sprintf("Device(%d)", int(d))
}

// Snapshot of a participant's policy parameters.
//
// The parameters are opaque to the league: only the training loop interprets them.
type Snapshot struct {
	// Owner is the participant id (payoff index and pool key).
	Owner int

	// TeamID of the team the owner plays with.
	TeamID int

	// Steps trained so far by the owner: it increases monotonically.
	Steps int64

	// Device where Params reside.
	Device Device

	// Params is the serialized parameter blob.
	Params []float32
}

// Clone returns a deep copy of the snapshot: the receiver can be mutated without affecting the copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Params = slices.Clone(s.Params)
	return &clone
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("Snapshot(owner=%d, team=%d, steps=%d, %s, %d params)",
		s.Owner, s.TeamID, s.Steps, s.Device, len(s.Params))
}
