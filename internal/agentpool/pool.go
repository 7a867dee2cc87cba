// Package agentpool implements the Agent Pool: the mapping from participant id to the latest
// snapshot of its policy parameters.
//
// Snapshots that reside in accelerator memory are cloned whenever they go in or out of the pool,
// so no two workers ever hold aliases to the same device buffer. Host snapshots are shared, and
// receivers must treat them as read-only.
//
// Pool is not safe for concurrent use: it is owned by the league coordinator.
package agentpool

import (
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/leagueGo/internal/generics"
	"k8s.io/klog/v2"
	"slices"
)

// Pool maps participant ids to their latest snapshot.
type Pool struct {
	snapshots map[int]*Snapshot

	// numAccelerator counts the stored snapshots that are accelerator resident.
	numAccelerator int
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{snapshots: make(map[int]*Snapshot)}
}

// Put overwrites the snapshot stored for id. Accelerator resident snapshots are cloned first,
// so the caller can keep using its own copy.
func (p *Pool) Put(id int, snapshot *Snapshot) {
	if snapshot == nil {
		exceptions.Panicf("agentpool.Put: nil snapshot for id %d", id)
	}
	if previous, found := p.snapshots[id]; found && previous.Device == Accelerator {
		p.numAccelerator--
	}
	if snapshot.Device == Accelerator {
		snapshot = snapshot.Clone()
		p.numAccelerator++
	}
	p.snapshots[id] = snapshot
	if klog.V(2).Enabled() {
		klog.Infof("agentpool: stored %s for id %d", snapshot, id)
	}
}

// Get returns the snapshot for id. Accelerator resident snapshots are cloned, host ones are
// returned as is and must not be modified.
//
// It panics if id is unknown: callers are expected to check membership with GetAll or IDs first.
func (p *Pool) Get(id int) *Snapshot {
	snapshot, found := p.snapshots[id]
	if !found {
		exceptions.Panicf("agentpool.Get: unknown participant id %d (pool has %v)", id, p.IDs())
	}
	if snapshot.Device == Accelerator {
		return snapshot.Clone()
	}
	return snapshot
}

// GetAll returns all snapshots, indexed by participant id.
//
// If any of the stored snapshots is accelerator resident, all returned snapshots are cloned.
func (p *Pool) GetAll() map[int]*Snapshot {
	all := make(map[int]*Snapshot, len(p.snapshots))
	cloneAll := p.numAccelerator > 0
	for id, snapshot := range p.snapshots {
		if cloneAll {
			snapshot = snapshot.Clone()
		}
		all[id] = snapshot
	}
	return all
}

// CanSample returns whether there is at least one snapshot in the pool.
func (p *Pool) CanSample() bool { return len(p.snapshots) > 0 }

// Len returns the number of snapshots stored.
func (p *Pool) Len() int { return len(p.snapshots) }

// Visit calls fn for every stored snapshot, in ascending id order, without cloning. fn must not
// modify or retain the snapshot.
func (p *Pool) Visit(fn func(id int, snapshot *Snapshot)) {
	for id := range generics.SortedKeys(p.snapshots) {
		fn(id, p.snapshots[id])
	}
}

// IDs returns the participant ids with a snapshot, in ascending order.
func (p *Pool) IDs() []int {
	return slices.Collect(generics.SortedKeys(p.snapshots))
}
