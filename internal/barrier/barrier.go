// Package barrier implements the round-based rendezvous of the league workers: every party
// must arrive before any of them proceeds to the next round.
//
// Unlike a plain cyclic barrier, waits can be bounded (by context or timeout), in which case the
// waiting party withdraws its arrival, and parties can Leave, which reduces the party count and
// may release the ones already waiting. A crashed or finished worker therefore can't wedge the
// rest of the league forever.
package barrier

import (
	"context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when the timeout expired before all parties arrived.
var ErrTimeout = errors.New("barrier wait timed out")

// Barrier for a dynamic number of parties. The zero value is not usable, use New.
type Barrier struct {
	mu         sync.Mutex
	parties    int
	arrived    int
	generation int

	// release is closed when the current generation completes.
	release chan struct{}
}

// New creates a Barrier for the given number of parties. More can be added with Join.
func New(parties int) *Barrier {
	return &Barrier{parties: parties, release: make(chan struct{})}
}

// Join adds one party to the barrier.
func (b *Barrier) Join() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parties++
}

// Leave removes one party from the barrier permanently. If all remaining parties are already
// waiting, they are released.
func (b *Barrier) Leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parties == 0 {
		return
	}
	b.parties--
	if b.arrived > 0 && b.arrived >= b.parties {
		b.lockedAdvance()
	}
}

// lockedAdvance completes the current generation, releasing every waiting party. b.mu must be held.
func (b *Barrier) lockedAdvance() {
	close(b.release)
	b.release = make(chan struct{})
	b.arrived = 0
	b.generation++
	klog.V(2).Infof("barrier: generation %d completed (%d parties)", b.generation, b.parties)
}

// Wait blocks until all parties have called Wait, and returns the number of the generation
// completed (1 for the first).
//
// If ctx is cancelled or the timeout (if > 0) expires first, the arrival is withdrawn and an error is
// returned (ErrTimeout, or the context error).
func (b *Barrier) Wait(ctx context.Context, timeout time.Duration) (generation int, err error) {
	b.mu.Lock()
	b.arrived++
	myGeneration := b.generation
	if b.arrived >= b.parties {
		b.lockedAdvance()
		generation = b.generation
		b.mu.Unlock()
		return generation, nil
	}
	release := b.release
	b.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-release:
		return myGeneration + 1, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer:
		err = ErrTimeout
	}

	// Withdraw, unless the generation completed in the meantime.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != myGeneration {
		return myGeneration + 1, nil
	}
	b.arrived--
	return 0, errors.WithMessagef(err, "barrier generation %d (%d of %d parties arrived)",
		myGeneration+1, b.arrived, b.parties)
}

// Parties returns the current number of parties.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// Waiting returns the number of parties currently waiting.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Generation returns the number of generations (rounds) completed so far.
func (b *Barrier) Generation() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}
