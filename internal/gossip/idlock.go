package gossip

import (
	"hash/maphash"
	"sync"
)

// idLockStripes bounds the number of mutexes held for per-id
// serialization, independent of how many distinct (possibly forged) ids a
// flood throws at the filter chain.
const idLockStripes = 256

// idLocks serializes the check-sequence / verify-signature / admit trio
// per peer id (spec §5, §9 design note): without this, two HEARTBEATs for
// the same id arriving concurrently on different connections can both pass
// the stored-sequence duplicate check before either reaches AddOrUpdate,
// so both get treated as fresh and relayed. Striped rather than keyed
// directly by id so the lock set stays a fixed size; two distinct ids
// sharing a stripe only cost extra contention, never correctness, since
// every id still serializes against every other id that happens to share
// its stripe.
type idLocks struct {
	seed maphash.Seed
	mu   [idLockStripes]sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{seed: maphash.MakeSeed()}
}

func (l *idLocks) stripe(id string) *sync.Mutex {
	h := maphash.String(l.seed, id)
	return &l.mu[h%uint64(len(l.mu))]
}

func (l *idLocks) Lock(id string) {
	l.stripe(id).Lock()
	if lockHook != nil {
		lockHook(id)
	}
}

func (l *idLocks) Unlock(id string) {
	l.stripe(id).Unlock()
}

// lockHook, when non-nil, runs immediately after a stripe lock is
// acquired. It exists only so tests can force two goroutines to interleave
// deterministically around the lock boundary instead of relying on
// scheduler luck.
var lockHook func(id string)
