// Package registry holds the in-memory, bounded map of live peers: the
// peer-set state machine of spec §3 and §4.2. Grounded on the mutex-guarded
// map shape of the teacher's pkg/p2pnet/peermanager.go (ManagedPeer /
// PeerManager), adapted from "watched peers with reconnect backoff" to
// "admitted peers with sequence numbers and liveness timers" — the
// concurrency discipline (single RWMutex, read-only snapshot structs for
// callers) carries over unchanged.
package registry

import (
	"crypto/ed25519"
	"sync"
	"time"
)

// Location is the optional geolocation attached to a peer record.
type Location struct {
	Lat  float64
	Lon  float64
	City string
}

// Record is a single peer's state as tracked by the registry (spec §3).
type Record struct {
	ID       string
	Seq      uint64
	LastSeen time.Time
	Key      ed25519.PublicKey // lazily populated on first admission
	Loc      *Location
}

// Snapshot is a read-only copy of a Record safe to hand to callers outside
// the registry's lock (dashboard, diagnostics).
type Snapshot struct {
	ID       string
	Seq      uint64
	LastSeen time.Time
	Loc      *Location
}

// Registry is the bounded, mutex-guarded map of live peers. The zero value
// is not usable; construct with New.
//
// Capacity is enforced only on admission of a *new* id (spec invariant I2):
// once full, previously admitted ids may still be refreshed, but no new id
// is accepted until staleness frees a slot.
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]*Record
	maxPeers int
	selfID   string
}

// New creates an empty Registry bounded at maxPeers, with selfID pre-seeded
// so the local node's own record is always present (invariant I3). The
// caller is responsible for keeping the self record's Seq in step with the
// local sequence counter via Touch.
func New(maxPeers int, selfID string) *Registry {
	r := &Registry{
		peers:    make(map[string]*Record, 64),
		maxPeers: maxPeers,
		selfID:   selfID,
	}
	r.peers[selfID] = &Record{ID: selfID, LastSeen: time.Now()}
	return r
}

// CanAccept reports whether id may be admitted: true if id is already
// present, or the registry has spare capacity. This check is advisory and
// must run before any expensive signature verification, to bound CPU spent
// on flooding (spec §4.2).
func (r *Registry) CanAccept(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.peers[id]; ok {
		return true
	}
	return len(r.peers) < r.maxPeers
}

// Get returns a snapshot of the stored record for id, if any.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(rec), true
}

// StoredSeq returns the last-accepted sequence number for id and whether a
// record exists at all. Callers use this for the sequence-duplicate filter
// (spec §4.4 step 3) before any signature verification runs.
func (r *Registry) StoredSeq(id string) (seq uint64, exists bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[id]
	if !ok {
		return 0, false
	}
	return rec.Seq, true
}

// CachedKey returns the verified public key cached for id, if any.
func (r *Registry) CachedKey(id string) (ed25519.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.peers[id]
	if !ok || rec.Key == nil {
		return nil, false
	}
	return rec.Key, true
}

// AddOrUpdate admits or refreshes a peer record. The caller must already
// have verified sequence monotonicity and the signature (precondition of
// spec §4.2); this method does not re-check either. Re-applying the same
// (id, seq) is a no-op on identity but still refreshes LastSeen. Returns
// true if id was newly admitted (not previously present).
func (r *Registry) AddOrUpdate(id string, seq uint64, key ed25519.PublicKey, loc *Location) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, existed := r.peers[id]
	if !existed {
		rec = &Record{ID: id}
		r.peers[id] = rec
	}
	rec.Seq = seq
	rec.LastSeen = time.Now()
	if key != nil {
		rec.Key = key
	}
	if loc != nil {
		rec.Loc = loc
	}
	return !existed
}

// Touch refreshes LastSeen and Seq for the local node's own record,
// keeping invariant I3 (self record's Seq equals the local counter).
func (r *Registry) Touch(id string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[id]
	if !ok {
		rec = &Record{ID: id}
		r.peers[id] = rec
	}
	rec.Seq = seq
	rec.LastSeen = time.Now()
}

// Remove idempotently deletes id. Returns true if a record was actually
// removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// EvictStale removes every record (other than the local self record) whose
// LastSeen is older than timeout relative to now, returning the ids it
// removed (spec §4.2).
func (r *Registry) EvictStale(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, rec := range r.peers {
		if id == r.selfID {
			continue
		}
		if now.Sub(rec.LastSeen) > timeout {
			delete(r.peers, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Size returns the current cardinality of the registry — the value
// exposed as "Active Nodes" on the dashboard.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns a read-only copy of every stored record, safe to read
// outside the registry's lock.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, snapshotOf(rec))
	}
	return out
}

func snapshotOf(rec *Record) Snapshot {
	return Snapshot{ID: rec.ID, Seq: rec.Seq, LastSeen: rec.LastSeen, Loc: rec.Loc}
}
