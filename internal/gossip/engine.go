package gossip

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lklynet/hypermind/internal/diagnostics"
	"github.com/lklynet/hypermind/internal/identity"
	"github.com/lklynet/hypermind/internal/registry"
	"github.com/lklynet/hypermind/internal/security"

	"github.com/lklynet/hypermind/internal/gossipmsg"
)

// Engine runs the inbound filter chain (spec §4.4), the periodic heartbeat
// tick (§4.2), and graceful-shutdown LEAVE broadcast (§4.8) against a
// shared Registry. It owns its own connection set, populated by
// NewConnection/ConnectionClosed, rather than pulling live connections
// from the transport layer on every broadcast.
type Engine struct {
	ident *identity.Identity
	reg   *registry.Registry
	diag  *diagnostics.Diagnostics

	peerTimeout time.Duration

	seq atomic.Uint64

	mu    sync.Mutex
	conns map[Conn]struct{}

	locMu sync.RWMutex
	loc   *registry.Location

	onChange func()

	dedup   *security.FrameDedup
	idLocks *idLocks
}

// New constructs an Engine for the local identity ident, backed by reg and
// reporting into diag. peerTimeout is the staleness window EvictStale
// applies on every Tick (spec §4.2, config.PeerTimeout).
func New(ident *identity.Identity, reg *registry.Registry, diag *diagnostics.Diagnostics, peerTimeout time.Duration) *Engine {
	return &Engine{
		ident:       ident,
		reg:         reg,
		diag:        diag,
		peerTimeout: peerTimeout,
		conns:       make(map[Conn]struct{}, 64),
		dedup:       security.NewFrameDedup(frameDedupCapacity),
		idLocks:     newIDLocks(),
	}
}

// frameDedupCapacity bounds the exact-duplicate-frame fingerprint cache.
// Sized generously above any plausible per-tick fan-in so it never evicts
// a still-relevant fingerprint before the flood that produced it subsides.
const frameDedupCapacity = 4096

// SetOnChange registers a callback fired whenever the registry's visible
// set changes outside the normal per-tick snapshot cadence — a LEAVE
// admission, a stale eviction, or the close of a connection pinned to a
// peer id (spec §4.4: "trigger a dashboard refresh",
// "a dashboard update is emitted whenever eviction changed the set"). The
// dashboard uses this to force an immediate SSE push rather than waiting
// for the next throttled tick.
func (e *Engine) SetOnChange(fn func()) {
	e.onChange = fn
}

func (e *Engine) fireOnChange() {
	if e.onChange != nil {
		e.onChange()
	}
}

// SetLocation records the optional self location attached to future
// HEARTBEATs, when the operator has opted in (spec §4.1, LOCATION_OPTIN).
// Pass nil to stop attaching one.
func (e *Engine) SetLocation(loc *registry.Location) {
	e.locMu.Lock()
	e.loc = loc
	e.locMu.Unlock()
}

// SelfID returns the local node's wire id, used by the dashboard's "id"
// field (spec §4.8).
func (e *Engine) SelfID() string {
	return e.ident.ID
}

// NewConnection registers c and immediately sends it a HEARTBEAT carrying
// the local node's current state, so a freshly dialed or accepted peer
// learns about this node without waiting for the next tick (spec §4.6
// "new-connection hello").
func (e *Engine) NewConnection(c Conn) {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()

	frame, err := gossipmsg.Encode(e.selfHeartbeat())
	if err != nil {
		slog.Error("gossip: encode hello heartbeat", "error", err)
		return
	}
	if err := c.Write(frame); err != nil {
		slog.Debug("gossip: hello heartbeat write failed", "error", err)
	}
}

// ConnectionClosed deregisters c. Safe to call even if c was never
// registered or was already removed. If c was pinned to a peer id (its
// first 0-hop HEARTBEAT bound it as a direct neighbor), that peer's record
// is removed immediately rather than waiting for staleness — spec §3
// lifecycle rule (c): "socket close when the record was pinned to that
// socket via peerId."
func (e *Engine) ConnectionClosed(c Conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()

	if id := c.PeerID(); id != "" {
		if e.reg.Remove(id) {
			e.fireOnChange()
		}
	}
}

// ConnectionCount reports the number of live connections, used by the
// dashboard's "direct" field.
func (e *Engine) ConnectionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// HandleInbound decodes and runs a single inbound frame through the
// filter chain of spec §4.4. byteLen is the frame's wire size, used only
// for the BytesReceived counter (the frame itself already excludes the
// trailing newline).
func (e *Engine) HandleInbound(c Conn, frame []byte, byteLen int) {
	e.diag.AddBytesReceived(byteLen)

	if e.dedup.Seen(frame) {
		return
	}

	msg, err := gossipmsg.Decode(frame)
	if err != nil {
		// Syntactic validation failure: silent protocol drop (spec §7).
		slog.Debug("gossip: dropped malformed frame", "error", err)
		return
	}

	switch msg.Type {
	case gossipmsg.TypeHeartbeat:
		e.handleHeartbeat(c, msg)
	case gossipmsg.TypeLeave:
		e.handleLeave(c, msg)
	}
}

func (e *Engine) handleHeartbeat(c Conn, msg *gossipmsg.Message) {
	e.diag.IncHeartbeatsReceived()

	if msg.ID == e.ident.ID {
		// Our own heartbeat reflected back by a relay loop; never
		// re-admit or re-relay ourselves.
		return
	}

	if !security.VerifyPoW(msg.ID, msg.Nonce) {
		e.diag.IncInvalidPoW()
		return
	}

	admitted, bind := e.admitHeartbeat(msg)
	if !admitted {
		return
	}
	if bind {
		c.BindPeerID(msg.ID)
	}

	e.relay(c, msg)
}

// admitHeartbeat runs the stored-sequence check, capacity check, signature
// verification, and registry insert as one atomic step per id (spec §5,
// §9 design note): holding the id's stripe lock across the whole trio is
// what stops two HEARTBEATs for the same id, arriving concurrently on two
// different connections, from both passing the stored-sequence check
// before either reaches AddOrUpdate. PoW verification runs before this is
// called, since it doesn't depend on registry state and shouldn't hold the
// lock. The lock is released before relay runs, so a slow write never
// blocks other goroutines processing the same (or a stripe-sharing) id.
func (e *Engine) admitHeartbeat(msg *gossipmsg.Message) (admitted, bind bool) {
	e.idLocks.Lock(msg.ID)
	defer e.idLocks.Unlock(msg.ID)

	if storedSeq, exists := e.reg.StoredSeq(msg.ID); exists && msg.Seq <= storedSeq {
		e.diag.IncDuplicateSeq()
		return false, false
	}

	if !e.reg.CanAccept(msg.ID) {
		// Registry at capacity and this is not a refresh of a known id:
		// drop before paying for signature verification (spec §4.2).
		return false, false
	}

	pub, ok := e.reg.CachedKey(msg.ID)
	if !ok {
		parsed, err := identity.ParseID(msg.ID)
		if err != nil {
			slog.Debug("gossip: id does not decode to a public key", "id", msg.ID, "error", err)
			return false, false
		}
		pub = parsed
	}

	sig, err := security.ParseSignature(msg.Sig)
	if err != nil {
		e.diag.IncInvalidSig()
		return false, false
	}
	if !security.VerifySignature(pub, msg.Seq, sig) {
		e.diag.IncInvalidSig()
		return false, false
	}

	var loc *registry.Location
	if msg.Loc != nil {
		loc = &registry.Location{Lat: msg.Loc.Lat, Lon: msg.Loc.Lon, City: msg.Loc.City}
	}
	if wasNew := e.reg.AddOrUpdate(msg.ID, msg.Seq, pub, loc); wasNew {
		e.diag.IncNewPeersAdded()
	}

	return true, msg.Hops == 0
}

func (e *Engine) handleLeave(c Conn, msg *gossipmsg.Message) {
	if msg.ID == e.ident.ID {
		return
	}
	if !e.reg.Remove(msg.ID) {
		// Already removed by an earlier copy of this flood: treat as a
		// processed duplicate and stop propagating it further.
		return
	}
	e.diag.IncLeaveMessages()
	e.fireOnChange()
	e.relay(c, msg)
}

// relay forwards msg, with Hops incremented, to every connection other
// than its source, provided the new hop count stays within
// gossipmsg.MaxRelayHops (spec §4.4 step 7, §9).
func (e *Engine) relay(from Conn, msg *gossipmsg.Message) {
	if msg.Hops >= gossipmsg.MaxRelayHops {
		return
	}
	relayed := *msg
	relayed.Hops = msg.Hops + 1

	frame, err := gossipmsg.Encode(&relayed)
	if err != nil {
		slog.Error("gossip: encode relay frame", "error", err)
		return
	}
	e.broadcast(frame, from)
	if relayed.Type == gossipmsg.TypeHeartbeat {
		e.diag.IncHeartbeatsRelayed()
	}
}

// broadcast writes frame to every live connection except except (nil to
// address all connections, used by Tick and Shutdown).
func (e *Engine) broadcast(frame []byte, except Conn) {
	e.mu.Lock()
	targets := make([]Conn, 0, len(e.conns))
	for c := range e.conns {
		if c == except {
			continue
		}
		targets = append(targets, c)
	}
	e.mu.Unlock()

	for _, c := range targets {
		if err := c.Write(frame); err != nil {
			// Per-connection write failures are tolerated; the read loop
			// owning this connection will observe the same failure and
			// close it (spec §5).
			slog.Debug("gossip: relay write failed", "error", err)
			continue
		}
		e.diag.AddBytesRelayed(len(frame))
	}
}

// Tick advances the local sequence number, broadcasts a fresh HEARTBEAT to
// every connection, and evicts stale peers. Callers drive this on
// config.HeartbeatInterval.
func (e *Engine) Tick() {
	msg := e.selfHeartbeat()
	frame, err := gossipmsg.Encode(msg)
	if err != nil {
		slog.Error("gossip: encode tick heartbeat", "error", err)
		return
	}
	e.broadcast(frame, nil)

	evicted := e.reg.EvictStale(time.Now(), e.peerTimeout)
	for _, id := range evicted {
		slog.Debug("gossip: evicted stale peer", "id", id)
	}
	if len(evicted) > 0 {
		e.fireOnChange()
	}
}

// Shutdown broadcasts a LEAVE for the local identity and returns
// immediately; callers wait config.ShutdownGrace afterward before tearing
// down the transport, giving the message a chance to actually leave the
// socket buffers (spec §4.8).
func (e *Engine) Shutdown() {
	msg := &gossipmsg.Message{
		Type: gossipmsg.TypeLeave,
		ID:   e.ident.ID,
		Hops: 0,
	}
	frame, err := gossipmsg.Encode(msg)
	if err != nil {
		slog.Error("gossip: encode shutdown leave", "error", err)
		return
	}
	e.broadcast(frame, nil)
}

func (e *Engine) selfHeartbeat() *gossipmsg.Message {
	seq := e.seq.Add(1)
	e.reg.Touch(e.ident.ID, seq)

	sig := security.Sign(e.ident.PrivateKey, seq)
	msg := &gossipmsg.Message{
		Type:  gossipmsg.TypeHeartbeat,
		ID:    e.ident.ID,
		Seq:   seq,
		Hops:  0,
		Nonce: e.ident.Nonce,
		Sig:   hex.EncodeToString(sig),
	}

	e.locMu.RLock()
	if e.loc != nil {
		msg.Loc = &gossipmsg.LocPayload{Lat: e.loc.Lat, Lon: e.loc.Lon, City: e.loc.City}
	}
	e.locMu.RUnlock()

	return msg
}
