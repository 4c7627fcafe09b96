package gossip

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/lklynet/hypermind/internal/diagnostics"
	"github.com/lklynet/hypermind/internal/identity"
	"github.com/lklynet/hypermind/internal/registry"
	"github.com/lklynet/hypermind/internal/security"

	"github.com/lklynet/hypermind/internal/gossipmsg"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is a minimal Conn recording every frame written to it.
type fakeConn struct {
	id      string
	written [][]byte
	closed  bool
}

func (f *fakeConn) Write(frame []byte) error {
	f.written = append(f.written, frame)
	return nil
}
func (f *fakeConn) Close() error        { f.closed = true; return nil }
func (f *fakeConn) PeerID() string      { return f.id }
func (f *fakeConn) BindPeerID(id string) bool {
	if f.id != "" {
		return false
	}
	f.id = id
	return true
}

func newTestEngine(t *testing.T) (*Engine, *identity.Identity) {
	t.Helper()
	self, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate self identity: %v", err)
	}
	reg := registry.New(10, self.ID)
	diag := diagnostics.New("test", "go1.23")
	return New(self, reg, diag, time.Minute), self
}

func remoteHeartbeatFrame(t *testing.T, seq uint64, hops int) (*identity.Identity, []byte) {
	t.Helper()
	remote, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate remote identity: %v", err)
	}
	sig := security.Sign(remote.PrivateKey, seq)
	msg := &gossipmsg.Message{
		Type:  gossipmsg.TypeHeartbeat,
		ID:    remote.ID,
		Seq:   seq,
		Hops:  hops,
		Nonce: remote.Nonce,
		Sig:   hex.EncodeToString(sig),
	}
	frame, err := gossipmsg.Encode(msg)
	if err != nil {
		t.Fatalf("encode heartbeat: %v", err)
	}
	return remote, frame[:len(frame)-1]
}

func TestNewConnectionSendsHello(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)

	if len(c.written) != 1 {
		t.Fatalf("NewConnection wrote %d frames, want 1", len(c.written))
	}
	if e.ConnectionCount() != 1 {
		t.Errorf("ConnectionCount() = %d, want 1", e.ConnectionCount())
	}
}

func TestHandleInboundAdmitsValidHeartbeat(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)
	c.written = nil // discard the hello frame

	remote, frame := remoteHeartbeatFrame(t, 1, 0)
	e.HandleInbound(c, frame, len(frame))

	if _, ok := e.reg.Get(remote.ID); !ok {
		t.Fatal("remote peer not admitted to registry")
	}
	if c.PeerID() != remote.ID {
		t.Errorf("connection not bound to peer id after 0-hop heartbeat: got %q, want %q", c.PeerID(), remote.ID)
	}
}

func TestHandleInboundDropsBadSignature(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)

	remote, frame := remoteHeartbeatFrame(t, 1, 0)
	// Corrupt the signature by flipping its last hex character.
	corrupted := make([]byte, len(frame))
	copy(corrupted, frame)
	for i := len(corrupted) - 2; i >= 0; i-- {
		if corrupted[i] != '"' {
			corrupted[i] ^= 0x01
			break
		}
	}

	e.HandleInbound(c, corrupted, len(corrupted))
	if _, ok := e.reg.Get(remote.ID); ok {
		t.Error("peer with invalid signature was admitted")
	}
}

func TestHandleInboundDropsDuplicateSeq(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)

	remote, frame := remoteHeartbeatFrame(t, 5, 0)
	e.HandleInbound(c, frame, len(frame))

	// Same id and seq, but one hop further, so the frame bytes differ and
	// FrameDedup lets it through to the stored-sequence check.
	sig := security.Sign(remote.PrivateKey, 5)
	msg := &gossipmsg.Message{
		Type: gossipmsg.TypeHeartbeat, ID: remote.ID, Seq: 5, Hops: 1,
		Nonce: remote.Nonce, Sig: hex.EncodeToString(sig),
	}
	replay, _ := gossipmsg.Encode(msg)
	replay = replay[:len(replay)-1]

	e.HandleInbound(c, replay, len(replay))

	snap, _ := e.reg.Get(remote.ID)
	if snap.Seq != 5 {
		t.Errorf("replayed duplicate seq changed stored seq to %d, want still 5", snap.Seq)
	}
}

func TestHandleInboundDropsExactFrameDuplicateBeforeDecode(t *testing.T) {
	e, _ := newTestEngine(t)
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	e.NewConnection(c1)
	e.NewConnection(c2)
	c1.written, c2.written = nil, nil

	remote, frame := remoteHeartbeatFrame(t, 1, 0)
	e.HandleInbound(c1, frame, len(frame))
	relaysAfterFirst := len(c2.written)

	// Exact same bytes arriving again (e.g. via a second relay path).
	e.HandleInbound(c2, frame, len(frame))

	if _, ok := e.reg.Get(remote.ID); !ok {
		t.Fatal("remote peer not admitted on first sighting")
	}
	if len(c2.written) != relaysAfterFirst {
		t.Error("exact duplicate frame was relayed again instead of being dropped by FrameDedup")
	}
}

func TestRelayRespectsMaxHops(t *testing.T) {
	e, _ := newTestEngine(t)
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	e.NewConnection(c1)
	e.NewConnection(c2)
	c2.written = nil

	_, frame := remoteHeartbeatFrame(t, 1, gossipmsg.MaxRelayHops)
	e.HandleInbound(c1, frame, len(frame))

	if len(c2.written) != 0 {
		t.Errorf("relay at MaxRelayHops produced %d outbound frames, want 0", len(c2.written))
	}
}

func TestRelayExcludesSourceConnection(t *testing.T) {
	e, _ := newTestEngine(t)
	source := &fakeConn{}
	other := &fakeConn{}
	e.NewConnection(source)
	e.NewConnection(other)
	source.written, other.written = nil, nil

	_, frame := remoteHeartbeatFrame(t, 1, 0)
	e.HandleInbound(source, frame, len(frame))

	if len(source.written) != 0 {
		t.Error("relay wrote back to its own source connection")
	}
	if len(other.written) != 1 {
		t.Errorf("relay wrote %d frames to the other connection, want 1", len(other.written))
	}
}

func TestConnectionClosedRemovesPinnedPeer(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)

	remote, frame := remoteHeartbeatFrame(t, 1, 0)
	e.HandleInbound(c, frame, len(frame))

	var changed bool
	e.SetOnChange(func() { changed = true })
	e.ConnectionClosed(c)

	if _, ok := e.reg.Get(remote.ID); ok {
		t.Error("pinned peer still present after its connection closed")
	}
	if !changed {
		t.Error("onChange callback not fired when a pinned connection closed")
	}
	if e.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() after close = %d, want 0", e.ConnectionCount())
	}
}

func TestHandleLeaveRemovesPeerAndFiresOnChange(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)

	remote, frame := remoteHeartbeatFrame(t, 1, 0)
	e.HandleInbound(c, frame, len(frame))

	leave := &gossipmsg.Message{Type: gossipmsg.TypeLeave, ID: remote.ID, Hops: 0}
	leaveFrame, _ := gossipmsg.Encode(leave)
	leaveFrame = leaveFrame[:len(leaveFrame)-1]

	var changed bool
	e.SetOnChange(func() { changed = true })
	e.HandleInbound(c, leaveFrame, len(leaveFrame))

	if _, ok := e.reg.Get(remote.ID); ok {
		t.Error("peer still present after LEAVE")
	}
	if !changed {
		t.Error("onChange not fired on LEAVE admission")
	}
}

func TestTickEvictsStaleAndFiresOnChange(t *testing.T) {
	e, _ := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)

	remote, frame := remoteHeartbeatFrame(t, 1, 0)
	e.HandleInbound(c, frame, len(frame))

	// peerTimeout is time.Minute in newTestEngine; set it to zero so Tick
	// evicts immediately.
	e.peerTimeout = 0

	var changed bool
	e.SetOnChange(func() { changed = true })
	time.Sleep(time.Millisecond)
	e.Tick()

	if _, ok := e.reg.Get(remote.ID); ok {
		t.Error("stale peer not evicted by Tick")
	}
	if !changed {
		t.Error("onChange not fired after Tick evicted a stale peer")
	}
}

func TestShutdownBroadcastsLeaveForSelf(t *testing.T) {
	e, self := newTestEngine(t)
	c := &fakeConn{}
	e.NewConnection(c)
	c.written = nil

	e.Shutdown()

	if len(c.written) != 1 {
		t.Fatalf("Shutdown() wrote %d frames, want 1", len(c.written))
	}
	msg, err := gossipmsg.Decode(c.written[0][:len(c.written[0])-1])
	if err != nil {
		t.Fatalf("decode shutdown frame: %v", err)
	}
	if msg.Type != gossipmsg.TypeLeave || msg.ID != self.ID {
		t.Errorf("Shutdown frame = %+v, want LEAVE for self id %q", msg, self.ID)
	}
}

// TestHandleInboundSerializesConcurrentHeartbeatsForSameID proves the
// check-sequence/verify-signature/admit trio is atomic per id (spec §5,
// §9 design note). Two goroutines deliver distinct-byte HEARTBEATs for the
// same id and seq — one carries a location payload, the other doesn't, so
// FrameDedup's exact-frame-bytes cache can't collapse them — on two
// different connections. Without the per-id lock both could pass the
// stored-sequence check before either reached AddOrUpdate, so both would be
// relayed; with it, exactly one is.
func TestHandleInboundSerializesConcurrentHeartbeatsForSameID(t *testing.T) {
	e, _ := newTestEngine(t)
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	e.NewConnection(c1)
	e.NewConnection(c2)
	c1.written, c2.written = nil, nil

	remote, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate remote identity: %v", err)
	}
	const seq = 1
	sig := hex.EncodeToString(security.Sign(remote.PrivateKey, seq))

	plain := &gossipmsg.Message{
		Type: gossipmsg.TypeHeartbeat, ID: remote.ID, Seq: seq, Hops: 0,
		Nonce: remote.Nonce, Sig: sig,
	}
	withLoc := &gossipmsg.Message{
		Type: gossipmsg.TypeHeartbeat, ID: remote.ID, Seq: seq, Hops: 0,
		Nonce: remote.Nonce, Sig: sig,
		Loc: &gossipmsg.LocPayload{Lat: 1, Lon: 2, City: "somewhere"},
	}

	frame1, err := gossipmsg.Encode(plain)
	if err != nil {
		t.Fatalf("encode plain frame: %v", err)
	}
	frame1 = frame1[:len(frame1)-1]
	frame2, err := gossipmsg.Encode(withLoc)
	if err != nil {
		t.Fatalf("encode loc frame: %v", err)
	}
	frame2 = frame2[:len(frame2)-1]

	attempted := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	lockHook = func(id string) {
		if id != remote.ID {
			return
		}
		once.Do(func() {
			close(attempted)
			<-release
		})
	}
	defer func() { lockHook = nil }()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.HandleInbound(c1, frame1, len(frame1))
	}()
	go func() {
		defer wg.Done()
		<-attempted
		close(release)
		e.HandleInbound(c2, frame2, len(frame2))
	}()
	wg.Wait()

	relays := len(c1.written) + len(c2.written)
	if relays != 1 {
		t.Errorf("concurrent same-id same-seq heartbeats produced %d relays, want exactly 1", relays)
	}
}

// TestHandleInboundSequenceNeverRegressesProperty checks that, for any
// sequence of seqs delivered for one id, the registry's stored seq always
// tracks the running maximum — the property the per-id lock exists to
// protect (spec §5, P1 in spec §8).
func TestHandleInboundSequenceNeverRegressesProperty(t *testing.T) {
	remote, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate remote identity: %v", err)
	}

	rapid.Check(t, func(rt *rapid.T) {
		e, _ := newTestEngine(t)
		c := &fakeConn{}
		e.NewConnection(c)

		seqs := rapid.SliceOfN(rapid.Uint64Range(1, 1000), 1, 20).Draw(rt, "seqs")

		var maxSeq uint64
		for _, seq := range seqs {
			sig := hex.EncodeToString(security.Sign(remote.PrivateKey, seq))
			msg := &gossipmsg.Message{
				Type: gossipmsg.TypeHeartbeat, ID: remote.ID, Seq: seq, Hops: 0,
				Nonce: remote.Nonce, Sig: sig,
			}
			frame, err := gossipmsg.Encode(msg)
			if err != nil {
				rt.Fatalf("encode heartbeat: %v", err)
			}
			frame = frame[:len(frame)-1]
			e.HandleInbound(c, frame, len(frame))

			if seq > maxSeq {
				maxSeq = seq
			}
		}

		stored, ok := e.reg.StoredSeq(remote.ID)
		if !ok {
			rt.Fatal("remote peer never admitted despite at least one delivered seq")
		}
		if stored != maxSeq {
			rt.Fatalf("stored seq = %d, want running max %d", stored, maxSeq)
		}
	})
}
