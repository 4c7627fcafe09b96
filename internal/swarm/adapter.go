// Package swarm is the thin façade over the DHT substrate described as
// "out of scope" by spec §1 and specified at the interface level in §4.6:
// start(), connections(), onConnection(callback), shutdown(). This
// package is the one place libp2p's host and Kademlia DHT are visible;
// every other package only sees the Connection/Adapter interfaces.
//
// Grounded on the teacher's pkg/p2pnet/network.go (libp2p.New host
// construction, TCP transport, identity wiring) and pkg/p2pnet/pathdialer.go
// (DHT FindPeer usage), adapted from a service-exposure/relay network to a
// gossip rendezvous: instead of registering named services, the adapter
// joins one DHT rendezvous topic and treats every resulting stream as a
// gossip connection.
package swarm

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
)

// GossipProtocolID is the libp2p stream protocol used for all gossip
// connections, direct or DHT-discovered.
const GossipProtocolID = "/hypermind/gossip/1.0.0"

// RendezvousTopic is the DHT topic nodes advertise and search for
// (spec §4.5 phase 3, §6): SHA-256("hypermind-lklynet-v1"), 32 raw bytes,
// rendered here as the hex string the routing discovery helper expects.
var RendezvousTopic = func() string {
	sum := sha256.Sum256([]byte("hypermind-lklynet-v1"))
	return fmt.Sprintf("%x", sum)
}()

// Connection is a duplex byte-stream to a directly connected neighbor,
// carrying newline-delimited JSON (spec §3). PeerID is set exactly once,
// by the gossip engine, on the first 0-hop HEARTBEAT received over it.
type Connection struct {
	Stream network.Stream
	Reader *bufio.Reader

	mu     sync.Mutex
	peerID string // empty until bound
	closed bool
}

// BindPeerID sets the wire peer id for this socket if not already bound.
// Returns false if the connection already had a different id bound,
// signalling a protocol anomaly the caller may choose to log.
func (c *Connection) BindPeerID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerID == "" {
		c.peerID = id
		return true
	}
	return c.peerID == id
}

// PeerID returns the bound wire id, or "" if unbound.
func (c *Connection) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Write sends a pre-framed message. Per spec §5, write failures are
// tolerated per-connection and never propagate to other peers.
func (c *Connection) Write(frame []byte) error {
	_, err := c.Stream.Write(frame)
	return err
}

// Close closes the underlying stream, idempotently.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.Stream.Close()
}

// Adapter owns the libp2p host and Kademlia DHT, dispatching every
// resulting stream to the gossip engine via OnConnection.
type Adapter struct {
	host host.Host
	kdht *dht.IpfsDHT

	mu          sync.RWMutex
	connections map[network.Stream]*Connection
	onConn      func(*Connection)
	onClose     func(*Connection)

	ctx    context.Context
	cancel context.CancelFunc
}

// Config configures the swarm adapter.
type Config struct {
	PrivateKey      ed25519.PrivateKey
	ListenAddrs     []string // multiaddr strings; empty = any free TCP port
	BootstrapPeers  []ma.Multiaddr
}

// New constructs the libp2p host and joins the Kademlia DHT, but does not
// yet advertise or search for the rendezvous topic — call Start for that.
func New(cfg Config) (*Adapter, error) {
	priv, err := crypto.UnmarshalEd25519PrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("wrap ed25519 key for libp2p: %w", err)
	}

	listen := cfg.ListenAddrs
	if len(listen) == 0 {
		listen = []string{"/ip4/0.0.0.0/tcp/0"}
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.ListenAddrStrings(listen...),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	kdht, err := dht.New(context.Background(), h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create kademlia dht: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		host:        h,
		kdht:        kdht,
		connections: make(map[network.Stream]*Connection),
		ctx:         ctx,
		cancel:      cancel,
	}

	h.SetStreamHandler(GossipProtocolID, a.handleIncomingStream)

	for _, pi := range bootstrapAddrInfos(cfg.BootstrapPeers) {
		if err := h.Connect(ctx, pi); err != nil {
			slog.Debug("swarm: dht bootstrap peer unreachable", "peer", pi.ID, "error", err)
		}
	}

	return a, nil
}

// Host exposes the underlying libp2p host for components (diagnostics,
// dashboard) that need the local peer ID or listen addresses.
func (a *Adapter) Host() host.Host { return a.host }

// OnConnection registers the callback invoked for every new duplex
// connection, inbound or outbound (spec §4.6).
func (a *Adapter) OnConnection(cb func(*Connection)) { a.onConn = cb }

// OnConnectionClosed registers the callback invoked when a connection's
// underlying socket closes, so the registry can clear any pinned peerId
// (spec §4.6: "on close it notifies the registry").
func (a *Adapter) OnConnectionClosed(cb func(*Connection)) { a.onClose = cb }

// Start joins the rendezvous topic: advertises this node and launches a
// background search for peers, wiring up duplex connections to each
// discovered peer via Phase 3 of the bootstrap coordinator.
func (a *Adapter) Start() error {
	if err := a.kdht.Bootstrap(a.ctx); err != nil {
		return fmt.Errorf("bootstrap dht routing table: %w", err)
	}
	disc := drouting.NewRoutingDiscovery(a.kdht)
	dutil.Advertise(a.ctx, disc, RendezvousTopic)

	go a.discoveryLoop(disc)
	return nil
}

// discoveryLoop periodically searches the DHT for rendezvous peers and
// dials any not already connected. This is the backstop of spec §4.5
// phase 3: it runs unconditionally alongside phases 1-2 and guarantees
// eventual liveness.
func (a *Adapter) discoveryLoop(disc *drouting.RoutingDiscovery) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	a.discoverOnce(disc)
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.discoverOnce(disc)
		}
	}
}

func (a *Adapter) discoverOnce(disc *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
	defer cancel()
	peerCh, err := disc.FindPeers(ctx, RendezvousTopic)
	if err != nil {
		slog.Debug("swarm: dht find peers failed", "error", err)
		return
	}
	for pi := range peerCh {
		if pi.ID == a.host.ID() || len(pi.Addrs) == 0 {
			continue
		}
		if a.host.Network().Connectedness(pi.ID) == network.Connected {
			continue
		}
		go a.dialAndHandshake(pi)
	}
}

func (a *Adapter) dialAndHandshake(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(a.ctx, 15*time.Second)
	defer cancel()
	stream, err := a.host.NewStream(ctx, pi.ID, GossipProtocolID)
	if err != nil {
		slog.Debug("swarm: dht-discovered peer dial failed", "peer", pi.ID, "error", err)
		return
	}
	a.registerConnection(stream)
}

// DialAddr records addr for remoteID in the peerstore and opens a libp2p
// gossip stream to that peer. The bootstrap coordinator's cache and
// Feistel-sweep phases do not use it: they dial plain TCP host:port
// endpoints themselves (internal/bootstrap).
func (a *Adapter) DialAddr(ctx context.Context, addr ma.Multiaddr, remoteID peer.ID) (*Connection, error) {
	a.host.Peerstore().AddAddr(remoteID, addr, time.Hour)
	stream, err := a.host.NewStream(ctx, remoteID, GossipProtocolID)
	if err != nil {
		return nil, err
	}
	return a.registerConnection(stream), nil
}

func (a *Adapter) handleIncomingStream(s network.Stream) {
	a.registerConnection(s)
}

func (a *Adapter) registerConnection(s network.Stream) *Connection {
	conn := &Connection{Stream: s, Reader: bufio.NewReader(s)}
	a.mu.Lock()
	a.connections[s] = conn
	a.mu.Unlock()

	if a.onConn != nil {
		a.onConn(conn)
	}
	return conn
}

// CloseConnection closes conn's stream, removes it from the adapter's live
// set, and fires the onClose callback exactly once. cmd/hypermind's
// per-connection goroutine calls this once the engine's read loop returns
// on EOF or an I/O error (spec §4.4
// "Failure semantics": read errors close the connection; closing clears
// any pinned peerId from the registry).
func (a *Adapter) CloseConnection(conn *Connection) {
	conn.Close()
	a.mu.Lock()
	_, existed := a.connections[conn.Stream]
	delete(a.connections, conn.Stream)
	a.mu.Unlock()
	if existed && a.onClose != nil {
		a.onClose(conn)
	}
}

// Connections returns a snapshot of all currently open connections.
func (a *Adapter) Connections() []*Connection {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Connection, 0, len(a.connections))
	for _, c := range a.connections {
		out = append(out, c)
	}
	return out
}

// Shutdown cancels background loops and closes the host.
func (a *Adapter) Shutdown() error {
	a.cancel()
	if err := a.kdht.Close(); err != nil {
		slog.Debug("swarm: dht close error", "error", err)
	}
	return a.host.Close()
}

func bootstrapAddrInfos(addrs []ma.Multiaddr) []peer.AddrInfo {
	byPeer := map[peer.ID]*peer.AddrInfo{}
	for _, addr := range addrs {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		if existing, ok := byPeer[pi.ID]; ok {
			existing.Addrs = append(existing.Addrs, pi.Addrs...)
		} else {
			byPeer[pi.ID] = pi
		}
	}
	out := make([]peer.AddrInfo, 0, len(byPeer))
	for _, pi := range byPeer {
		out = append(out, *pi)
	}
	return out
}
