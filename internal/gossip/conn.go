// Package gossip implements the inbound filter chain, heartbeat tick, and
// relay logic of spec §4.4: the core state machine every HEARTBEAT and
// LEAVE message passes through between a raw frame and the peer registry.
//
// Grounded on the teacher's pkg/p2pnet/protocol.go dispatch loop (a single
// ordered sequence of validation steps per inbound message, each able to
// short-circuit the rest) and pkg/p2pnet/peermanager.go's callback-driven
// connection lifecycle, adapted from request/response RPC handling to a
// flood-fill gossip filter chain with relay-with-exclusion semantics.
package gossip

// Conn is the minimal connection surface the engine needs: write a framed
// message and carry the wire peer id once a connection's first valid
// 0-hop HEARTBEAT binds it. Close is part of the surface, but the engine
// itself never calls it: protocol errors are silent drops, and the
// transports close a connection once its read loop returns. Both internal/swarm's
// libp2p-backed Connection and internal/bootstrap's raw-TCP connection
// satisfy this structurally, so the engine never imports either package —
// it depends only on the behavior it needs, avoiding the swarm/bootstrap
// import cycle an engine-pulls-from-transport design would create.
type Conn interface {
	Write(frame []byte) error
	Close() error
	PeerID() string
	BindPeerID(id string) bool
}
