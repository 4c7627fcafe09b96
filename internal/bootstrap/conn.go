package bootstrap

import (
	"net"
	"sync"
)

// conn wraps a bare TCP connection established during cache replay or the
// Feistel sweep, before any libp2p/DHT machinery is involved. It carries
// the same minimal surface as internal/swarm.Connection (gossip.Conn) so
// both transports can feed the same gossip.Engine. Grounded on
// internal/swarm.Connection; duplicated rather than shared because the
// underlying stream types (net.Conn vs. libp2p network.Stream) differ and
// neither package should import the other just to share a wrapper.
type conn struct {
	nc net.Conn

	mu     sync.Mutex
	peerID string
	closed bool
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc}
}

func (c *conn) BindPeerID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peerID == "" {
		c.peerID = id
		return true
	}
	return c.peerID == id
}

func (c *conn) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *conn) Write(frame []byte) error {
	_, err := c.nc.Write(frame)
	return err
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.nc.Close()
}
