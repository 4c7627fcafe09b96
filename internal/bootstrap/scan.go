package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lklynet/hypermind/internal/gossip"
	"github.com/lklynet/hypermind/internal/gossipmsg"
	"github.com/lklynet/hypermind/internal/netaddr"
)

// ListenAndServe accepts plain TCP connections on addr and feeds each one
// into engine, exactly like a dial in the other direction: it sends the
// new-connection hello and then runs the read loop until the peer
// disconnects. This is the listening half of bootstrap phases 1 and 2 —
// the counterpart a remote node's DialAndHandshake connects to — kept
// separate from internal/swarm's libp2p stream handler because phases 1/2
// are plain newline-JSON-over-TCP, with no libp2p framing involved (spec
// §4.5: the wire protocol itself is transport-agnostic).
func ListenAndServe(ctx context.Context, addr string, engine *gossip.Engine) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("bootstrap: accept failed", "error", err)
			continue
		}
		go serveConn(nc, engine)
	}
}

func serveConn(nc net.Conn, engine *gossip.Engine) {
	c := newConn(nc)
	engine.NewConnection(c)
	err := engine.RunReadLoop(c, nc)
	engine.ConnectionClosed(c)
	nc.Close()
	if err != nil {
		slog.Debug("bootstrap: inbound connection closed", "error", err)
	}
}

// DialAndHandshake dials addr, waits up to probeTimeout for the remote's
// new-connection hello HEARTBEAT to arrive and pass the full inbound
// filter chain, and if so hands the connection off to engine for ongoing
// duplex gossip. It returns the bound wire peer id and true on success; on
// any failure the connection is closed and ("", false) is returned.
func DialAndHandshake(dialTimeout, probeTimeout time.Duration, addr string, engine *gossip.Engine) (string, bool) {
	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return "", false
	}
	c := newConn(nc)

	nc.SetReadDeadline(time.Now().Add(probeTimeout))
	fr := gossipmsg.NewFrameReader(nc)
	frame, _, err := fr.ReadFrame()
	if err != nil || len(frame) == 0 {
		nc.Close()
		return "", false
	}
	engine.HandleInbound(c, frame, len(frame)+1)
	if c.PeerID() == "" {
		// Frame decoded but failed the filter chain (bad PoW/signature,
		// wrong hop count, registry full) — not a usable peer.
		nc.Close()
		return "", false
	}
	nc.SetReadDeadline(time.Time{})

	engine.NewConnection(c)
	go func() {
		err := engine.RunReadLoop(c, nc)
		engine.ConnectionClosed(c)
		nc.Close()
		if err != nil {
			slog.Debug("bootstrap: dialed connection closed", "peer", c.PeerID(), "error", err)
		}
	}()

	return c.PeerID(), true
}

// Scan runs the Feistel-permuted IPv4 sweep (spec §4.5 phase 2): it walks
// the permutation produced by f, probing each non-filtered address
// concurrently up to concurrency in flight, until ctx is done, NextAddress
// reports a wrap, or the first validated peer is found — at which point
// outstanding probes are cancelled (spec §4.5 "first validated peer wins",
// §5 "must cancel outstanding probes on first success or deadline"). found
// is invoked once, for that single winning peer, so the caller can add it
// to the peer cache.
func Scan(ctx context.Context, f *Feistel, port int, concurrency int, dialTimeout, probeTimeout time.Duration, engine *gossip.Engine, found func(id, addr string)) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(sctx)
	g.SetLimit(concurrency)

	var foundOnce sync.Once
	portStr := strconv.Itoa(port)
	for {
		if gctx.Err() != nil {
			break
		}
		addrU32, wrapped := f.NextAddress()
		if wrapped {
			break
		}
		ip := netaddr.Uint32ToIPv4(addrU32)
		addr := net.JoinHostPort(ip.String(), portStr)
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if id, ok := DialAndHandshake(dialTimeout, probeTimeout, addr, engine); ok {
				foundOnce.Do(func() { found(id, addr) })
				cancel()
			}
			return nil
		})
	}

	return g.Wait()
}
