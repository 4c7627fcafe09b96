// Package bootstrap implements the three-phase peer discovery of spec
// §4.5: replay a cached peer list, fall back to a Feistel-permuted IPv4
// sweep, and finally rely on the DHT rendezvous (internal/swarm) as an
// unconditional backstop. Grounded on the teacher's pkg/p2pnet/pathdialer.go
// multi-strategy dial attempts (try direct, then relay, then DHT) and
// internal/config's environment-driven feature flags, adapted from
// "reach one specific peer" to "discover the whole mesh from nothing."
package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lklynet/hypermind/internal/config"
	"github.com/lklynet/hypermind/internal/gossip"
	"github.com/lklynet/hypermind/internal/swarm"
)

// Coordinator drives the three bootstrap phases against a single gossip
// engine and swarm adapter.
type Coordinator struct {
	cfg     config.Config
	engine  *gossip.Engine
	adapter *swarm.Adapter
}

// New constructs a Coordinator. adapter may be nil if the caller does not
// want phase 3 (DHT) — used by tests exercising phases 1/2 in isolation.
func New(cfg config.Config, engine *gossip.Engine, adapter *swarm.Adapter) *Coordinator {
	return &Coordinator{cfg: cfg, engine: engine, adapter: adapter}
}

// Run executes every applicable phase and returns once phase 3 has been
// started (phase 3 itself continues in the background via the adapter's
// own discovery loop). It never returns an error: every phase is
// best-effort, and a node with zero peers at the end of Run is simply a
// node that has to wait for phase 3 or an inbound connection.
func (c *Coordinator) Run(ctx context.Context) {
	listenAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(c.cfg.ScanPort))
	go func() {
		if err := ListenAndServe(ctx, listenAddr, c.engine); err != nil {
			slog.Error("bootstrap: scan listener stopped", "addr", listenAddr, "error", err)
		}
	}()

	if c.cfg.BootstrapPeerIP != "" {
		c.runDebugOverride()
	} else {
		c.runPhases(ctx)
	}

	if c.adapter != nil {
		if err := c.adapter.Start(); err != nil {
			slog.Error("bootstrap: phase 3 dht start failed", "error", err)
		}
	}
}

// runDebugOverride implements the BOOTSTRAP_PEER_IP escape hatch (spec
// §6): skip phases 1 and 2 entirely and probe exactly one operator-given
// address.
func (c *Coordinator) runDebugOverride() {
	addr := net.JoinHostPort(c.cfg.BootstrapPeerIP, strconv.Itoa(c.cfg.ScanPort))
	id, ok := DialAndHandshake(config.CachedPeerDialTimeout, config.HandshakeProbeTimeout, addr, c.engine)
	if !ok {
		slog.Warn("bootstrap: BOOTSTRAP_PEER_IP override unreachable", "addr", addr)
		return
	}
	slog.Info("bootstrap: connected via BOOTSTRAP_PEER_IP override", "peer", id, "addr", addr)
}

// runPhases runs phase 1 (cache replay) then phase 2 (Feistel sweep, if
// enabled and phase 1 reached no peer), merging newly contacted peers back
// into the on-disk cache.
func (c *Coordinator) runPhases(ctx context.Context) {
	var (
		mu      sync.Mutex
		entries []CacheEntry
	)
	record := func(id, addr string) {
		mu.Lock()
		entries = MergeEntry(entries, CacheEntry{ID: id, Addr: addr, LastSeen: time.Now()})
		mu.Unlock()
	}

	if c.cfg.PeerCacheEnabled {
		cached := LoadCache(c.cfg.PeerCachePath, c.cfg.PeerCacheMaxAge, config.PeerCacheMaxEntries)
		for _, e := range cached {
			if id, ok := DialAndHandshake(config.CachedPeerDialTimeout, config.HandshakeProbeTimeout, e.Addr, c.engine); ok {
				record(id, e.Addr)
			}
		}
	}

	if c.cfg.EnableIPv4Scan && len(entries) == 0 {
		seed, err := NewRandomSeed()
		if err != nil {
			slog.Error("bootstrap: seed generation failed, skipping ipv4 sweep", "error", err)
		} else if f, err := NewFeistel(seed); err != nil {
			slog.Error("bootstrap: feistel key derivation failed, skipping ipv4 sweep", "error", err)
		} else {
			sctx, cancel := context.WithTimeout(ctx, c.cfg.BootstrapTimeout)
			defer cancel()
			if err := Scan(sctx, f, c.cfg.ScanPort, config.ScanConcurrency, config.ScanConnectionTimeout, config.HandshakeProbeTimeout, c.engine, record); err != nil {
				slog.Debug("bootstrap: ipv4 sweep ended", "error", err)
			}
		}
	}

	if c.cfg.PeerCacheEnabled && len(entries) > 0 {
		if err := SaveCache(c.cfg.PeerCachePath, entries); err != nil {
			slog.Error("bootstrap: failed to persist peer cache", "error", err)
		}
	}
}
