package main

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/lklynet/hypermind/internal/bootstrap"
	"github.com/lklynet/hypermind/internal/config"
	"github.com/lklynet/hypermind/internal/dashboard"
	"github.com/lklynet/hypermind/internal/diagnostics"
	"github.com/lklynet/hypermind/internal/gossip"
	"github.com/lklynet/hypermind/internal/identity"
	"github.com/lklynet/hypermind/internal/registry"
	"github.com/lklynet/hypermind/internal/swarm"
)

// nodeRuntime wires together a single node's subsystems — identity, registry,
// gossip engine, swarm adapter, bootstrap coordinator, and dashboard —
// mirroring the teacher's cmd/peerup serveRuntime shape: one struct
// assembled once at startup, with Start/Shutdown as its only public
// lifecycle methods.
type nodeRuntime struct {
	cfg   config.Config
	ident *identity.Identity

	reg  *registry.Registry
	diag *diagnostics.Diagnostics

	engine  *gossip.Engine
	adapter *swarm.Adapter
	dash    *dashboard.Server
	coord   *bootstrap.Coordinator
}

func newNodeRuntime(configOverridePath string) (*nodeRuntime, error) {
	cfg, err := config.Load(configOverridePath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ident, err := identity.LoadOrGenerate(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load or generate identity: %w", err)
	}
	slog.Info("hypermind: identity ready", "id", ident.ID, "nonce", ident.Nonce)

	reg := registry.New(cfg.MaxPeers, ident.ID)
	diag := diagnostics.New(version, goruntime.Version())
	engine := gossip.New(ident, reg, diag, config.PeerTimeout)

	bootstrapPeers, err := parseMultiaddrs(cfg.BootstrapPeers)
	if err != nil {
		return nil, fmt.Errorf("parse bootstrap peer multiaddrs: %w", err)
	}
	adapter, err := swarm.New(swarm.Config{
		PrivateKey:     ident.PrivateKey,
		ListenAddrs:    cfg.ListenAddresses,
		BootstrapPeers: bootstrapPeers,
	})
	if err != nil {
		return nil, fmt.Errorf("create swarm adapter: %w", err)
	}

	adapter.OnConnection(func(c *swarm.Connection) {
		engine.NewConnection(c)
		go func() {
			err := engine.RunReadLoop(c, c.Reader)
			adapter.CloseConnection(c)
			if err != nil {
				slog.Debug("hypermind: dht connection closed", "error", err)
			}
		}()
	})
	adapter.OnConnectionClosed(func(c *swarm.Connection) {
		engine.ConnectionClosed(c)
	})

	dash := dashboard.New(reg, diag, engine, config.BroadcastThrottle)

	if cfg.LocationOptIn {
		slog.Info("hypermind: LOCATION_OPTIN set, awaiting coordinates via /api/location-optin")
	}

	return &nodeRuntime{
		cfg:     cfg,
		ident:   ident,
		reg:     reg,
		diag:    diag,
		engine:  engine,
		adapter: adapter,
		dash:    dash,
		coord:   bootstrap.New(cfg, engine, adapter),
	}, nil
}

// Start binds the dashboard's HTTP listener, then launches every
// background loop (heartbeat tick, diagnostics reset, SSE broadcaster,
// bootstrap coordinator) and returns once the listener is confirmed bound
// — a failed bind is the one synchronous failure mode (spec §7 "fatal
// errors: port bind failure").
func (rt *nodeRuntime) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", rt.cfg.Port)
	if err := rt.dash.Start(addr); err != nil {
		return fmt.Errorf("bind dashboard listener on %s: %w", addr, err)
	}

	go rt.dash.Run(ctx)
	go rt.diag.RunResetLoop(config.DiagnosticsInterval, ctx.Done())
	go rt.runHeartbeatLoop(ctx)
	go rt.coord.Run(ctx)

	return nil
}

func (rt *nodeRuntime) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.engine.Tick()
		}
	}
}

// Shutdown implements the graceful-shutdown sequence of spec §4.4: best-
// effort LEAVE broadcast, a short grace period for it to actually leave
// socket buffers, then tearing down every background loop and the
// transport.
func (rt *nodeRuntime) Shutdown(cancelBackgroundLoops context.CancelFunc) {
	rt.engine.Shutdown()
	time.Sleep(config.ShutdownGrace)

	cancelBackgroundLoops()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	rt.dash.Stop(stopCtx)

	if err := rt.adapter.Shutdown(); err != nil {
		slog.Debug("hypermind: swarm adapter shutdown error", "error", err)
	}
}

func parseMultiaddrs(addrs []string) ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		m, err := ma.NewMultiaddr(a)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		out = append(out, m)
	}
	return out, nil
}
