// Package config loads the environment-variable surface of spec §6 and
// carries the protocol's fixed tuning constants (§4.2, §4.4, §4.5, §4.7,
// §4.8) as named values rather than magic numbers scattered through the
// engine.
//
// Grounded on the teacher's internal/config package: a typed Config
// struct, a Load that overlays environment/file values onto defaults, and
// validation delegated to internal/validate with sentinel errors — the
// same shape as internal/config/loader.go's checkConfigFilePermissions +
// YAML unmarshal + duration parsing pipeline, adapted from YAML-first to
// env-var-first because spec §6 specifies environment variables as the
// external interface, not a config file.
package config

import "time"

// Protocol-level tuning constants (spec §4, §6). These are not
// environment-configurable; they define the wire contract every node must
// agree on to interoperate.
const (
	HeartbeatInterval   = 5 * time.Second
	PeerTimeout         = 15 * time.Second
	DiagnosticsInterval = 10 * time.Second
	BroadcastThrottle   = 1000 * time.Millisecond
	ShutdownGrace       = 500 * time.Millisecond

	ScanConcurrency        = 50
	ScanConnectionTimeout  = 300 * time.Millisecond
	HandshakeProbeTimeout  = 1 * time.Second
	CachedPeerDialTimeout  = 500 * time.Millisecond
	PeerCacheMaxEntries    = 100
)

// Config is the runtime configuration for a single node, assembled from
// environment variables (spec §6) with the optional local YAML override
// described in SPEC_FULL.md's ambient-stack section.
type Config struct {
	Port int

	MaxPeers int

	EnableIPv4Scan bool
	ScanPort       int
	BootstrapTimeout time.Duration

	PeerCacheEnabled bool
	PeerCachePath    string
	PeerCacheMaxAge  time.Duration

	BootstrapPeerIP string

	LocationOptIn bool

	KeyFile string

	ListenAddresses []string
	BootstrapPeers  []string
}

// Defaults returns the configuration spec §6 specifies when no environment
// variable overrides a field.
func Defaults() Config {
	return Config{
		Port:             3000,
		MaxPeers:         1_000_000,
		EnableIPv4Scan:   false,
		ScanPort:         4001,
		BootstrapTimeout: 20 * time.Second,
		PeerCacheEnabled: true,
		PeerCachePath:    "./peers.json",
		PeerCacheMaxAge:  24 * time.Hour,
		LocationOptIn:    false,
		KeyFile:          "./identity.pem",
	}
}
