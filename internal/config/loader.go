package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lklynet/hypermind/internal/validate"
)

// fileOverride mirrors the subset of Config an operator may want to set
// from a checked-in file instead of the process environment — primarily
// listen addresses and bootstrap peers, which are unwieldy as a single
// environment variable. Unlike the teacher's YAML configs, this file is
// entirely optional: Load works from environment defaults alone.
type fileOverride struct {
	ListenAddresses []string `yaml:"listen_addresses,omitempty"`
	BootstrapPeers  []string `yaml:"bootstrap_peers,omitempty"`
}

// Load builds a Config by overlaying process environment variables onto
// Defaults(), then merging in an optional YAML file at overridePath (if
// non-empty and present). Environment variables always win over the file,
// matching spec §6 naming them as *the* external interface.
func Load(overridePath string) (Config, error) {
	cfg := Defaults()

	if overridePath != "" {
		if err := applyFileOverride(&cfg, overridePath); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFileOverride(cfg *Config, path string) error {
	if err := checkConfigFilePermissions(path); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config override %s: %w", path, err)
	}
	var fo fileOverride
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return fmt.Errorf("parse config override %s: %w", path, err)
	}
	if len(fo.ListenAddresses) > 0 {
		cfg.ListenAddresses = fo.ListenAddresses
	}
	if len(fo.BootstrapPeers) > 0 {
		cfg.BootstrapPeers = fo.BootstrapPeers
	}
	return nil
}

// checkConfigFilePermissions warns callers, via a returned error, that a
// world/group-readable override file may be leaking network topology —
// the same discipline the teacher applies to its YAML configs and key
// files.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // absence is handled by the caller
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("config override %s has permissive mode %04o; expected 0600", path, mode)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w: %v", ErrInvalidEnv, err)
		}
		cfg.Port = n
	}
	if v, ok := os.LookupEnv("MAX_PEERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_PEERS: %w: %v", ErrInvalidEnv, err)
		}
		cfg.MaxPeers = n
	}
	if v, ok := os.LookupEnv("ENABLE_IPV4_SCAN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_IPV4_SCAN: %w: %v", ErrInvalidEnv, err)
		}
		cfg.EnableIPv4Scan = b
	}
	if v, ok := os.LookupEnv("SCAN_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCAN_PORT: %w: %v", ErrInvalidEnv, err)
		}
		cfg.ScanPort = n
	}
	if v, ok := os.LookupEnv("BOOTSTRAP_TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BOOTSTRAP_TIMEOUT: %w: %v", ErrInvalidEnv, err)
		}
		cfg.BootstrapTimeout = time.Duration(n) * time.Millisecond
	}
	if v, ok := os.LookupEnv("PEER_CACHE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PEER_CACHE_ENABLED: %w: %v", ErrInvalidEnv, err)
		}
		cfg.PeerCacheEnabled = b
	}
	if v, ok := os.LookupEnv("PEER_CACHE_PATH"); ok && v != "" {
		cfg.PeerCachePath = v
	}
	if v, ok := os.LookupEnv("PEER_CACHE_MAX_AGE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PEER_CACHE_MAX_AGE: %w: %v", ErrInvalidEnv, err)
		}
		cfg.PeerCacheMaxAge = time.Duration(n) * time.Second
	}
	if v, ok := os.LookupEnv("BOOTSTRAP_PEER_IP"); ok {
		cfg.BootstrapPeerIP = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("LOCATION_OPTIN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOCATION_OPTIN: %w: %v", ErrInvalidEnv, err)
		}
		cfg.LocationOptIn = b
	}
	if v, ok := os.LookupEnv("KEY_FILE"); ok && v != "" {
		cfg.KeyFile = v
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if err := validate.InRange("PORT", cfg.Port, 1, 65535); err != nil {
		return err
	}
	if err := validate.InRange("SCAN_PORT", cfg.ScanPort, 1, 65535); err != nil {
		return err
	}
	if err := validate.NonNegativeInt("MAX_PEERS", int64(cfg.MaxPeers)); err != nil {
		return err
	}
	if cfg.BootstrapPeerIP != "" {
		if net := parseIPOrErr(cfg.BootstrapPeerIP); net != nil {
			return net
		}
	}
	return nil
}
