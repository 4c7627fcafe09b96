package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// cacheVersion guards the on-disk format; a mismatched or missing version
// is treated as "no usable cache" rather than an error, since the cache is
// purely an optimization (spec §4.5 phase 1).
const cacheVersion = 1

// CacheEntry is one previously-contacted peer endpoint, persisted so a
// restarting node can reconnect without repeating the IPv4 sweep.
type CacheEntry struct {
	ID       string    `json:"id"`
	Addr     string    `json:"addr"` // host:port
	LastSeen time.Time `json:"last_seen"`
}

type cacheFile struct {
	Version int          `json:"version"`
	Peers   []CacheEntry `json:"peers"`
}

// LoadCache reads and prunes the peer cache at path, dropping entries
// older than maxAge and keeping at most maxEntries of the freshest
// remaining ones. A missing file or unreadable/stale-version file
// yields an empty cache, not an error — phase 1 simply has nothing to
// replay.
func LoadCache(path string, maxAge time.Duration, maxEntries int) []CacheEntry {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil || cf.Version != cacheVersion {
		return nil
	}

	cutoff := time.Now().Add(-maxAge)
	fresh := make([]CacheEntry, 0, len(cf.Peers))
	for _, e := range cf.Peers {
		if e.LastSeen.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].LastSeen.After(fresh[j].LastSeen) })
	if len(fresh) > maxEntries {
		fresh = fresh[:maxEntries]
	}
	return fresh
}

// SaveCache writes entries to path as 0600 JSON, overwriting any existing
// file. Errors are returned so the caller can log them, but are never
// fatal to the node — the cache is a convenience, never a dependency.
func SaveCache(path string, entries []CacheEntry) error {
	cf := cacheFile{Version: cacheVersion, Peers: entries}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal peer cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write peer cache %s: %w", path, err)
	}
	return nil
}

// MergeEntry upserts an entry into entries by ID, used to update the
// in-memory cache as connections succeed over the node's lifetime before
// it is flushed back to disk.
func MergeEntry(entries []CacheEntry, e CacheEntry) []CacheEntry {
	for i, existing := range entries {
		if existing.ID == e.ID {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}
