// Package identity mints and carries the process's Ed25519 keypair, its
// wire identifier (hex DER-SPKI of the public key), and a proof-of-work
// nonce bound to that identifier. Identity is immutable for the life of
// the process — see spec §3.
//
// Grounded on the key-file load/generate shape of the teacher's
// pkg/p2pnet/identity.go and internal/identity/identity.go, adapted: the
// teacher persists a libp2p-wrapped private key to disk and derives a
// libp2p peer.ID from it; this package instead derives the wire id as the
// hex DER-SPKI encoding of the raw Ed25519 public key (spec §3), because a
// PoW puzzle is mined against that exact id, not a multihash.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"runtime"

	"github.com/lklynet/hypermind/internal/security"
)

// Identity is the immutable per-process keypair and its PoW-bound id.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	ID         string // hex DER-SPKI of PublicKey
	Nonce      uint64
}

// pemBlockType is used when persisting a mined identity to a key file so
// operators can inspect it with standard tooling.
const pemBlockType = "HYPERMIND PRIVATE KEY"

// DeriveID returns the hex DER-SPKI encoding of an Ed25519 public key —
// the wire identifier used throughout the protocol.
func DeriveID(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal SPKI: %w", err)
	}
	return hex.EncodeToString(der), nil
}

// ParseID recovers the Ed25519 public key embedded in a wire id — the
// inverse of DeriveID. Because the id IS the hex DER-SPKI encoding of the
// key, any peer can recover the full public key from the id alone; the
// registry's CachedKey exists purely to avoid re-parsing the DER on every
// message from an already-admitted peer.
func ParseID(id string) (ed25519.PublicKey, error) {
	der, err := hex.DecodeString(id)
	if err != nil {
		return nil, fmt.Errorf("decode id hex: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse SPKI: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("id does not encode an ed25519 public key")
	}
	return edPub, nil
}

// MineNonce performs the linear PoW search from spec §4.1: starting at 0,
// find the smallest nonce such that SHA-256(id || decimal(nonce)) begins
// with security.POWPrefix. The search always terminates (expected ~65k
// hashes for the default 4-hex-char prefix) and is synchronous — it is a
// one-time startup cost, never repeated during steady-state operation.
func MineNonce(id string) uint64 {
	var nonce uint64
	for !security.VerifyPoW(id, nonce) {
		nonce++
	}
	return nonce
}

// Generate produces a fresh Ed25519 keypair and mines a PoW nonce bound to
// its derived id. Failure is only possible if the system CSPRNG is broken.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	id, err := DeriveID(pub)
	if err != nil {
		return nil, err
	}
	return &Identity{
		PublicKey:  pub,
		PrivateKey: priv,
		ID:         id,
		Nonce:      MineNonce(id),
	}, nil
}

// LoadOrGenerate loads a persisted identity from path, or mints and saves a
// new one if the file does not exist. The key file is written 0600; a
// world/group-readable existing file is rejected, matching the permission
// discipline of the teacher's identity/config loaders.
func LoadOrGenerate(path string) (*Identity, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := checkKeyFilePermissions(path); err != nil {
			return nil, err
		}
		block, _ := pem.Decode(data)
		if block == nil || block.Type != pemBlockType {
			return nil, fmt.Errorf("%s: not a valid %s PEM file", path, pemBlockType)
		}
		if len(block.Bytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%s: malformed private key", path)
		}
		priv := ed25519.PrivateKey(block.Bytes)
		pub := priv.Public().(ed25519.PublicKey)
		id, err := DeriveID(pub)
		if err != nil {
			return nil, err
		}
		nonceStr := block.Headers["Nonce"]
		nonce, err := parseNonce(nonceStr)
		if err != nil || !security.VerifyPoW(id, nonce) {
			// Stored nonce is missing or stale relative to the prefix;
			// re-mine rather than fail startup.
			nonce = MineNonce(id)
		}
		return &Identity{PublicKey: pub, PrivateKey: priv, ID: id, Nonce: nonce}, nil
	}

	ident, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := save(path, ident); err != nil {
		return nil, err
	}
	return ident, nil
}

func save(path string, ident *Identity) error {
	block := &pem.Block{
		Type:    pemBlockType,
		Headers: map[string]string{"Nonce": fmt.Sprintf("%d", ident.Nonce)},
		Bytes:   ident.PrivateKey,
	}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

func checkKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat key file %s: %w", path, err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

func parseNonce(s string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
