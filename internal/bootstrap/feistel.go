package bootstrap

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/hkdf"

	"github.com/lklynet/hypermind/internal/netaddr"
)

// feistelRounds is the number of Feistel rounds applied per address,
// fixed by spec §4.5.
const feistelRounds = 4

// roundKey holds the two 32-bit words extracted from one round's 8-byte
// HKDF output, used directly by the mixing function F.
type roundKey struct {
	k0, k1 uint32
}

// Feistel enumerates the 32-bit IPv4 address space in a pseudorandom,
// deterministic order derived from a per-node seed, using four rounds of
// a Feistel-network permutation (spec §4.5). It needs no state beyond a
// 32-bit counter: Next() advances the counter and returns its permuted
// image, so two nodes with different seeds scan in different orders while
// a single node always visits the full space exactly once per cycle (P7).
//
// Implementation note (resolves an ambiguity in the written round
// function, recorded in DESIGN.md): the mixing function F is evaluated on
// the half that is *also* passed through unchanged to the other half's
// output on the next round, which is the textbook arrangement that
// guarantees the round — and hence the 4-round composition — is a
// bijection regardless of F's own properties. The earlier draft text
// ("new left = right XOR mix; new right = old left", with F fed the same
// "right" value) would make bijectivity depend on F being injective on
// its own, which isn't guaranteed by rotations and XORs alone; swapping
// which half receives the plain copy removes that dependency while
// keeping the same F, key schedule, and round count.
type Feistel struct {
	keys    [feistelRounds]roundKey
	counter uint32
}

// NewFeistel derives round keys from seed via HKDF-SHA-256 with info
// "feistel-ipv4-scan" (spec §4.5), yielding 32 bytes split into four
// 8-byte round keys.
func NewFeistel(seed []byte) (*Feistel, error) {
	kdf := hkdf.New(sha256.New, seed, nil, []byte("feistel-ipv4-scan"))
	var raw [8 * feistelRounds]byte
	if _, err := io.ReadFull(kdf, raw[:]); err != nil {
		return nil, fmt.Errorf("derive feistel round keys: %w", err)
	}
	f := &Feistel{}
	for i := 0; i < feistelRounds; i++ {
		chunk := raw[i*8 : i*8+8]
		f.keys[i] = roundKey{
			k0: binary.BigEndian.Uint32(chunk[0:4]),
			k1: binary.BigEndian.Uint32(chunk[4:8]),
		}
	}
	return f, nil
}

// NewRandomSeed returns a fresh 32-byte seed from the system CSPRNG, used
// when a node has no persisted seed to reuse (Non-goal: no durable
// cross-restart scan state).
func NewRandomSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generate feistel seed: %w", err)
	}
	return seed, nil
}

// mixF implements F(x, k) = ((((x XOR k0) <<< 7) XOR k1) <<< 13), rotate-
// left on 32 bits (spec §4.5).
func mixF(x uint32, k roundKey) uint32 {
	return bits.RotateLeft32(bits.RotateLeft32(x^k.k0, 7)^k.k1, 13)
}

// Permute applies the 4-round Feistel network to a 32-bit value.
func (f *Feistel) Permute(addr uint32) uint32 {
	left := uint16(addr >> 16)
	right := uint16(addr)

	for _, k := range f.keys {
		expanded := uint32(right)<<16 | uint32(right) // duplicate right to 32 bits
		mix := mixF(expanded, k)
		newLeft := right
		newRight := left ^ uint16(mix&0xFFFF)
		left, right = newLeft, newRight
	}

	return uint32(left)<<16 | uint32(right)
}

// Next advances the internal counter by one and returns its permuted
// image as a net.IP-ready uint32. Exposed for tests; production code uses
// NextAddress to also apply the scan address filter.
func (f *Feistel) Next() uint32 {
	addr := f.Permute(f.counter)
	f.counter++
	return addr
}

// NextAddress advances the counter, skipping permuted values that land in
// a non-routable range (spec §4.5 address filter). wrapped is true only
// when this single call steps through a whole cycle (2^32 values) without
// reaching an address outside the filter; across calls the counter simply
// wraps and the order repeats. The sweep loop stops when wrapped is true.
func (f *Feistel) NextAddress() (addr uint32, wrapped bool) {
	start := f.counter
	for {
		addr = f.Permute(f.counter)
		f.counter++
		if f.counter == start {
			return addr, true
		}
		if !netaddr.ScanSkip(netaddr.Uint32ToIPv4(addr)) {
			return addr, false
		}
	}
}
