// Package gossipmsg implements the wire message codec of spec §4.3 and
// §6: newline-delimited, size-capped JSON framing for the HEARTBEAT and
// LEAVE message variants, plus the syntactic validation predicate applied
// before any other processing.
package gossipmsg

import (
	"encoding/json"
	"fmt"

	"github.com/lklynet/hypermind/internal/validate"
)

// MaxMessageSize is the maximum number of bytes permitted for a single
// newline-delimited JSON line. Larger lines are silently discarded.
const MaxMessageSize = 2048

// MaxRelayHops is the hop-count ceiling enforced by the relay decision
// (spec §4.4 step 7, §9 open question — MAX_RELAY_HOPS is authoritative
// over any earlier "< 3" branch).
const MaxRelayHops = 2

// idByteLength is the expected length, in raw bytes, of a wire id: the
// DER-SPKI encoding of an Ed25519 public key is always 44 bytes.
const idByteLength = 44

// Type tags the two wire message variants.
type Type string

const (
	TypeHeartbeat Type = "HEARTBEAT"
	TypeLeave     Type = "LEAVE"
)

// LocPayload is the optional location attached to a HEARTBEAT.
type LocPayload struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	City string  `json:"city,omitempty"`
}

// Message is the tagged union of HEARTBEAT and LEAVE (spec §3, §6). Fields
// not relevant to a given Type are left at their zero value; Type drives
// which fields the codec reads and writes.
type Message struct {
	Type  Type        `json:"type"`
	ID    string      `json:"id"`
	Seq   uint64      `json:"seq,omitempty"` // LEAVE carries no seq on the wire (spec §6)
	Hops  int         `json:"hops"`
	Nonce uint64      `json:"nonce,omitempty"`
	Sig   string      `json:"sig,omitempty"`
	Loc   *LocPayload `json:"loc,omitempty"`
}

// Validate applies the syntactic validation predicate of spec §4.3:
// type tag, id hex/length, non-negative seq/hops, and (for HEARTBEAT)
// nonce and sig shape. Any failure is a silent protocol drop at the call
// site — Validate just reports which.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeHeartbeat, TypeLeave:
	default:
		return fmt.Errorf("type %q: %w", m.Type, validate.ErrInvalidType)
	}
	if err := validate.HexString("id", m.ID, idByteLength); err != nil {
		return err
	}
	if err := validate.InRange("hops", m.Hops, 0, MaxRelayHops); err != nil {
		return err
	}
	if m.Type == TypeHeartbeat {
		if m.Sig == "" {
			return fmt.Errorf("sig: %w", validate.ErrEmpty)
		}
		if _, err := parseSigLength(m.Sig); err != nil {
			return err
		}
		if m.Loc != nil {
			if err := validate.FiniteCoordinate("loc.lat", m.Loc.Lat, 90); err != nil {
				return err
			}
			if err := validate.FiniteCoordinate("loc.lon", m.Loc.Lon, 180); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseSigLength checks that Sig decodes as hex without committing to a
// fixed Ed25519 signature length here — internal/security.ParseSignature
// does the strict length check once the message has passed this coarse
// syntactic gate.
func parseSigLength(sigHex string) (int, error) {
	return len(sigHex) / 2, validate.HexString("sig", sigHex, 0)
}

// Encode marshals m into a single newline-delimited frame.
func Encode(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	if len(body)+1 > MaxMessageSize {
		return nil, fmt.Errorf("encoded message %d bytes exceeds MaxMessageSize", len(body))
	}
	return append(body, '\n'), nil
}

// Decode parses a single line (without its trailing newline) into a
// Message and runs syntactic validation. Both JSON errors and validation
// errors are reported uniformly — callers drop the message either way.
func Decode(line []byte) (*Message, error) {
	if len(line) > MaxMessageSize {
		return nil, fmt.Errorf("line of %d bytes exceeds MaxMessageSize", len(line))
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
