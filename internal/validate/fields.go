package validate

import (
	"encoding/hex"
	"fmt"
)

// HexString checks that s decodes as hex and is exactly wantBytes long.
// wantBytes <= 0 skips the length check.
func HexString(field, s string, wantBytes int) error {
	if s == "" {
		return fmt.Errorf("%s: %w", field, ErrEmpty)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", field, ErrInvalidHex, err)
	}
	if wantBytes > 0 && len(raw) != wantBytes {
		return fmt.Errorf("%s: %w: got %d bytes, want %d", field, ErrInvalidHex, len(raw), wantBytes)
	}
	return nil
}

// NonNegativeInt checks that n is >= 0.
func NonNegativeInt(field string, n int64) error {
	if n < 0 {
		return fmt.Errorf("%s: %w", field, ErrNegative)
	}
	return nil
}

// InRange checks lo <= n <= hi.
func InRange(field string, n, lo, hi int) error {
	if n < lo || n > hi {
		return fmt.Errorf("%s: %w: %d not in [%d,%d]", field, ErrOutOfRange, n, lo, hi)
	}
	return nil
}

// FiniteCoordinate checks a latitude/longitude style float is finite and
// within its physical bound.
func FiniteCoordinate(field string, v, bound float64) error {
	if v != v { // NaN
		return fmt.Errorf("%s: %w: NaN", field, ErrOutOfRange)
	}
	if v > bound || v < -bound {
		return fmt.Errorf("%s: %w: %f outside +/-%f", field, ErrOutOfRange, v, bound)
	}
	if v+1 == v { // +/-Inf
		return fmt.Errorf("%s: %w: infinite", field, ErrOutOfRange)
	}
	return nil
}
