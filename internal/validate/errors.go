// Package validate holds small, dependency-free validators shared across
// the codec, dashboard, and config layers.
package validate

import "errors"

var (
	// ErrEmpty is returned when a required string field is empty.
	ErrEmpty = errors.New("value cannot be empty")

	// ErrInvalidHex is returned when a field expected to be hex-encoded
	// fails to decode or has the wrong length.
	ErrInvalidHex = errors.New("invalid hex encoding")

	// ErrNegative is returned when a field expected to be a non-negative
	// integer is negative.
	ErrNegative = errors.New("value cannot be negative")

	// ErrOutOfRange is returned when a numeric field falls outside its
	// allowed bounds.
	ErrOutOfRange = errors.New("value out of range")

	// ErrInvalidType is returned when a message's type tag is not one of
	// the known protocol variants.
	ErrInvalidType = errors.New("unknown message type")
)
