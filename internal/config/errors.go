package config

import "errors"

// ErrInvalidEnv is returned when an environment variable cannot be parsed
// into its expected type.
var ErrInvalidEnv = errors.New("invalid environment variable")
