// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Error categories. Every concrete sentinel below wraps exactly one of them,
// so callers can branch on the category with errors.Is.
var (
	ErrConfiguration = errors.New("anansi: configuration error")
	ErrResource      = errors.New("anansi: resource error")
	ErrRuntime       = errors.New("anansi: runtime error")
	ErrState         = errors.New("anansi: state error")
)

var (
	// Configuration errors
	ErrInvalidFilter    = fmt.Errorf("%w: invalid filter expression", ErrConfiguration)
	ErrInvalidPortRange = fmt.Errorf("%w: invalid port range", ErrConfiguration)
	ErrUnknownProtocol  = fmt.Errorf("%w: unknown protocol", ErrConfiguration)
	ErrPluginNotFound   = fmt.Errorf("%w: plugin not found", ErrConfiguration)

	// Resource errors
	ErrInterfaceNotFound = fmt.Errorf("%w: interface not found", ErrResource)
	ErrHandleOpen        = fmt.Errorf("%w: capture handle failed to open", ErrResource)
	ErrTraceOpen         = fmt.Errorf("%w: trace file failed to open", ErrResource)
	ErrGeoIPOpen         = fmt.Errorf("%w: geoip database failed to open", ErrResource)

	// Runtime errors
	ErrReadFailed     = fmt.Errorf("%w: capture read failed", ErrRuntime)
	ErrMalformedTrace = fmt.Errorf("%w: malformed trace", ErrRuntime)

	// Lifecycle errors
	ErrAlreadyRunning = fmt.Errorf("%w: capture already running", ErrState)
	ErrNotRunning     = fmt.Errorf("%w: capture not running", ErrState)
)
