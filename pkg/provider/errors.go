package provider

import (
	"errors"
	"fmt"
)

// Classification splits upstream failures into the two categories the
// coordinator cares about: transient failures are retried with backoff,
// permanent ones fail the window immediately.
type Classification int

const (
	Transient Classification = iota
	Permanent
)

func (c Classification) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error wraps an upstream failure together with its classification.
type Error struct {
	Op         string // "fetch_candles", "decode", ...
	Symbol     string
	Class      Classification
	StatusCode int // HTTP status, 0 when the request never completed
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s (%s, status %d): %v", e.Op, e.Symbol, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s (%s): %v", e.Op, e.Symbol, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a Permanent classification.
// Anything else, including errors that never touched the provider,
// is treated as retryable.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Class == Permanent
}

// classifyStatus maps an HTTP status code to a failure class.
// Rate limits and server-side errors are worth retrying; client-side
// errors (bad symbol, bad request, bad credentials) are not.
func classifyStatus(status int) Classification {
	switch {
	case status == 429:
		return Transient
	case status >= 500:
		return Transient
	default:
		return Permanent
	}
}

