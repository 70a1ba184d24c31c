// Package ctprotoerr classifies the error kinds the protocol engine needs to
// tell apart: spec.md §4.4 requires that fatal-vs-recoverable be decided by
// an error's kind, never by inspecting its message text.
package ctprotoerr

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// protocolMarker is implemented by every classified error type so callers can
// test membership with errors.As without a type switch per call site.
type protocolMarker interface {
	error
	isProtocol()
}

// ParseError is critical: the inbound frame was not parseable at all (not a
// string, not JSON, or a binary frame shorter than the fixed header). Always
// closes the connection with code 1003.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse error: %s", e.Op)
	}
	return fmt.Sprintf("parse error: %s: %v", e.Op, e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }
func (e *ParseError) isProtocol()   {}

// FormatError is non-critical: the envelope parsed as JSON but its shape is
// wrong (missing field, wrong type, bad id). Never closes the connection; the
// caller responds with a single `error` NewMessage instead.
type FormatError struct {
	Op  string
	Msg string // one of the exact bit-for-bit validator messages
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: %s: %s", e.Op, e.Msg)
}
func (e *FormatError) isProtocol() {}

// PolicyError covers first-message-not-authorize, auth-timer fired, and
// onAuth throwing. Always closes the connection; Code carries the close code
// to use (1008 or 1013).
type PolicyError struct {
	Op     string
	Code   int
	Reason string
	Err    error
}

func (e *PolicyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("policy error: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("policy error: %s: %s: %v", e.Op, e.Reason, e.Err)
}
func (e *PolicyError) Unwrap() error { return e.Err }
func (e *PolicyError) isProtocol()   {}

// TimeoutError covers the auth-wait, upload-idle, and chunk-ack timers.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }
func (e *TimeoutError) isProtocol()   {}

// ProtocolError is a catch-all for protocol-layer invariant violations that
// don't fit the other kinds (e.g. chunk reassembly bookkeeping).
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) isProtocol()   {}

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context
// deadline, or any error exposing Timeout() bool that returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsParse reports whether err is a ParseError (critical: close 1003).
func IsParse(err error) bool {
	var pe *ParseError
	return stdErrors.As(err, &pe)
}

// IsFormat reports whether err is a FormatError (non-critical: send `error`).
func IsFormat(err error) bool {
	var fe *FormatError
	return stdErrors.As(err, &fe)
}

// IsProtocolError reports whether err's chain contains any classified error.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// Constructors.
func NewParseError(op string, cause error) error { return &ParseError{Op: op, Err: cause} }
func NewFormatError(op, msg string) error         { return &FormatError{Op: op, Msg: msg} }
func NewPolicyError(op string, code int, reason string, cause error) error {
	return &PolicyError{Op: op, Code: code, Reason: reason, Err: cause}
}
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}
func NewProtocolError(op string, cause error) error { return &ProtocolError{Op: op, Err: cause} }
