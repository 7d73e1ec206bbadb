package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when an open or close is already in flight. Callers
// observe "busy" synchronously; calls are rejected, not queued.
var ErrBusy = errors.New("session: open or close already in flight")

// ErrorKind buckets session-init failures for user-facing guidance.
type ErrorKind string

const (
	// KindInitFailed is the generic bucket.
	KindInitFailed ErrorKind = "init_failed"
	// KindInstallationLimit means too many devices are registered for
	// this identity.
	KindInstallationLimit ErrorKind = "installation_limit"
	// KindSignatureUnsupported means the wallet's signature scheme is
	// incompatible with the service.
	KindSignatureUnsupported ErrorKind = "signature_unsupported"
)

// Error is a classified session-init failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session init (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Guidance returns the actionable message to show instead of the raw error.
func (e *Error) Guidance() string {
	switch e.Kind {
	case KindInstallationLimit:
		return "This identity has reached its device limit. Revoke an existing device and try again."
	case KindSignatureUnsupported:
		return "This wallet's signature scheme is not supported. Connect a different wallet."
	default:
		return "Could not start the messaging session. Try again."
	}
}

// Classify buckets a client-construction failure by known message
// substrings. Unrecognized failures keep the generic kind with the original
// error intact. Never panics.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "installation") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "5/5") || strings.Contains(msg, "registered")):
		return &Error{Kind: KindInstallationLimit, Err: err}
	case strings.Contains(msg, "signature") &&
		(strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported") || strings.Contains(msg, "smart contract")):
		return &Error{Kind: KindSignatureUnsupported, Err: err}
	default:
		return &Error{Kind: KindInitFailed, Err: err}
	}
}
