// Package faults classifies pipeline errors into the retry taxonomy:
// client-input, transient infrastructure, permanent processing, and
// consistency faults. Wrappers preserve the underlying error for
// errors.Is/errors.As.
package faults

import (
	"errors"
	"fmt"
)

// Kind is an error class that determines retry and reporting behavior.
type Kind int

const (
	// KindTransient marks infrastructure errors worth retrying (timeouts,
	// rate limits, 5xx). Unclassified errors default to this kind so an
	// unknown infra blip still gets the retry budget.
	KindTransient Kind = iota
	// KindClientInput marks caller mistakes (unsupported format, file too
	// large). Never retried, surfaced immediately.
	KindClientInput
	// KindPermanent marks processing errors that will not succeed on retry
	// (corrupt file body, permanent embedding rejection).
	KindPermanent
	// KindConsistency marks partial-write states (vectors upserted but
	// metadata write failed, or vice versa) that need operator reconciliation.
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "client_input"
	case KindPermanent:
		return "permanent"
	case KindConsistency:
		return "consistency"
	default:
		return "transient"
	}
}

type classified struct {
	kind Kind
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient wraps err as a retryable infrastructure error.
func Transient(err error) error { return wrap(KindTransient, err) }

// Permanent wraps err as a non-retryable processing error.
func Permanent(err error) error { return wrap(KindPermanent, err) }

// ClientInput wraps err as a caller-input error.
func ClientInput(err error) error { return wrap(KindClientInput, err) }

// Consistency wraps err as a partial-write error needing reconciliation.
func Consistency(err error) error { return wrap(KindConsistency, err) }

// Transientf is Transient with formatting.
func Transientf(format string, args ...interface{}) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...interface{}) error {
	return Permanent(fmt.Errorf(format, args...))
}

func wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: k, err: err}
}

// KindOf returns the classification of err. The innermost explicit
// classification wins when wrappers are nested; unclassified errors are
// KindTransient.
func KindOf(err error) Kind {
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	return KindTransient
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// UserMessage returns the short user-facing failure category for err.
// Internal detail (backend identifiers, stack context) never leaks here.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindClientInput:
		return "unsupported or invalid file"
	case KindPermanent:
		return "processing error"
	case KindConsistency:
		return "processing incomplete, please retry"
	default:
		return "temporary error, please retry"
	}
}
