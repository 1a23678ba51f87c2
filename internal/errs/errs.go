// Package errs classifies engine failures so callers can pick a recovery
// strategy without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindTransient covers network failures, timeouts and rate limits.
	// Callers retry with bounded backoff.
	KindTransient
	// KindValidation marks a signal rejected by the AI gate or by a
	// malformed validator response. Always fail-closed.
	KindValidation
	// KindSizingInfeasible means the computed quantity cannot satisfy the
	// exchange step/min-notional rules. The cycle is skipped.
	KindSizingInfeasible
	// KindExchangeRejected is an order refused by exchange rules. Not
	// retried blindly.
	KindExchangeRejected
	// KindFatal covers auth/credential failures. Trading halts for the
	// affected symbol.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation_rejected"
	case KindSizingInfeasible:
		return "sizing_infeasible"
	case KindExchangeRejected:
		return "exchange_rejected"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap tags err with a kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// New creates a classified error from a format string.
func New(kind Kind, format string, v ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, v...)}
}

// KindOf reports the classification of err, walking the wrap chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsFatal reports whether err must halt trading for the affected symbol.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }
