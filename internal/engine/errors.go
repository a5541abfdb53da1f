// Package engine holds the shared contract types of the analysis engine:
// the structured error taxonomy and the result envelope that every
// operation surface (CLI, HTTP) wraps its payloads in.
package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a hard engine failure. Local recoveries (undefined
// operands, boundary-clipped signals, skipped grid cells) are never
// surfaced as errors and therefore have no Kind.
type Kind string

const (
	KindInvalidOperator     Kind = "invalid_operator"
	KindInsufficientSources Kind = "insufficient_sources"
	KindInsufficientHistory Kind = "insufficient_history"
	KindUnknownStrategy     Kind = "unknown_strategy"
	KindMissingField        Kind = "missing_field"
	KindAlignmentFailure    Kind = "alignment_failure"
)

// Error is the structured failure object returned by engine operations.
// Op names the operation that failed ("compare", "combine", ...).
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"operation"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// Errorf builds a structured engine error.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf extracts the Kind from err, unwrapping as needed. Errors that
// did not originate in the engine report an empty Kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
