package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Envelope is the uniform wrapper around every operation result. Success
// carries the typed payload under Result; failure carries the structured
// Error and no Result. RunID ties an envelope back to log lines emitted
// while producing it.
type Envelope struct {
	OK          bool        `json:"ok"`
	Operation   string      `json:"operation"`
	RunID       string      `json:"run_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Result      interface{} `json:"result,omitempty"`
	Error       *Error      `json:"error,omitempty"`
}

// Wrap packages a successful operation result.
func Wrap(op string, result interface{}) Envelope {
	return Envelope{
		OK:          true,
		Operation:   op,
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Result:      result,
	}
}

// WrapErr packages a failed operation. Non-engine errors are folded into
// the taxonomy with an empty kind so callers always receive a structured
// payload.
func WrapErr(op string, err error) Envelope {
	env := Envelope{
		Operation:   op,
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
	}
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Op: op, Message: err.Error()}
	}
	env.Error = e
	return env
}
