// Package errors defines the structured error taxonomy shared by the
// workflow core. Every failure surfaced to callers is a *FlowError carrying
// a kind, a message, the offending step id when known, and free-form details.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a workflow error. The kind decides retry and propagation
// behavior: adapter errors honor the step retry policy, validation and
// template errors never retry, timeouts mark the awaiting step failed, and
// storage errors are fatal to the run.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTemplate   Kind = "template"
	KindAdapter    Kind = "adapter"
	KindTimeout    Kind = "timeout"
	KindStorage    Kind = "storage"
)

// FlowError is the structured form surfaced to callers as
// {kind, message, step_id?, details?}.
type FlowError struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	StepID  string         `json:"step_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s error in step %s: %s", e.Kind, e.StepID, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *FlowError) Unwrap() error {
	return e.cause
}

// WithStep records the step instance the error occurred in. The first
// attribution wins so wrappers higher up the call stack do not clobber it.
func (e *FlowError) WithStep(stepID string) *FlowError {
	if e.StepID == "" {
		e.StepID = stepID
	}
	return e
}

// WithDetail attaches a key/value pair to the structured details.
func (e *FlowError) WithDetail(key string, value any) *FlowError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error without changing the message.
func (e *FlowError) WithCause(err error) *FlowError {
	e.cause = err
	return e
}

// JSON renders the structured {kind, message, step_id?, details?} form.
func (e *FlowError) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(fmt.Sprintf(`{"kind":%q,"message":%q}`, e.Kind, e.Message))
	}
	return b
}

func newError(kind Kind, format string, args ...any) *FlowError {
	var cause error
	for _, a := range args {
		if err, ok := a.(error); ok {
			cause = err
		}
	}
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Validation reports a static flow problem: shape, cycle, unknown tool,
// schema mismatch. Never retried.
func Validation(format string, args ...any) *FlowError {
	return newError(KindValidation, format, args...)
}

// Template reports an expression evaluation failure.
func Template(format string, args ...any) *FlowError {
	return newError(KindTemplate, format, args...)
}

// Adapter reports a tool invocation failure. Retried per the step policy.
func Adapter(format string, args ...any) *FlowError {
	return newError(KindAdapter, format, args...)
}

// Timeout reports an elapsed await_event deadline.
func Timeout(format string, args ...any) *FlowError {
	return newError(KindTimeout, format, args...)
}

// Storage reports a persistence failure.
func Storage(format string, args ...any) *FlowError {
	return newError(KindStorage, format, args...)
}

// As extracts the *FlowError from anywhere in err's chain.
func As(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the chain's kind, or "" for unclassified errors.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a step retry policy applies to err. Validation
// and template failures are deterministic; timeouts already consumed their
// deadline.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindTemplate, KindTimeout:
		return false
	}
	return true
}

// Ensure ranks err into the taxonomy: FlowErrors pass through untouched,
// anything else becomes a FlowError of the given kind.
func Ensure(kind Kind, err error) *FlowError {
	if fe, ok := As(err); ok {
		return fe
	}
	return &FlowError{Kind: kind, Message: err.Error(), cause: err}
}
