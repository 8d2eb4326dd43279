// Package errs provides structured error types shared across the Petrel core.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Kind is the stable tag identifying an error category. Callers branch on the
// kind, never on message text, because each kind carries its own retry policy.
type Kind string

const (
	// KindValidation marks a local, pre-network request validation failure.
	KindValidation Kind = "validation"
	// KindPermission marks a session lacking a required API scope.
	KindPermission Kind = "permission"
	// KindConnection marks a transport or timeout failure before any
	// exchange-side effect could be confirmed.
	KindConnection Kind = "connection"
	// KindProvider marks an explicit rejection by the exchange with a
	// business reason.
	KindProvider Kind = "provider"
	// KindNotFound marks a resource the exchange does not recognise.
	KindNotFound Kind = "not_found"
	// KindInternal marks a failure inside Petrel itself.
	KindInternal Kind = "internal"
)

// E captures structured error information produced across the Petrel stack.
type E struct {
	Kind    Kind
	Field   string
	HTTP    int
	RawCode string
	RawMsg  string
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithField names the request field a validation error refers to.
func WithField(field string) Option {
	trimmed := strings.TrimSpace(field)
	return func(e *E) {
		e.Field = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code verbatim.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message verbatim.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+e.RawCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, "msg="+strconv.Quote(msg))
	} else if raw := strings.TrimSpace(e.RawMsg); raw != "" {
		parts = append(parts, "msg="+strconv.Quote(raw))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the cause for errors.Is and errors.As.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Display returns the provider-supplied message when one exists, falling back
// to the envelope message. Suitable for direct user display.
func (e *E) Display() string {
	if e == nil {
		return ""
	}
	if raw := strings.TrimSpace(e.RawMsg); raw != "" {
		return raw
	}
	return strings.TrimSpace(e.Message)
}

// KindOf extracts the kind from err, unwrapping as needed. Errors without an
// envelope report KindInternal.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
