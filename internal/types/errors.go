package types

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge failure. Every error that crosses a component
// boundary is re-expressed as one of these kinds; raw SQL or subprocess text
// only travels in the Detail field.
type Kind string

const (
	// Store layer.
	KindStoreUnavailable Kind = "store_unavailable"
	KindStoreLocked      Kind = "store_locked"
	KindQueryError       Kind = "query_error"

	// Scripting layer.
	KindScriptTimeout    Kind = "script_timeout"
	KindPermissionDenied Kind = "permission_denied"
	KindTargetNotFound   Kind = "target_not_found"
	KindScriptFailed     Kind = "script_failed"

	// Request validation.
	KindInvalidTarget    Kind = "invalid_target"
	KindInvalidArguments Kind = "invalid_arguments"

	// Transport layer.
	KindProtocolMalformed Kind = "protocol_malformed"
)

// Error is a classified bridge error. Message is safe to show the caller;
// Detail carries supplementary diagnostics (stderr text, driver errors).
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) matches any
// error of kind k.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds a classified error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches diagnostic detail and returns the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// KindOf extracts the Kind from an error chain, or "" when the error carries
// no classification.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind reports whether the error chain contains a bridge error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
