package images

import (
	"errors"
	"fmt"
)

// Kind classifies service failures for callers that need to map them onto a
// transport. Only StoreUnavailable is safe to retry without new input.
type Kind int

const (
	// KindNotFound means a referenced entity does not exist.
	KindNotFound Kind = iota + 1
	// KindInvalidInput means a field was malformed or out of range.
	KindInvalidInput
	// KindRuleViolation means a named business rule rejected the request.
	KindRuleViolation
	// KindUnauthorized means the action requires an authenticated identity.
	KindUnauthorized
	// KindConflict means a store-level uniqueness race could not be
	// resolved internally.
	KindConflict
	// KindStoreUnavailable means the store failed transiently.
	KindStoreUnavailable
)

// Error is the typed failure returned by every service operation. The code
// is dot-separated: <operation>.<reason>.
type Error struct {
	kind Kind
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the dot-separated operation.reason identifier.
func (e *Error) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

func newError(kind Kind, operation, reason string, cause error) error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// KindOf extracts the Kind from an error chain, or zero when the error did
// not originate in this package.
func KindOf(err error) Kind {
	var serviceError *Error
	if errors.As(err, &serviceError) {
		return serviceError.kind
	}
	return 0
}

// CodeOf extracts the service error code from an error chain.
func CodeOf(err error) string {
	var serviceError *Error
	if errors.As(err, &serviceError) {
		return serviceError.code
	}
	return ""
}
