package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible classification of a failure.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// CodeStorageUnavailable marks a store that could not be reached; callers retry.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	// Logic defects raised while projecting a single event. Never retryable.
	CodeUnbalancedEntry  Code = "UNBALANCED_ENTRY"
	CodeUnknownEventType Code = "UNKNOWN_EVENT_TYPE"
)

// Metadata is how a code surfaces over HTTP and to retry loops.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = true
	withDetails = true
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:         {http.StatusBadRequest, false, "validation failed", withDetails},
	CodeNotFound:           {http.StatusNotFound, false, "resource not found", false},
	CodeConflict:           {http.StatusConflict, false, "conflict detected", false},
	CodeStateConflict:      {http.StatusUnprocessableEntity, false, "state transition disallowed", withDetails},
	CodeIdempotency:        {http.StatusConflict, false, "idempotency key reused", withDetails},
	CodeRateLimit:          {http.StatusTooManyRequests, false, "rate limit exceeded", false},
	CodeInternal:           {http.StatusInternalServerError, retryable, "internal server error", false},
	CodeDependency:         {http.StatusServiceUnavailable, retryable, "dependency unavailable", withDetails},
	CodeStorageUnavailable: {http.StatusServiceUnavailable, retryable, "storage unavailable", false},
	CodeUnbalancedEntry:    {http.StatusUnprocessableEntity, false, "ledger entries do not balance", withDetails},
	CodeUnknownEventType:   {http.StatusUnprocessableEntity, false, "unknown event type", withDetails},
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error carries a Code, a message safe to show the caller, optional
// structured details and the underlying cause.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches code and message to err. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the outermost *Error, or "" for untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.code
	}
	return ""
}

// HasCode reports whether err is typed with any of codes.
func HasCode(err error, codes ...Code) bool {
	got := CodeOf(err)
	if got == "" {
		return false
	}
	for _, c := range codes {
		if c == got {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err carries a retryable code.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	return code != "" && MetadataFor(code).Retryable
}
