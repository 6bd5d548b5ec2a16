// Package errors carries the typed codes shared by the webhook engine and the
// HTTP layer. The code decides the status returned to the gateway, and the
// status decides whether the gateway redelivers the event.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeSignature  Code = "SIGNATURE_INVALID"
	CodeTimeout    Code = "PROCESSING_TIMEOUT"
	CodeDependency Code = "DEPENDENCY_ERROR"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Policy describes how a code is answered.
type Policy struct {
	Status int
	// Redeliver is true when the sender is expected to retry the delivery.
	Redeliver     bool
	PublicMessage string
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage bool
	ExposeDetails bool
}

var policies = map[Code]Policy{
	CodeValidation: {
		Status:        http.StatusBadRequest,
		PublicMessage: "invalid event payload",
		ExposeMessage: true,
		ExposeDetails: true,
	},
	CodeSignature: {
		Status:        http.StatusBadRequest,
		PublicMessage: "signature verification failed",
	},
	CodeTimeout: {
		Status:        http.StatusInternalServerError,
		Redeliver:     true,
		PublicMessage: "event processing timed out",
	},
	CodeDependency: {
		Status:        http.StatusInternalServerError,
		Redeliver:     true,
		PublicMessage: "dependency unavailable",
		ExposeDetails: true,
	},
	CodeInternal: {
		Status:        http.StatusInternalServerError,
		Redeliver:     true,
		PublicMessage: "internal server error",
	},
}

// PolicyFor returns the policy for code; unknown codes are treated as internal.
func PolicyFor(code Code) Policy {
	if p, ok := policies[code]; ok {
		return p
	}
	return policies[CodeInternal]
}

func (c Code) Status() int { return PolicyFor(c).Status }

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

// WithDetails attaches structured context that ExposeDetails codes return.
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
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost typed error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err; untyped errors are internal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsCode reports whether err carries code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return As(err) != nil && CodeOf(err) == code
}
