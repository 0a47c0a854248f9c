// Package errors is the typed error vocabulary shared by services and the
// HTTP layer. Every code maps to one HTTP status and a public message.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeStateConflict       Code = "STATE_CONFLICT"
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeAmountMismatch      Code = "AMOUNT_MISMATCH"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeGateway             Code = "GATEWAY_ERROR"
	CodeTransactionNotFound Code = "TRANSACTION_NOT_FOUND"
	CodeRateLimit           Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeDependency          Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code is presented to API clients.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = 1 << iota
	withDetails // details are safe to expose
)

func meta(status int, msg string, flags int) Metadata {
	return Metadata{
		HTTPStatus:     status,
		PublicMessage:  msg,
		Retryable:      flags&retryable != 0,
		DetailsAllowed: flags&withDetails != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:          meta(http.StatusBadRequest, "validation failed", withDetails),
	CodeNotFound:            meta(http.StatusNotFound, "resource not found", 0),
	CodeConflict:            meta(http.StatusConflict, "conflict detected", 0),
	CodeStateConflict:       meta(http.StatusUnprocessableEntity, "state transition disallowed", withDetails),
	CodeInsufficientStock:   meta(http.StatusBadRequest, "insufficient stock", withDetails),
	CodeAmountMismatch:      meta(http.StatusUnprocessableEntity, "payment amount does not match the expected amount", withDetails),
	CodeInvalidTransition:   meta(http.StatusConflict, "status transition not allowed", withDetails),
	CodeGateway:             meta(http.StatusBadGateway, "payment gateway unavailable", retryable),
	CodeTransactionNotFound: meta(http.StatusNotFound, "transaction not found", 0),
	CodeRateLimit:           meta(http.StatusTooManyRequests, "rate limit exceeded", 0),
	CodeInternal:            meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:          meta(http.StatusServiceUnavailable, "dependency unavailable", retryable|withDetails),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error with an optional cause and client-facing details.
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

// Wrap attaches code and message to err. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.details = details
	return &clone
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

func (e *Error) Retryable() bool { return MetadataFor(e.Code()).Retryable }

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in err's chain carries code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}
