package errors

import (
	stdErrors "errors"
	"net/http"
)

// Code classifies an error for HTTP mapping and retry decisions.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Escrow domain codes.
const (
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeInvalidState         Code = "INVALID_STATE"
	CodeMilestoneAlreadyPaid Code = "MILESTONE_ALREADY_PAID"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeNoFundAccount        Code = "NO_FUND_ACCOUNT"
	CodeInvalidAccountSpec   Code = "INVALID_ACCOUNT_SPEC"
	CodeContractNotFound     Code = "CONTRACT_NOT_FOUND"
	CodeSignatureInvalid     Code = "SIGNATURE_INVALID"
	CodeGateway              Code = "GATEWAY_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// final marks codes a caller should not retry; transient marks ones it may.
func final(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: details}
}

func transient(status int, msg string, details bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: true, PublicMessage: msg, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    final(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:  final(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:     final(http.StatusForbidden, "access denied", false),
	CodeNotFound:      final(http.StatusNotFound, "resource not found", false),
	CodeConflict:      final(http.StatusConflict, "conflict detected", false),
	CodeStateConflict: final(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:   final(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:     final(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodeInternal:      transient(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:    transient(http.StatusServiceUnavailable, "dependency unavailable", true),

	CodeInsufficientBalance:  final(http.StatusBadRequest, "insufficient escrow balance", true),
	CodeInvalidState:         final(http.StatusBadRequest, "invalid state for operation", true),
	CodeMilestoneAlreadyPaid: final(http.StatusBadRequest, "milestone already paid", true),
	CodeAlreadyExists:        final(http.StatusBadRequest, "resource already exists", true),
	CodeNoFundAccount:        final(http.StatusBadRequest, "no active fund account", true),
	CodeInvalidAccountSpec:   final(http.StatusBadRequest, "invalid fund account details", true),
	CodeContractNotFound:     final(http.StatusNotFound, "contract not found", false),
	CodeSignatureInvalid:     final(http.StatusUnauthorized, "invalid signature", false),
	CodeGateway:              transient(http.StatusBadGateway, "payment gateway error", true),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. Message is internal; clients see the code's
// public message unless the handler chooses otherwise.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
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

// As returns the outermost *Error in the chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first typed error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	return As(err).Code()
}

// Is reports whether the outermost coded error in err's chain has code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether the failure is worth trying again. Untyped
// errors count as internal and therefore retryable.
func Retryable(err error) bool {
	return MetadataFor(CodeOf(err)).Retryable
}
