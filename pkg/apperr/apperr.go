package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes used across the licensing and download pipelines.
const (
	CodeMissingParameter     = "missing_parameter"
	CodeInvalidAppType       = "invalid_app_type"
	CodeMalformedToken       = "malformed_token"
	CodeInvalidToken         = "invalid_token"
	CodeExpiredToken         = "expired_token"
	CodeSignatureMismatch    = "signature_mismatch"
	CodePaymentRequired      = "payment_required"
	CodeCapabilityDenied     = "capability_denied"
	CodeAccountDisabled      = "account_disabled"
	CodeAccountNotFound      = "account_not_found"
	CodeRoleNotFound         = "role_not_found"
	CodeSubscriptionNotFound = "subscription_not_found"
	CodeOrgNotFound          = "org_not_found"
	CodeMemberNotFound       = "member_not_found"
	CodeMemberExists         = "member_exists"
	CodeLastOwner            = "last_owner"
	CodeInvitationNotFound   = "invitation_not_found"
	CodeInvitationExpired    = "invitation_expired"
	CodeInvitationAccepted   = "invitation_accepted"
	CodeAppNotFound          = "app_not_found"
	CodeFileNotFound         = "file_not_found"
	CodeFileReadingError     = "file_reading_error"
	CodeFileTooLarge         = "file_too_large"
	CodeLicenseNotFound      = "license_not_found"
	CodeLicenseRevoked       = "license_revoked"
	CodeLicenseSuspended     = "license_suspended"
	CodeLicenseExpired       = "license_expired"
	CodeLicenseInactive      = "license_inactive"
	CodeActivationLimit      = "activation_limit"
	CodeDuplicateSlug        = "duplicate_slug"
	CodeDuplicateFederation  = "duplicate_federation"
	CodeCorruptFile          = "corrupt_file"
	CodeMissingFields        = "missing_fields"
	CodeUnknownCapability    = "unknown_capability"
	CodeProxyFailure         = "proxy_failure"
	CodeRateLimited          = "rate_limited"
	CodeDatabaseFailure      = "database_failure"
	CodeUnexpectedFailure    = "unexpected_failure"
)

// Error is a structured, HTTP-status-aware error. Every domain operation
// that can fail in a way the transport layer must relay raises one of
// these. An Error can accumulate additional (code, message, data) entries
// without losing the primary entry that determines the response status.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Data    map[string]any `json:"data,omitempty"`

	extra []Entry
	cause error
}

// Entry is a secondary (code, message, data) tuple attached to an Error.
type Entry struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// New creates a structured error with an explicit status.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code so callers can use errors.Is with sentinel
// instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithData attaches a data bag entry and returns the error for chaining.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// WithCause records the underlying error; the cause is diagnostic data and
// is never serialized into client responses.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Add appends a secondary entry. The primary code and status are unchanged.
func (e *Error) Add(code, message string, data map[string]any) *Error {
	e.extra = append(e.extra, Entry{Code: code, Message: message, Data: data})
	return e
}

// Entries returns the primary entry followed by any accumulated entries.
func (e *Error) Entries() []Entry {
	out := make([]Entry, 0, 1+len(e.extra))
	out = append(out, Entry{Code: e.Code, Message: e.Message, Data: e.Data})
	out = append(out, e.extra...)
	return out
}

// HasCode reports whether any entry carries the given code.
func (e *Error) HasCode(code string) bool {
	if e.Code == code {
		return true
	}
	for _, en := range e.extra {
		if en.Code == code {
			return true
		}
	}
	return false
}

// BadRequest creates a 400-class error.
func BadRequest(code, message string) *Error {
	return New(code, http.StatusBadRequest, message)
}

// Unauthorized creates a 401-class error.
func Unauthorized(code, message string) *Error {
	return New(code, http.StatusUnauthorized, message)
}

// PaymentRequired creates a 402-class error.
func PaymentRequired(message string) *Error {
	return New(CodePaymentRequired, http.StatusPaymentRequired, message)
}

// Forbidden creates a 403-class error.
func Forbidden(code, message string) *Error {
	return New(code, http.StatusForbidden, message)
}

// NotFound creates a 404-class error.
func NotFound(code, message string) *Error {
	return New(code, http.StatusNotFound, message)
}

// Conflict creates a 409-class error.
func Conflict(code, message string) *Error {
	return New(code, http.StatusConflict, message)
}

// Unprocessable creates a 422-class error.
func Unprocessable(code, message string) *Error {
	return New(code, http.StatusUnprocessableEntity, message)
}

// Internal creates a 500-class error.
func Internal(code, message string) *Error {
	return New(code, http.StatusInternalServerError, message)
}

// From converts any error into a structured Error. Structured errors pass
// through unchanged; everything else is re-wrapped as unexpected_failure so
// raw internal errors never reach a client response.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(CodeUnexpectedFailure, "unexpected failure").
		WithData("detail", err.Error()).
		WithCause(err)
}
