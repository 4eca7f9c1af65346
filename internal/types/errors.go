package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Record processing. Each of these is attributable to a single archive hit.
	ErrCodeMalformedRecord      ErrorCode = "record_malformed"
	ErrCodeExtractionFailed     ErrorCode = "record_extraction_failed"
	ErrCodeBodyDecodeFailed     ErrorCode = "record_body_decode_failed"
	ErrCodeHeaderFormatInvalid  ErrorCode = "record_header_format_invalid"
	ErrCodeClassificationFailed ErrorCode = "record_classification_failed"

	// Validation (400)
	ErrCodeValidationArchivePath  ErrorCode = "validation_invalid_archive_path"
	ErrCodeValidationDestination  ErrorCode = "validation_invalid_destination"
	ErrCodeValidationArchive      ErrorCode = "validation_invalid_archive"
	ErrCodeValidationArchiveSize  ErrorCode = "validation_archive_too_large"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"

	// Auth (401)
	ErrCodeAuthMissingKey ErrorCode = "auth_missing_api_key"
	ErrCodeAuthInvalidKey ErrorCode = "auth_invalid_api_key"

	// Conflict (409)
	ErrCodeConflictReplayRunning ErrorCode = "conflict_replay_in_progress"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamRejected    ErrorCode = "upstream_rejected"
	ErrCodeUpstreamCircuitOpen ErrorCode = "upstream_circuit_open"
	ErrCodeRunCancelled        ErrorCode = "internal_run_cancelled"
)

// IsRecordError reports whether the code belongs to the per-record taxonomy,
// i.e. the failure is attributable to one archive hit and not to the run.
func (c ErrorCode) IsRecordError() bool {
	return strings.HasPrefix(string(c), "record_")
}

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case s == string(ErrCodeValidationArchiveSize):
		return http.StatusRequestEntityTooLarge // 413
	case strings.HasPrefix(s, "validation_"), strings.HasPrefix(s, "record_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the module.
// All domain errors should be expressed as AppError to enable consistent
// formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// --- Record error constructors ---

// MalformedRecordError reports a hit whose _source.message is missing a
// required field or holds it with the wrong JSON type.
func MalformedRecordError(field string, err error) *AppError {
	return NewAppErrorWithDetails(ErrCodeMalformedRecord,
		fmt.Sprintf("hit is missing required field %q", field), err,
		map[string]any{"field": field})
}

// ExtractionError reports a marker that was absent or ambiguous in the
// free-text message. Field is one of "url", "object" or "headers".
func ExtractionError(field, reason string) *AppError {
	return NewAppErrorWithDetails(ErrCodeExtractionFailed,
		fmt.Sprintf("cannot extract %s: %s", field, reason), nil,
		map[string]any{"field": field})
}

// BodyDecodeError reports an extracted body that is not a JSON object.
func BodyDecodeError(err error) *AppError {
	return NewAppError(ErrCodeBodyDecodeFailed, "notification body is not a valid JSON object", err)
}

// HeaderFormatError reports a header line without the ": " separator.
func HeaderFormatError(line string) *AppError {
	return NewAppErrorWithDetails(ErrCodeHeaderFormatInvalid,
		fmt.Sprintf("header line %q has no key/value separator", line), nil,
		map[string]any{"line": line})
}

// ClassificationError reports a body that carries no usable status.
func ClassificationError(reason string) *AppError {
	return NewAppError(ErrCodeClassificationFailed, reason, nil)
}

// UpstreamStatusError describes a destination response other than 200. It is
// what the ledger and the failure queue store as the attempt error.
func UpstreamStatusError(statusCode int) *AppError {
	code := ErrCodeUpstreamRejected
	switch {
	case statusCode == http.StatusTooManyRequests:
		code = ErrCodeUpstreamRateLimited
	case statusCode >= 500:
		code = ErrCodeUpstreamUnavailable
	}
	return NewAppErrorWithDetails(code,
		fmt.Sprintf("destination answered %d", statusCode), nil,
		map[string]any{"status_code": statusCode})
}
