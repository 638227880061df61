// Package retry classifies delivery failures and re-runs operations with exponential backoff.
package retry

import "fmt"

// Code identifies a class of delivery failure.
type Code string

// Failure codes.
const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeMessageTooLong        Code = "MESSAGE_TOO_LONG"
	CodeRecipientUnsubscribed Code = "RECIPIENT_UNSUBSCRIBED"
	CodeNetwork               Code = "NETWORK_ERROR"
	CodeTimeout               Code = "TIMEOUT_ERROR"
	CodeRateLimit             Code = "RATE_LIMIT_ERROR"
	CodeServer                Code = "SERVER_ERROR"
	CodeUnknown               Code = "UNKNOWN_ERROR"
	CodeBadRequest            Code = "BAD_REQUEST"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUnprocessable         Code = "UNPROCESSABLE_ENTITY"
	CodeClient                Code = "CLIENT_ERROR"
	CodeSMTPRejected          Code = "SMTP_REJECTED"
)

// Failure is a classified delivery failure.
type Failure struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

// NewFailure creates a failure without an underlying cause.
func NewFailure(code Code, message string, retryable bool) *Failure {
	return &Failure{Code: code, Message: message, Retryable: retryable}
}

// ValidationFailure creates a non-retryable VALIDATION_ERROR.
func ValidationFailure(format string, args ...any) *Failure {
	return NewFailure(CodeValidation, fmt.Sprintf(format, args...), false)
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsRetryable returns whether the failure may succeed on a later attempt.
func (f *Failure) IsRetryable() bool {
	return f.Retryable
}

// RetryableError wraps an error and marks it as retryable or not.
// The classifier still derives a code from the wrapped error but keeps this verdict.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
