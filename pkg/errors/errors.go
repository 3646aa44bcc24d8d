package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// ErrorType represents the failure classes the download pipeline distinguishes
type ErrorType string

const (
	ErrorTypeTransientNetwork  ErrorType = "transient_network"
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
	ErrorTypePersistence       ErrorType = "persistence"
	ErrorTypeUserInterrupt     ErrorType = "user_interrupt"
	ErrorTypeFatal             ErrorType = "fatal"
	ErrorTypeUnclassified      ErrorType = "unclassified"
)

// Error is a classified pipeline error
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	// Code carries the HTTP status for source errors, 0 otherwise
	Code int
	Err  error
	// Permanent errors stop the supervisor instead of triggering a restart
	Permanent bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if e.Code != 0 {
		return fmt.Sprintf("%s %s error (code %d): %s", e.Op, e.Type, e.Code, msg)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s %s error: %s", e.Op, e.Type, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on the error type alone, e.g.
// errors.Is(err, &Error{Type: ErrorTypePersistence})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Op == "" && t.Message == "" && t.Err == nil
}

// New creates a classified error
func New(errorType ErrorType, op, message string, err error) *Error {
	return &Error{Type: errorType, Op: op, Message: message, Err: err}
}

// TransientNetwork wraps a connection drop, throttling or service error
func TransientNetwork(op string, code int, err error) *Error {
	return &Error{Type: ErrorTypeTransientNetwork, Op: op, Code: code, Err: err}
}

// SourceUnavailable is returned once the retry budget for opening the source is spent
func SourceUnavailable(op string, attempts int, err error) *Error {
	return &Error{
		Type:    ErrorTypeSourceUnavailable,
		Op:      op,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Err:     err,
	}
}

// Persistence wraps a failure to read or write durable state
func Persistence(op, target string, err error) *Error {
	return &Error{Type: ErrorTypePersistence, Op: op, Message: target, Err: err}
}

// Fatal wraps a non-retryable source or configuration error
func Fatal(op string, code int, err error) *Error {
	return &Error{Type: ErrorTypeFatal, Op: op, Code: code, Err: err}
}

// Permanent marks err so the supervisor does not restart after it
func Permanent(op string, err error) *Error {
	return &Error{Type: ErrorTypeFatal, Op: op, Err: err, Permanent: true}
}

// UserInterrupt records an operator-requested stop
func UserInterrupt(err error) *Error {
	return &Error{Type: ErrorTypeUserInterrupt, Message: "interrupted by user", Err: err}
}

// TypeOf returns the classification of err, or ErrorTypeUnclassified
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var pErr *Error
	if stderrors.As(err, &pErr) {
		return pErr.Type
	}
	if stderrors.Is(err, context.Canceled) {
		return ErrorTypeUserInterrupt
	}
	return ErrorTypeUnclassified
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransientNetwork:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err should be retried by the source opener.
// Unclassified network-level errors count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pErr *Error
	if stderrors.As(err, &pErr) {
		return IsRetryable(pErr.Type)
	}
	return isNetworkError(err)
}

// IsPermanent reports whether err must stop the supervisor
func IsPermanent(err error) bool {
	var pErr *Error
	if stderrors.As(err, &pErr) {
		return pErr.Permanent
	}
	return false
}

// IsUserInterrupt reports whether err came from an operator-requested stop
func IsUserInterrupt(err error) bool {
	return TypeOf(err) == ErrorTypeUserInterrupt
}

// Classify converts a raw transport error into a classified one
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pErr *Error
	if stderrors.As(err, &pErr) {
		return err
	}
	if stderrors.Is(err, context.Canceled) {
		return UserInterrupt(err)
	}
	if isNetworkError(err) {
		return TransientNetwork(op, 0, err)
	}
	return &Error{Type: ErrorTypeUnclassified, Op: op, Err: err}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 500, 502, 503, 504:
		return true
	case 400, 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	return stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE)
}
