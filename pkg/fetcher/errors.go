package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Static errors for err113 compliance.
var (
	ErrTimeout              = errors.New("request timed out")
	ErrCancelled            = errors.New("request cancelled")
	ErrTransport            = errors.New("transport failed")
	ErrExchange             = errors.New("exchange failed")
	ErrStatusValidation     = errors.New("unexpected response status")
	ErrNoResponse           = errors.New("exchange completed without a response")
	ErrNilRequest           = errors.New("request is nil")
	ErrDuplicateInterceptor = errors.New("interceptor already registered")
	ErrInterceptorName      = errors.New("interceptor name is required")
	ErrUnexpectedResult     = errors.New("unexpected result type")
	ErrNotEventStream       = errors.New("response is not an event stream")
)

// TimeoutError is returned when the transport did not settle before the deadline.
type TimeoutError struct {
	Method  string
	URL     string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s %s: request timed out after %s", e.Method, e.URL, e.Timeout)
	}

	return fmt.Sprintf("%s %s: request timed out", e.Method, e.URL)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// CancelledError is returned when the caller cancelled the operation.
type CancelledError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("operation cancelled: %v", e.Err)
	}

	return fmt.Sprintf("%s %s: request cancelled", e.Method, e.URL)
}

// Unwrap returns the underlying context error.
func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Is matches ErrCancelled.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// TransportError wraps a failure of the underlying HTTP transport.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the transport error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ErrorInfo is the backend's error body.
type ErrorInfo struct {
	ErrorCode string `json:"errorCode" yaml:"error_code"`
	ErrorMsg  string `json:"errorMsg"  yaml:"error_msg"`
}

// StatusValidationError is returned for a response whose status was rejected.
type StatusValidationError struct {
	StatusCode int
	Body       []byte
	Info       *ErrorInfo
}

func newStatusValidationError(statusCode int, body []byte) *StatusValidationError {
	err := &StatusValidationError{StatusCode: statusCode, Body: body}

	var info ErrorInfo
	if len(body) > 0 && json.Unmarshal(body, &info) == nil && info.ErrorCode != "" {
		err.Info = &info
	}

	return err
}

// Error implements the error interface.
func (e *StatusValidationError) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("status %d: %s: %s", e.StatusCode, e.Info.ErrorCode, e.Info.ErrorMsg)
	}

	return fmt.Sprintf("status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Is matches ErrStatusValidation.
func (e *StatusValidationError) Is(target error) bool {
	return target == ErrStatusValidation
}

// ExchangeError is the terminal error of a failed exchange.
type ExchangeError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s %s failed: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the cause.
func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Is matches ErrExchange.
func (e *ExchangeError) Is(target error) bool {
	return target == ErrExchange
}

// IsTimeout checks if the error was caused by a deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if the error was caused by caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsStatus checks if the error carries a rejected response with the given status.
func IsStatus(err error, statusCode int) bool {
	return StatusCode(err) == statusCode
}

// IsNotFound checks if the error is a 404.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// StatusCode returns the rejected response status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusValidationError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}

	var exchangeErr *ExchangeError
	if errors.As(err, &exchangeErr) {
		return exchangeErr.StatusCode
	}

	return 0
}
