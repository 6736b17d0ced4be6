// Package rpcerr classifies the failures a Fleet Gateway call can produce.
//
// Two failure planes exist and must not be confused:
//   - transport failures: the Go error returned by a RobotClient call itself
//     (dial refused, context deadline exceeded, connection reset). These are
//     the only failures the Retry Policy (internal/retry) ever retries.
//   - domain failures: a structured {ok:false, error_code>0, error_text}
//     result the robot returned successfully over the wire. These pass
//     straight through to the task engine's failure classifier and are never
//     retried here, no matter how many times they repeat.
package rpcerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType classifies a transport-level failure for retry purposes.
type ErrorType int

const (
	// ErrorTypeTransient is a transport failure worth retrying.
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent is a transport failure that will not resolve itself.
	ErrorTypePermanent
)

// TransientError wraps a transport failure explicitly marked retryable.
type TransientError struct {
	Err     error
	Message string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient rpc error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a transport failure explicitly marked non-retryable.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent rpc error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DomainError represents a structured {error_code, error_text} response the
// robot returned for a completed RPC call. It is never transient: the
// Retry Policy never sees it, only the task engine's failure classifier does.
type DomainError struct {
	Action    string
	Code      int
	ErrorText string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s failed: code=%d %s", e.Action, e.Code, e.ErrorText)
}

// NewDomainError builds a DomainError from a Fleet Gateway result.
func NewDomainError(action string, code int, errorText string) *DomainError {
	return &DomainError{Action: action, Code: code, ErrorText: errorText}
}

// IsTransient reports whether err is a transport failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if isNetworkError(err) {
		return true
	}
	if isSyscallError(err) {
		return true
	}

	return false
}

// IsPermanent reports whether err is a transport failure that will not
// resolve itself no matter how many times it is retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	return !IsTransient(err)
}

// GetErrorType classifies a transport error for logging/metrics.
func GetErrorType(err error) ErrorType {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"timeout",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
		"unavailable",
		"eof",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

// NewTransientError marks err as retryable, with an operator-facing message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError marks err as non-retryable, with an operator-facing message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}
