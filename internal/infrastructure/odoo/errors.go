package odoo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClient is matched by every error produced by this package, so callers
// can tell ERP failures apart from local ones with errors.Is.
var ErrClient = errors.New("odoo client error")

// ErrRecordNotFound is returned when a lookup that must succeed matches nothing.
var ErrRecordNotFound = fmt.Errorf("%w: record not found", ErrClient)

// AuthenticationError is returned when the server rejects the credentials or
// cannot be reached for authentication.
type AuthenticationError struct {
	URL  string
	DB   string
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	msg := fmt.Sprintf("authentication failed for %s@%s (%s)", e.User, e.DB, e.URL)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthenticationError) Unwrap() error        { return e.Err }
func (e *AuthenticationError) Is(target error) bool { return target == ErrClient }

// RPCCallError is a server-side rejection that retrying will not fix.
type RPCCallError struct {
	Model  string
	Method string
	Err    error
}

func (e *RPCCallError) Error() string {
	return fmt.Sprintf("rpc %s.%s failed: %v", e.Model, e.Method, e.Err)
}

func (e *RPCCallError) Unwrap() error        { return e.Err }
func (e *RPCCallError) Is(target error) bool { return target == ErrClient }

// RetryExhaustedError is returned when every attempt of a call failed.
type RetryExhaustedError struct {
	Model    string
	Method   string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("rpc %s.%s failed after %d attempts: %v", e.Model, e.Method, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error        { return e.Err }
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrClient }

// RecordAmbiguousError is returned when a lookup expected to be unique
// matches more than one record.
type RecordAmbiguousError struct {
	Model  string
	Domain Domain
}

func (e *RecordAmbiguousError) Error() string {
	return fmt.Sprintf("multiple %s records match %v", e.Model, []any(e.Domain))
}

func (e *RecordAmbiguousError) Is(target error) bool { return target == ErrClient }

// ValidationError reports arguments rejected before any call is made.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrClient }

// Fault is an error reported by the server in the RPC response.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

// nonRetryableMarkers are server exception names whose outcome does not change
// on retry. Every other fault is retried.
var nonRetryableMarkers = []string{
	"AccessDenied",
	"RecordError",
}

// IsRetryable reports whether err is worth another attempt. Transport errors
// are retryable; faults are unless they name a deterministic rejection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fault *Fault
	if errors.As(err, &fault) {
		for _, marker := range nonRetryableMarkers {
			if strings.Contains(fault.Message, marker) {
				return false
			}
		}
	}
	return true
}

func isAuthRejection(err error) bool {
	var fault *Fault
	if !errors.As(err, &fault) {
		return false
	}
	msg := strings.ToLower(fault.Message)
	return strings.Contains(msg, "accessdenied") || strings.Contains(msg, "forbidden")
}
