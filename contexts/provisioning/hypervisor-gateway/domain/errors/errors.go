package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a hypervisor failure. The kind decides whether the
// orchestrator retries and is the only part of a failure ever shown to
// tenants.
type Kind string

const (
	KindConnection     Kind = "CONNECTION"
	KindTimeout        Kind = "TIMEOUT"
	KindAuthentication Kind = "AUTHENTICATION"
	KindProvisioning   Kind = "PROVISIONING"
	KindNotFound       Kind = "NOT_FOUND"
	KindAPI            Kind = "API"
)

// Error is a classified hypervisor failure. Connection and timeout failures
// are retriable; authentication, provisioning and not-found failures are
// permanent. API failures carry their own retriable flag because the
// underlying response decides.
type Error struct {
	Kind      Kind
	Retriable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hypervisor %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("hypervisor %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Connection(message string, err error) *Error {
	return &Error{Kind: KindConnection, Retriable: true, Message: message, Err: err}
}

func Timeout(message string, err error) *Error {
	return &Error{Kind: KindTimeout, Retriable: true, Message: message, Err: err}
}

func Authentication(message string, err error) *Error {
	return &Error{Kind: KindAuthentication, Retriable: false, Message: message, Err: err}
}

func Provisioning(message string, err error) *Error {
	return &Error{Kind: KindProvisioning, Retriable: false, Message: message, Err: err}
}

func NotFound(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Retriable: false, Message: message, Err: err}
}

func API(message string, retriable bool, err error) *Error {
	return &Error{Kind: KindAPI, Retriable: retriable, Message: message, Err: err}
}

// Retriable reports whether err carries a retriable classification.
// Unclassified errors are permanent.
func Retriable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retriable
}

// KindOf extracts the classification, defaulting to API for unclassified
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindAPI
}

// ErrUnavailable is returned while the circuit breaker is open; no
// hypervisor call was attempted.
var ErrUnavailable = errors.New("hypervisor temporarily unavailable")

// ErrConfigNotFound means the tenant has no hypervisor configuration.
var ErrConfigNotFound = errors.New("hypervisor configuration not found")

// ExhaustedError means every retry attempt failed. Last carries the final
// classified failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d provisioning attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// VersionConflictError is returned when a configuration update carries a
// stale expected version.
type VersionConflictError struct {
	TenantID string
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("configuration version conflict for tenant %s: expected %d, actual %d", e.TenantID, e.Expected, e.Actual)
}
