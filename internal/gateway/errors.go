package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a panel error for retry decisions.
type Kind string

const (
	// KindNetwork covers timeouts, connection failures and 5xx responses.
	// These are transient and retried within the attempt budget.
	KindNetwork Kind = "network"
	// KindAuth covers 401/403. Retrying a bad secret only burns the budget,
	// so these abort immediately and should be surfaced as operational alerts.
	KindAuth Kind = "auth"
	// KindNotFound covers 404. Treated as success for deletes, as a
	// not-found condition for reads.
	KindNotFound Kind = "not_found"
	// KindFatal covers every other 4xx.
	KindFatal Kind = "fatal"
)

// Error is a classified failure from a gateway panel call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool { return e.Kind == KindNetwork }

// IsNotFound reports whether err is a classified 404.
func IsNotFound(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == KindNotFound
}

// IsAuth reports whether err is a classified auth failure.
func IsAuth(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == KindAuth
}

// IsRetryable reports whether err is a transient network-class failure.
// A transient error escaping the client means the retry budget ran out.
func IsRetryable(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Retryable()
}
