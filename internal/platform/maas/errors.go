package maas

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a backend failure for retry and surfacing decisions.
type Kind string

const (
	// KindTransient covers timeouts, connection errors, and 5xx responses.
	// These are the only failures the client retries.
	KindTransient Kind = "transient"
	// KindPermanent covers non-conflict 4xx responses; surfaced immediately.
	KindPermanent Kind = "permanent"
	// KindConflict covers 409/423 state-precondition failures. Distinct from
	// transient so callers can surface it as user-actionable.
	KindConflict Kind = "conflict"
	// KindAuth covers 401/403. Halts further backend calls until credentials
	// are refreshed.
	KindAuth Kind = "auth"
)

// Error is a classified backend failure. It is the only error type this
// package returns for backend-originated problems.
type Error struct {
	Kind       Kind
	Op         string // logical operation, e.g. "deploy"
	StatusCode int    // zero for transport-level failures
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("maas %s: %s (%s, HTTP %d)", e.Op, e.Message, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("maas %s: %s (%s)", e.Op, e.Message, e.Kind)
}

// classifyStatus maps an HTTP response code onto the error taxonomy.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusConflict || code == http.StatusLocked:
		return KindConflict
	case code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

func kindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTransient
}

// IsPermanent reports whether err is a non-retryable validation failure.
func IsPermanent(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindPermanent
}

// IsConflict reports whether err is a state-precondition conflict.
func IsConflict(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConflict
}

// IsAuthFailure reports whether err is a credential problem.
func IsAuthFailure(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}
