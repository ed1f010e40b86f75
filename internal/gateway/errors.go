package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the gateway can report.
type Kind int

const (
	KindAuthRequired Kind = iota + 1
	KindSessionExpired
	KindAPI
	KindValidation
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "auth_required"
	case KindSessionExpired:
		return "session_expired"
	case KindAPI:
		return "api"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Fatal reports whether the failure ends the session.
func (k Kind) Fatal() bool {
	return k == KindAuthRequired || k == KindSessionExpired
}

var (
	ErrAuthRequired       = &Error{Kind: KindAuthRequired, Message: "Authentication required"}
	ErrSessionExpired     = &Error{Kind: KindSessionExpired, Message: "Session expired. Please log in again."}
	ErrAPI                = &Error{Kind: KindAPI}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNetworkUnavailable = &Error{Kind: KindNetwork}
)

type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can write errors.Is(err, gateway.ErrSessionExpired).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Validation builds a client-side precondition failure. It never reaches the network.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf returns the gateway kind of err, or 0 when err did not come from here.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
