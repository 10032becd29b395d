package verification

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can map them to a response without parsing messages.
type Kind string

const (
	KindNotFound                Kind = "NotFound"
	KindInvalidTransition       Kind = "InvalidTransition"
	KindImmutable               Kind = "Immutable"
	KindNotEligible             Kind = "NotEligible"
	KindAlreadyVerified         Kind = "AlreadyVerified"
	KindAlreadyExists           Kind = "AlreadyExists"
	KindInvalidInput            Kind = "InvalidInput"
	KindExternalServiceDegraded Kind = "ExternalServiceDegraded"
	KindPayoutFailed            Kind = "PayoutFailed"
)

type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrImmutable         = &Error{Kind: KindImmutable}
	ErrNotEligible       = &Error{Kind: KindNotEligible}
	ErrAlreadyVerified   = &Error{Kind: KindAlreadyVerified}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrPayoutFailed      = &Error{Kind: KindPayoutFailed}
)

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
