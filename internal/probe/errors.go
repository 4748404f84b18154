package probe

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure.
type Kind string

const (
	InvalidTarget             Kind = "InvalidTarget"
	ScopeViolation            Kind = "ScopeViolation"
	ResolutionFailure         Kind = "ResolutionFailure"
	AllAddressesUnreachable   Kind = "AllAddressesUnreachable"
	PartialAddressUnreachable Kind = "PartialAddressUnreachable"
	ConnectionTimeout         Kind = "ConnectionTimeout"
	ConnectionError           Kind = "ConnectionError"
	HandshakeFailure          Kind = "HandshakeFailure"
	StagePanic                Kind = "StagePanic"
	GreetingTimeout           Kind = "GreetingTimeout"
	GreetingEmpty             Kind = "GreetingEmpty"
	GreetingReadError         Kind = "GreetingReadError"
)

// IsFatal reports whether a failure of this kind aborts the pipeline.
func IsFatal(k Kind) bool {
	switch k {
	case PartialAddressUnreachable, GreetingTimeout, GreetingEmpty, GreetingReadError:
		return false
	case "":
		return false
	default:
		return true
	}
}

// Error is the error type returned by every stage.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of kind k.
func NewError(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the Kind carried by err, or "" when err is not a probe
// error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
