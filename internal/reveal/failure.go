package reveal

import (
	"context"
	"errors"
	"fmt"

	"timelock/internal/codec"
	"timelock/internal/commit"
	"timelock/internal/timeauth"
)

// ErrRevealFailure is matched by every failure to open committed values.
var ErrRevealFailure = errors.New("reveal failed")

// Code is a machine-readable failure code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	CodeInvalidReleaseTime  Code = "INVALID_RELEASE_TIME"
	CodeRegistrationFailure Code = "REGISTRATION_FAILURE"
	CodeEntropyUnavailable  Code = "ENTROPY_UNAVAILABLE"
	CodeRevealFailure       Code = "REVEAL_FAILURE"
	CodeCanceled            Code = "CANCELED"
)

// Failure is the user-facing classification of an error. Message is safe to
// show: it never carries key material or plaintext.
type Failure struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return f.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is reports whether target matches this failure by code.
func (f *Failure) Is(target error) bool {
	if t, ok := target.(*Failure); ok {
		return f.Code == t.Code
	}
	return false
}

func revealFailure(message string, cause error) *Failure {
	if cause == nil {
		cause = ErrRevealFailure
	} else {
		cause = fmt.Errorf("%w: %w", ErrRevealFailure, cause)
	}
	return &Failure{Code: CodeRevealFailure, Message: message, Cause: cause}
}

// Classify maps err to a Failure. It returns nil for a nil error.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	switch {
	case errors.Is(err, commit.ErrInvalidReleaseTime):
		return &Failure{Code: CodeInvalidReleaseTime, Message: "the release time must be in the future", Cause: err}
	case errors.Is(err, timeauth.ErrRegistrationFailure):
		return &Failure{Code: CodeRegistrationFailure, Message: "could not register with the key-release network, try again", Cause: err}
	case errors.Is(err, codec.ErrEntropyUnavailable):
		return &Failure{Code: CodeEntropyUnavailable, Message: "no secure randomness available", Cause: err}
	case errors.Is(err, ErrRevealFailure):
		return &Failure{Code: CodeRevealFailure, Message: "could not reveal the committed values", Cause: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Failure{Code: CodeCanceled, Message: "the session ended before the reveal", Cause: err}
	default:
		return &Failure{Code: CodeUnknown, Message: "unexpected error", Cause: err}
	}
}
