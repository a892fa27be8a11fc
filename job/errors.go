package job

import (
	"errors"
	"fmt"

	"github.com/bosley/parley/diarize"
)

// ErrBusy is returned by Start while another job is active
var ErrBusy = errors.New("a transcription is already in progress")

// Kind classifies job failures
type Kind int

const (
	KindValidation Kind = iota + 1
	KindModel
	KindAuth
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindModel:
		return "ModelError"
	case KindAuth:
		return "AuthError"
	case KindIO:
		return "IOError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the classified failure carried by a Failed job
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// classify maps a raw adapter error into the taxonomy
func classify(stage string, err error) *Error {
	if errors.Is(err, diarize.ErrAuth) {
		return &Error{
			Kind:   KindAuth,
			Reason: fmt.Sprintf("%s failed: the access token was rejected, check the token: %v", stage, err),
			Err:    err,
		}
	}
	return &Error{
		Kind:   KindModel,
		Reason: fmt.Sprintf("%s failed: %v", stage, err),
		Err:    err,
	}
}
