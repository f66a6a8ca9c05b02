package keychain

import (
	"errors"
	"fmt"
)

// Code classifies a CredentialStore failure.
type Code string

const (
	CodeGenerationFailed  Code = "generation_failed"
	CodePersistenceFailed Code = "persistence_failed"
	CodeDecodingFailed    Code = "decoding_failed"
	CodeAgreementFailed   Code = "agreement_failed"
	CodeInvalidArgument   Code = "invalid_argument"
)

// Reason refines CodePersistenceFailed.
type Reason string

const (
	ReasonAlreadyExists Reason = "already_exists"
	ReasonDenied        Reason = "denied"
	ReasonUnavailable   Reason = "unavailable"
)

// Sentinels matched by (*Error).Is on Code.
var (
	ErrGenerationFailed  = errors.New("key generation failed")
	ErrPersistenceFailed = errors.New("key persistence failed")
	ErrDecodingFailed    = errors.New("stored key could not be decoded")
	ErrAgreementFailed   = errors.New("key agreement failed")
	ErrInvalidArgument   = errors.New("invalid argument")
)

var codeSentinels = map[Code]error{
	CodeGenerationFailed:  ErrGenerationFailed,
	CodePersistenceFailed: ErrPersistenceFailed,
	CodeDecodingFailed:    ErrDecodingFailed,
	CodeAgreementFailed:   ErrAgreementFailed,
	CodeInvalidArgument:   ErrInvalidArgument,
}

// Error is the structured failure returned by CredentialStore operations.
type Error struct {
	Op     string
	Code   Code
	Reason Reason
	Label  string
	Kind   KeyKind
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("keychain %s", e.Op)
	if e.Label != "" {
		msg += fmt.Sprintf(" %s/%s", e.Kind, e.Label)
	}
	msg += ": " + string(e.Code)
	if e.Reason != "" {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// reasonFor maps a backend error onto a persistence Reason.
func reasonFor(err error) Reason {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return ReasonAlreadyExists
	case errors.Is(err, ErrDenied):
		return ReasonDenied
	default:
		return ReasonUnavailable
	}
}
