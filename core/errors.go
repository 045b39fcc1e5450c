package core

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument marks a caller input that was rejected before any write.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPrecondition is returned when a status write affects no rows: the entity is gone
	// or a concurrent caller already moved it.
	ErrPrecondition = errors.New("precondition failed")

	// ErrRuntime wraps panics recovered at an operation boundary.
	ErrRuntime = errors.New("unexpected runtime error")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// StepError reports a dependent step (eg. a notification write) that failed after the
// status write of the same operation had already been persisted.
// Only the dependent steps are left to replay.
type StepError struct {
	Step string
	Err  error
}

func NewStepError(step string, err error) error {
	return &StepError{Step: step, Err: err}
}

func (err *StepError) Error() string {
	return fmt.Sprintf("%s: %v", err.Step, err.Err)
}

func (err *StepError) Cause() error { return err.Err }

// AsStepError returns the first StepError of err's chain.
// errors.Cause would unwrap past it, so the chain is walked by hand.
func AsStepError(err error) (*StepError, bool) {
	for err != nil {
		if se, ok := err.(*StepError); ok {
			return se, true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return nil, false
		}
		err = cause.Cause()
	}
	return nil, false
}

// IsStepError reports whether a StepError is part of err's chain.
func IsStepError(err error) bool {
	_, ok := AsStepError(err)
	return ok
}

// RecoverAsError converts a panic into an error assigned to *errp and logs it.
// Use it deferred at operation boundaries.
func RecoverAsError(logger Logger, op string, errp *error) {
	if r := recover(); r != nil {
		err := errors.Wrapf(ErrRuntime, "%s: %v", op, r)
		if logger != nil {
			logger.Error(err.Error(), err)
		}
		*errp = err
	}
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
