package post

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrGeneration        = errors.New("content generation failed")
	ErrAllVariantsUnsafe = errors.New("all variants failed moderation")
	ErrScheduling        = errors.New("scheduling failed")
	ErrPublishTransient  = errors.New("transient publish failure")
	ErrPublishPermanent  = errors.New("permanent publish failure")
)

// Reason codes carried on failed pipeline results.
const (
	ReasonValidation        = "ValidationError"
	ReasonGenerationFailed  = "ContentGenerationFailed"
	ReasonAllVariantsUnsafe = "AllVariantsUnsafe"
	ReasonScheduling        = "SchedulingError"
	ReasonInternal          = "InternalError"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FailureKind classifies a publish failure for the retry policy.
type FailureKind string

const (
	FailureTransient   FailureKind = "transient"
	FailureRateLimited FailureKind = "rate_limited"
	FailurePermanent   FailureKind = "permanent"
)

// PublishError is returned by publishers. RetryAfter is set when the remote
// side told us how long to back off.
type PublishError struct {
	Kind       FailureKind
	RetryAfter time.Duration
	StatusCode int
	Code       int
	Err        error
}

func (e *PublishError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

func (e *PublishError) Is(target error) bool {
	switch target {
	case ErrPublishPermanent:
		return e.Kind == FailurePermanent
	case ErrPublishTransient:
		return e.Kind == FailureTransient || e.Kind == FailureRateLimited
	}
	return false
}

func Permanent(err error) *PublishError {
	return &PublishError{Kind: FailurePermanent, Err: err}
}

func Transient(err error) *PublishError {
	return &PublishError{Kind: FailureTransient, Err: err}
}

func RateLimited(err error, retryAfter time.Duration) *PublishError {
	return &PublishError{Kind: FailureRateLimited, RetryAfter: retryAfter, Err: err}
}

// Classify returns the failure kind of err. Errors that carry no
// classification are treated as transient.
func Classify(err error) FailureKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrPublishPermanent) {
		return FailurePermanent
	}
	return FailureTransient
}
