package types

import (
	"context"
	"errors"
	"fmt"
)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of one attempt in a bounded retry loop.
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Err   error
}

// Success wraps a usable value.
func Success[T any](v T) Outcome[T] { return Outcome[T]{Kind: OutcomeSuccess, Value: v} }

// Retryable records a failure the next attempt may fix.
func Retryable[T any](err error) Outcome[T] { return Outcome[T]{Kind: OutcomeRetryable, Err: err} }

// Fatal records a failure that ends the loop immediately.
func Fatal[T any](err error) Outcome[T] { return Outcome[T]{Kind: OutcomeFatal, Err: err} }

// ErrRetriesExhausted is wrapped by the error Retry returns when every attempt was retryable.
var ErrRetriesExhausted = errors.New("retries exhausted")

// AttemptFunc runs one attempt. prior holds the errors of earlier attempts
// in order, so the attempt can feed them back to the model.
type AttemptFunc[T any] func(ctx context.Context, attempt int, prior []error) Outcome[T]

// Retry drives fn until Success, Fatal, context cancellation or maxAttempts
// retryable failures. On exhaustion the returned error wraps
// ErrRetriesExhausted and every attempt's error.
func Retry[T any](ctx context.Context, maxAttempts int, fn AttemptFunc[T]) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var prior []error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		out := fn(ctx, attempt, prior)
		switch out.Kind {
		case OutcomeSuccess:
			return out.Value, nil
		case OutcomeFatal:
			return zero, out.Err
		default:
			prior = append(prior, out.Err)
		}
	}
	return zero, fmt.Errorf("%w after %d attempt(s): %w", ErrRetriesExhausted, maxAttempts, errors.Join(prior...))
}
