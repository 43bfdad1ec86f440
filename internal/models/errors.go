package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks caller data that cannot be canonicalized. Not retryable.
	ErrMalformedInput = errors.New("malformed input")
	// ErrEmbeddingComputation marks a failed or timed-out embedding provider call. Retryable.
	ErrEmbeddingComputation = errors.New("embedding computation failed")
	// ErrInsufficientData marks a projection request with too few points.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrConflictRetryExhausted marks an atomic upsert that kept conflicting after bounded retries.
	ErrConflictRetryExhausted = errors.New("conflict retry exhausted")
)

// MalformedInputError describes why a position list was rejected.
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %s", e.Reason)
}

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

// EmbeddingComputationError wraps a provider failure for one value.
type EmbeddingComputationError struct {
	Value string
	Err   error
}

func (e *EmbeddingComputationError) Error() string {
	return fmt.Sprintf("embedding computation failed for %q: %v", e.Value, e.Err)
}

func (e *EmbeddingComputationError) Unwrap() error { return e.Err }

func (e *EmbeddingComputationError) Is(target error) bool { return target == ErrEmbeddingComputation }

// InsufficientDataError reports how many points a projection got versus needed.
type InsufficientDataError struct {
	Got  int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: got %d vectors, need at least %d", e.Got, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// ValueError reports a failure for one value of a batch; the rest of the batch still completes.
type ValueError struct {
	Value string `json:"value"`
	Err   error  `json:"-"`
}

func (e ValueError) Error() string {
	return fmt.Sprintf("%q: %v", e.Value, e.Err)
}

func (e ValueError) Unwrap() error { return e.Err }

// MarshalJSON renders the wrapped error as a message.
func (e ValueError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Value string `json:"value"`
		Error string `json:"error"`
	}{e.Value, msg})
}
