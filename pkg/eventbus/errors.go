package eventbus

import "fmt"

// ReferenceNotFoundError indicates an operation was given the ID of a
// producer, consumer, or event that doesn't exist.
type ReferenceNotFoundError struct {
	Kind string // "producer", "consumer", or "event"
	ID   string
}

// Error implements the error interface.
func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConsistencyError indicates a consumption row that must exist after a
// successful claim is missing. This is a data-integrity fault, not a
// retryable condition.
type ConsistencyError struct {
	EventID    string
	ConsumerID string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consumption record missing for event %s, consumer %s", e.EventID, e.ConsumerID)
}

// PayloadError indicates payload or result serialization failed.
// Payload errors are permanent: retrying won't make the data serializable.
type PayloadError struct {
	Op  string // "encode", "decode", or "hash"
	Err error
}

// Error implements the error interface.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("payload %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PayloadError) Unwrap() error {
	return e.Err
}

// PanicError wraps a panic recovered from consumer processing logic.
type PanicError struct {
	EventID string
	Value   any
	Stack   []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic processing event %s: %v", e.EventID, e.Value)
}
