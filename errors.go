package driftbus

import (
	"errors"
	"fmt"
)

// Kind classifies a driftbus error. Every synchronous failure returned by
// the library carries exactly one kind.
type Kind string

const (
	// KindValue marks malformed or out-of-range input (empty topic,
	// invalid correlation id, wildcard correlation id on publish).
	KindValue Kind = "VALUE"

	// KindType marks input of the wrong shape (nil callback).
	KindType Kind = "TYPE"

	// KindLookup marks references to subscriptions, topics or managed
	// buses that do not exist.
	KindLookup Kind = "LOOKUP"

	// KindRuntime marks operations attempted in an illegal state, most
	// commonly after Shutdown.
	KindRuntime Kind = "RUNTIME"

	// KindPattern marks topic pattern syntax violations. It is a
	// specialization of KindValue kept separate so pattern failures can
	// be matched precisely.
	KindPattern Kind = "PATTERN"
)

// Sentinel errors. These are matchable with errors.Is against any *Error
// the library returns.
var (
	// ErrShutdown is returned when an operation is attempted on a bus
	// that has been shut down.
	ErrShutdown = errors.New("pubsub has been shut down")

	// ErrInvalidTopic is returned for empty or malformed topics.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrNilCallback is returned when Subscribe is given a nil callback.
	ErrNilCallback = errors.New("callback must not be nil")

	// ErrNotFound is returned when a subscription or topic lookup fails.
	ErrNotFound = errors.New("subscription not found")

	// ErrInvalidPattern is returned for malformed topic patterns.
	ErrInvalidPattern = errors.New("invalid topic pattern")

	// ErrInvalidCorrelationID is returned for correlation ids that do not
	// satisfy the correlation-id pattern.
	ErrInvalidCorrelationID = errors.New("invalid correlation id")

	// ErrNilPubSub is returned when a nil bus is handed to the aggregator.
	ErrNilPubSub = errors.New("pubsub must not be nil")

	// ErrAlreadyManaged is returned when a bus is added to an aggregator
	// that already manages it.
	ErrAlreadyManaged = errors.New("pubsub already managed")

	// ErrNotManaged is returned when a bus is removed from an aggregator
	// that does not manage it.
	ErrNotManaged = errors.New("pubsub not managed")

	// ErrEmptyScope is returned when Solo is called with an empty scope.
	ErrEmptyScope = errors.New("scope must not be empty")
)

// Error is the structured error type for driftbus operations.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the operation that failed (e.g. "publish", "subscribe").
	Op string

	// Topic is the topic involved, if any.
	Topic string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Topic != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s [topic=%s]: %v", e.Op, e.Message, e.Topic, e.Cause)
		}
		return fmt.Sprintf("%s: %s [topic=%s]", e.Op, e.Message, e.Topic)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets two structured errors match on kind. Sentinel matching is handled
// by Unwrap: every error the library constructs carries its sentinel as the
// cause, so errors.Is(err, ErrShutdown) works through the chain.
func (e *Error) Is(target error) bool {
	var de *Error
	if errors.As(target, &de) {
		return e.Kind == de.Kind
	}
	return false
}

// newError builds a structured error around one of the package sentinels.
// The sentinel doubles as the default message.
func newError(kind Kind, op string, sentinel error) *Error {
	return &Error{Kind: kind, Op: op, Message: sentinel.Error(), Cause: sentinel}
}

// newErrorf is newError with a specific human-readable message.
func newErrorf(kind Kind, op string, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: sentinel}
}

// withTopic attaches topic context to an error.
func (e *Error) withTopic(topic string) *Error {
	e.Topic = topic
	return e
}
