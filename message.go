package driftbus

import (
	"fmt"
	"strings"
	"time"
)

const (
	// TopicSeparator splits a topic into segments.
	TopicSeparator = "."

	// Wildcard is the universal marker. As a subscribe topic it matches
	// every published topic; as a subscribe-time correlation id it matches
	// every message. It is never valid on the publish side.
	Wildcard = "*"
)

// Message is one published event. Messages are built by the engine on every
// successful publish and are treated as immutable: the engine never touches
// a message after enqueue, and subscribers must treat Data and Metadata as
// read-only.
type Message struct {
	// Topic is the dot-segmented channel the message was published to.
	Topic string

	// Data is the payload. Never nil.
	Data map[string]any

	// CorrelationID tags the message for subscription-side filtering.
	// Empty means the message carries no correlation id.
	CorrelationID string

	// Timestamp is the wall-clock time of construction. No monotonic
	// ordering is implied across publishers.
	Timestamp time.Time

	// Metadata carries out-of-band context. Never nil.
	Metadata map[string]any
}

// NewMessage validates topic and correlation id and builds a Message.
// A nil data or metadata map is replaced with an empty one. A zero ts is
// replaced with the current wall-clock time.
func NewMessage(topic string, data map[string]any, correlationID string, metadata map[string]any, ts time.Time) (Message, error) {
	if err := validateTopic(topic); err != nil {
		return Message{}, err
	}
	if correlationID != "" {
		if correlationID == Wildcard {
			return Message{}, newErrorf(KindValue, "message", ErrInvalidCorrelationID,
				"correlation id cannot be %q", Wildcard)
		}
		if err := ValidateCorrelationID(correlationID); err != nil {
			return Message{}, err
		}
	}
	if data == nil {
		data = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Message{
		Topic:         topic,
		Data:          data,
		CorrelationID: correlationID,
		Timestamp:     ts,
		Metadata:      metadata,
	}, nil
}

// String renders the message for logs and debugging.
func (m Message) String() string {
	return fmt.Sprintf("Message(topic=%s, data=%v, correlation_id=%s, timestamp=%s, metadata=%v)",
		m.Topic, m.Data, m.CorrelationID, m.Timestamp.Format(time.RFC3339Nano), m.Metadata)
}

// validateTopic enforces the topic rules: non-empty, no leading or trailing
// separator, no two consecutive separators, and only alphanumerics, '.',
// '-' and '_'.
func validateTopic(topic string) error {
	switch {
	case topic == "":
		return newErrorf(KindValue, "topic", ErrInvalidTopic, "topic cannot be empty")
	case strings.HasPrefix(topic, TopicSeparator), strings.HasSuffix(topic, TopicSeparator):
		return newErrorf(KindValue, "topic", ErrInvalidTopic,
			"topic cannot start or end with %q", TopicSeparator).withTopic(topic)
	case strings.Contains(topic, TopicSeparator+TopicSeparator):
		return newErrorf(KindValue, "topic", ErrInvalidTopic,
			"topic cannot contain consecutive separators").withTopic(topic)
	}
	for i := 0; i < len(topic); i++ {
		if c := topic[i]; !isPatternLiteral(c) && c != '.' {
			return newErrorf(KindValue, "topic", ErrInvalidTopic,
				"topic contains invalid character %q", string(c)).withTopic(topic)
		}
	}
	return nil
}
