package driftbus

import (
	"github.com/google/uuid"
)

const (
	// correlationIDMinLen and correlationIDMaxLen bound the id length. The
	// anchors must both be alphanumeric, so the minimum is two characters.
	correlationIDMinLen = 2
	correlationIDMaxLen = 64
)

// NewCorrelationID returns a freshly generated, pattern-compliant
// correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// IsValidCorrelationID reports whether id satisfies the correlation-id
// pattern.
func IsValidCorrelationID(id string) bool {
	return ValidateCorrelationID(id) == nil
}

// ValidateCorrelationID checks id against the correlation-id pattern:
// 2-64 characters, alphanumeric at both ends, interior characters
// alphanumeric or one of '.', '-', '_', and no two separator characters in
// a row (even of different kinds). The returned error names the rule that
// was violated.
func ValidateCorrelationID(id string) error {
	const op = "correlation"

	if id == "" {
		return newErrorf(KindValue, op, ErrInvalidCorrelationID,
			"correlation id cannot be empty string")
	}
	if id == Wildcard {
		return newErrorf(KindValue, op, ErrInvalidCorrelationID,
			"correlation id cannot be %q", Wildcard)
	}
	if len(id) < correlationIDMinLen || len(id) > correlationIDMaxLen {
		return newErrorf(KindValue, op, ErrInvalidCorrelationID,
			"correlation id length must be %d-%d characters, got %d",
			correlationIDMinLen, correlationIDMaxLen, len(id))
	}
	if !isCorrelationAnchor(id[0]) || !isCorrelationAnchor(id[len(id)-1]) {
		return newErrorf(KindValue, op, ErrInvalidCorrelationID,
			"correlation id does not match pattern: must start and end with an alphanumeric character")
	}
	prevSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		sep := isCorrelationSeparator(c)
		if !sep && !isCorrelationAnchor(c) {
			return newErrorf(KindValue, op, ErrInvalidCorrelationID,
				"correlation id does not match pattern: invalid character %q", string(c))
		}
		if sep && prevSep {
			return newErrorf(KindValue, op, ErrInvalidCorrelationID,
				"correlation id cannot contain consecutive separator characters")
		}
		prevSep = sep
	}
	return nil
}

func isCorrelationAnchor(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func isCorrelationSeparator(c byte) bool {
	return c == '.' || c == '-' || c == '_'
}
