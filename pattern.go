package driftbus

import (
	"fmt"
	"strings"
)

const (
	// patternSegmentWildcard matches exactly one whole topic segment.
	patternSegmentWildcard = "*"

	// patternCharWildcard matches exactly one character within a segment.
	patternCharWildcard = '?'
)

// TopicPattern is a compiled topic-matching pattern over dot-separated
// segments.
//
// Pattern rules:
//   - "." is the segment separator
//   - "*" matches exactly one whole segment (e.g. "user.*" matches
//     "user.created" but not "user.a.created")
//   - "?" matches exactly one character within a segment (e.g.
//     "order.?.paid" matches "order.1.paid" but not "order.12.paid")
//   - all other characters match literally, case-sensitively
//
// Matching is always anchored against the full topic: a pattern with fewer
// or more segments than the topic never matches.
type TopicPattern struct {
	pattern  string
	segments []string
	exact    bool
}

// NewTopicPattern validates and compiles a pattern. The pattern must be
// non-empty, must not start or end with the separator, must not contain two
// consecutive separators, and may contain only alphanumerics, '.', '-',
// '_', '*' and '?'. A '*' must occupy a whole segment.
func NewTopicPattern(pattern string) (*TopicPattern, error) {
	const op = "pattern"

	switch {
	case pattern == "":
		return nil, newErrorf(KindPattern, op, ErrInvalidPattern, "pattern cannot be empty")
	case strings.HasPrefix(pattern, TopicSeparator), strings.HasSuffix(pattern, TopicSeparator):
		return nil, newErrorf(KindPattern, op, ErrInvalidPattern,
			"pattern cannot start or end with %q", TopicSeparator)
	case strings.Contains(pattern, TopicSeparator+TopicSeparator):
		return nil, newErrorf(KindPattern, op, ErrInvalidPattern,
			"pattern cannot contain consecutive dots")
	}

	segments := strings.Split(pattern, TopicSeparator)
	exact := true
	for _, seg := range segments {
		if seg == patternSegmentWildcard {
			exact = false
			continue
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			switch {
			case c == patternCharWildcard:
				exact = false
			case c == '*':
				// Segment wildcards cannot be mixed with other characters.
				return nil, newErrorf(KindPattern, op, ErrInvalidPattern,
					"wildcard %q must occupy a whole segment", patternSegmentWildcard)
			case !isPatternLiteral(c):
				return nil, newErrorf(KindPattern, op, ErrInvalidPattern,
					"pattern contains invalid character %q", string(c))
			}
		}
	}

	return &TopicPattern{pattern: pattern, segments: segments, exact: exact}, nil
}

// Pattern returns the source pattern string.
func (p *TopicPattern) Pattern() string { return p.pattern }

// IsExact reports whether the pattern contains no wildcard characters.
func (p *TopicPattern) IsExact() bool { return p.exact }

// Matches reports whether topic matches the pattern. It is pure and
// deterministic; an empty topic never matches.
func (p *TopicPattern) Matches(topic string) bool {
	if topic == "" {
		return false
	}
	if p.exact {
		return topic == p.pattern
	}

	parts := strings.Split(topic, TopicSeparator)
	if len(parts) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if !matchSegment(seg, parts[i]) {
			return false
		}
	}
	return true
}

// String renders the pattern kind and source, e.g.
// "TopicPattern(wildcard, user.*)".
func (p *TopicPattern) String() string {
	kind := "wildcard"
	if p.exact {
		kind = "exact"
	}
	return fmt.Sprintf("TopicPattern(%s, %s)", kind, p.pattern)
}

// matchSegment matches one pattern segment against one topic segment.
func matchSegment(pat, seg string) bool {
	if pat == patternSegmentWildcard {
		return len(seg) > 0
	}
	if len(pat) != len(seg) {
		return false
	}
	for i := 0; i < len(pat); i++ {
		if pat[i] != patternCharWildcard && pat[i] != seg[i] {
			return false
		}
	}
	return true
}

func isPatternLiteral(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '-' || c == '_'
}
