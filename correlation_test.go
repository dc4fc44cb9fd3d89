package driftbus

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCorrelationID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"ab", true},
		{"req-123", true},
		{"svc.order.42", true},
		{"a1_b2-c3.d4", true},
		{"AB12", true},
		{strings.Repeat("a", 64), true},

		{"", false},
		{"a", false}, // below minimum length
		{strings.Repeat("a", 65), false},
		{"*", false},
		{"-ab", false},  // must start alphanumeric
		{"ab-", false},  // must end alphanumeric
		{".ab", false},
		{"ab.", false},
		{"a--b", false}, // no consecutive separators
		{"a..b", false},
		{"a.-b", false}, // mixed separators still consecutive
		{"a b", false},
		{"a/b", false},
		{"a*b", false},
	}
	for _, tt := range tests {
		err := ValidateCorrelationID(tt.id)
		if tt.valid && err != nil {
			t.Fatalf("ValidateCorrelationID(%q): unexpected error %v", tt.id, err)
		}
		if !tt.valid && err == nil {
			t.Fatalf("ValidateCorrelationID(%q): expected error, got nil", tt.id)
		}
		if got := IsValidCorrelationID(tt.id); got != tt.valid {
			t.Fatalf("IsValidCorrelationID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestValidateCorrelationID_ErrorKind(t *testing.T) {
	err := ValidateCorrelationID("*")
	if !errors.Is(err, ErrInvalidCorrelationID) {
		t.Fatalf("error %v does not wrap ErrInvalidCorrelationID", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("error %v is not a *Error", err)
	}
	if e.Kind != KindValue {
		t.Fatalf("Kind = %v, want KindValue", e.Kind)
	}
}

func TestNewCorrelationID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		if !IsValidCorrelationID(id) {
			t.Fatalf("generated id %q is not valid", id)
		}
		if seen[id] {
			t.Fatalf("generated id %q twice", id)
		}
		seen[id] = true
	}
}
