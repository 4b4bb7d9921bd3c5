package utils

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID("room")
	id2 := GenerateID("room")

	if id1 == id2 {
		t.Error("expected different IDs")
	}
	if !strings.HasPrefix(id1, "room_") {
		t.Errorf("expected prefix 'room_', got %s", id1)
	}
}

func TestGenerateClientID(t *testing.T) {
	a := GenerateClientID()
	b := GenerateClientID()
	if a == b {
		t.Error("expected different client IDs")
	}
	if len(a) != 36 {
		t.Errorf("expected UUID format, got %s", a)
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal string", "hello", "hello"},
		{"with control chars", "hello\x00world", "helloworld"},
		{"with newline", "hello\nworld", "hello\nworld"},
		{"with whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeString(tt.input); got != tt.expected {
				t.Errorf("SanitizeString(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("hello world", 8); got != "hello..." {
		t.Errorf("TruncateString() = %q", got)
	}
	if got := TruncateString("hi", 8); got != "hi" {
		t.Errorf("TruncateString() = %q", got)
	}
}
