package utils

import (
	"testing"
	"time"
)

func TestParseSince_Absolute(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2025-01-31", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"2025-01-31T08:30:00Z", time.Date(2025, 1, 31, 8, 30, 0, 0, time.UTC)},
		{"2025-01-31T08:30:00+02:00", time.Date(2025, 1, 31, 6, 30, 0, 0, time.UTC)},
		{" 2025-01-31 08:30:00 ", time.Date(2025, 1, 31, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.input, now)
		if err != nil {
			t.Errorf("ParseSince(%q) error = %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("ParseSince(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseSince_Relative(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	got, err := ParseSince("3 days ago", now)
	if err != nil {
		t.Fatalf("ParseSince() error = %v", err)
	}
	if !got.Before(now) || now.Sub(*got) < 48*time.Hour {
		t.Errorf("ParseSince(3 days ago) = %v", got)
	}
}

func TestParseSince_EmptyAndInvalid(t *testing.T) {
	now := time.Now()
	got, err := ParseSince("  ", now)
	if err != nil || got != nil {
		t.Errorf("empty since = %v, %v", got, err)
	}
	if _, err := ParseSince("qwertyuiop", now); err == nil {
		t.Error("expected error for unparseable value")
	}
}
