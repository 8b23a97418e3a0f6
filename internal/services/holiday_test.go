package services

import (
	"testing"
	"time"
)

func TestHolidayCalendar_IsWorkday(t *testing.T) {
	tests := []struct {
		name     string
		country  string
		date     time.Time
		expected bool
	}{
		{"german weekday", "DE", time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC), true},
		{"german unity day", "DE", time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC), false},
		{"christmas", "de", time.Date(2025, 12, 25, 9, 0, 0, 0, time.UTC), false},
		{"saturday", "DE", time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC), false},
		{"weekdays only", "NONE", time.Date(2025, 10, 3, 9, 0, 0, 0, time.UTC), true},
		{"unknown country", "XX", time.Date(2025, 6, 8, 9, 0, 0, 0, time.UTC), false},
		{"china national day", "CN", time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewHolidayCalendar(tt.country).IsWorkday(tt.date); got != tt.expected {
				t.Errorf("IsWorkday(%s) = %v, expected %v", tt.date.Format("2006-01-02"), got, tt.expected)
			}
		})
	}
}
