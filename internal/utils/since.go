package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var sinceLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

var relativeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseSince accepts an absolute timestamp ("2025-01-31", RFC3339) or a
// relative expression ("yesterday", "3 days ago", "last week").
// An empty string yields nil.
func ParseSince(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range sinceLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t, nil
		}
	}

	result, err := relativeParser.Parse(raw, now)
	if err != nil {
		return nil, fmt.Errorf("parse since %q: %w", raw, err)
	}
	if result == nil {
		return nil, fmt.Errorf("unrecognized since value %q", raw)
	}
	t := result.Time.UTC()
	return &t, nil
}
