package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const noBodyMessage = "(no body returned)"

// Error is returned for non-2xx responses and exhausted network retries.
// StatusCode is zero when no response was received.
type Error struct {
	Service    string
	Method     string
	Path       string
	StatusCode int
	Message    string
	Err        error

	retryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s %s failed: %s", e.Service, e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("%s %s %s failed (%d): %s", e.Service, e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is a transport Error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// ExtractMessage pulls a human-readable message out of an error body.
// GitLab uses "message" (string, list or field map) and "error";
// Redmine uses an "errors" list.
func ExtractMessage(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return noBodyMessage
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return truncate(raw, 500)
	}

	for _, key := range []string{"message", "error", "errors", "error_description"} {
		if msg := flatten(parsed[key]); msg != "" {
			return msg
		}
	}
	return truncate(raw, 500)
}

func flatten(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			if s := flatten(v[k]); s != "" {
				parts = append(parts, k+" "+s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
