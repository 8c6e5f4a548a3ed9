package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ValidateSessionName ensures a session name is non-empty and contains no whitespace.
// The name is not normalized; callers must pass it exactly as it will be used.
func ValidateSessionName(name SessionName) error {
	raw := string(name)
	if raw == "" {
		return fmt.Errorf("%w: blank session names are not allowed", ErrInvalidSessionName)
	}
	if strings.IndexFunc(raw, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: whitespace is not allowed in session names", ErrInvalidSessionName)
	}
	return nil
}

// ParseTTL parses a session time-to-live. It accepts Go durations ("90m",
// "1h30m") and whole days ("2d"). An empty value means no ttl.
func ParseTTL(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(trimmed, "d"); ok {
		var n int
		if _, err := fmt.Sscanf(days, "%d", &n); err != nil || n <= 0 || fmt.Sprint(n) != days {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, value)
	}
	return d, nil
}
