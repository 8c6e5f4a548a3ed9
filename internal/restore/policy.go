package restore

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidPolicy is matched by every ConfigParseError.
var ErrInvalidPolicy = errors.New("invalid session restore policy")

// acceptedFormats is appended to every parse error.
const acceptedFormats = "use formats like '5MB', '1GB', '512KB', or '0'"

// ConfigParseError reports a malformed restore policy string.
type ConfigParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("invalid session restore policy %q: %s; %s", e.Input, e.Reason, acceptedFormats)
}

// Unwrap exposes the underlying numeric error, if any.
func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidPolicy.
func (e *ConfigParseError) Is(target error) bool {
	return target == ErrInvalidPolicy
}

var units = []struct {
	suffix string
	scale  int
}{
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
}

// ParseBudget converts a restore policy ("0", "512KB", "5MB", "2GB") into a
// byte budget. Units are case-insensitive and surrounding whitespace is
// ignored. A budget of 0 disables buffering.
func ParseBudget(policy string) (int, error) {
	trimmed := strings.TrimSpace(policy)
	if trimmed == "0" {
		return 0, nil
	}
	if trimmed == "" {
		return 0, &ConfigParseError{Input: policy, Reason: "empty value"}
	}
	upper := strings.ToUpper(trimmed)
	for _, unit := range units {
		magnitude, ok := strings.CutSuffix(upper, unit.suffix)
		if !ok {
			continue
		}
		if magnitude == "" {
			return 0, &ConfigParseError{Input: policy, Reason: "missing magnitude"}
		}
		n, err := strconv.ParseUint(magnitude, 10, 64)
		if err != nil {
			return 0, &ConfigParseError{Input: policy, Reason: "magnitude is not a whole number", Err: err}
		}
		if n > uint64(math.MaxInt/unit.scale) {
			return 0, &ConfigParseError{Input: policy, Reason: "size overflows"}
		}
		return int(n) * unit.scale, nil
	}
	return 0, &ConfigParseError{Input: policy, Reason: "missing or unsupported unit"}
}
