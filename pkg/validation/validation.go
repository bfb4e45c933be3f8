// Package validation checks tool arguments before they reach the pizza API.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
)

// MaxIDLength bounds identifiers placed in request paths
const MaxIDLength = 128

var validID = regexp.MustCompile(`^[A-Za-z0-9._~:@-]+$`)

// ValidateID checks that value can be used as a single URL path segment
func ValidateID(field, value string) (string, error) {
	id := strings.TrimSpace(value)
	if id == "" {
		return "", invalidID(field, value, "cannot be empty")
	}
	if len(id) > MaxIDLength {
		return "", invalidID(field, value, fmt.Sprintf("exceeds %d characters", MaxIDLength))
	}
	if id == "." || id == ".." || strings.Contains(id, "..") {
		return "", invalidID(field, value, "contains directory traversal sequence")
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return "", invalidID(field, value, "contains control characters")
	}
	if !validID.MatchString(id) {
		return "", invalidID(field, value, "contains invalid characters")
	}
	return id, nil
}

func invalidID(field, value, reason string) error {
	return errors.NewValidationError(errors.ErrCodeInvalidID,
		fmt.Sprintf("%s %s", field, reason), nil).
		WithContext("field", field).
		WithContext("length", len(value))
}

// RequireString returns the string argument named key
func RequireString(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return "", errors.NewValidationError(errors.ErrCodeMissingArgument,
			fmt.Sprintf("missing required argument: %s", key), nil).
			WithContext("argument", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", wrongType(key, "string", raw)
	}
	return s, nil
}

// OptionalString returns the string argument named key, or "" when absent
func OptionalString(args map[string]any, key string) (string, error) {
	if raw, ok := args[key]; !ok || raw == nil {
		return "", nil
	}
	return RequireString(args, key)
}

// RequireInt returns the integral number argument named key. JSON numbers
// decode as float64, so fractional values are rejected here.
func RequireInt(args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, errors.NewValidationError(errors.ErrCodeMissingArgument,
			fmt.Sprintf("missing required argument: %s", key), nil).
			WithContext("argument", key)
	}
	return toInt(key, raw)
}

func toInt(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, errors.NewValidationError(errors.ErrCodeInvalidParams,
				fmt.Sprintf("argument %s must be an integer", key), nil).
				WithContext("argument", key)
		}
		// -math.MinInt is exactly representable as a float64, math.MaxInt is not
		if v < math.MinInt || v >= -math.MinInt {
			return 0, errors.NewValidationError(errors.ErrCodeInvalidParams,
				fmt.Sprintf("argument %s is out of range", key), nil).
				WithContext("argument", key)
		}
		return int(v), nil
	default:
		return 0, wrongType(key, "integer", raw)
	}
}

// OptionalStringSlice returns the string array argument named key
func OptionalStringSlice(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, wrongType(fmt.Sprintf("%s[%d]", key, i), "string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, wrongType(key, "array", raw)
	}
}

func wrongType(key, want string, got any) error {
	return errors.NewValidationError(errors.ErrCodeInvalidParams,
		fmt.Sprintf("argument %s must be a %s, got %T", key, want, got), nil).
		WithContext("argument", key)
}

const maxLoggedString = 256

var sensitiveArgument = regexp.MustCompile(`(?i)(password|token|secret|key|auth|credential|cookie)`)

// SanitizeArguments returns a copy of args that is safe to log
func SanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		if sensitiveArgument.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			if len(val) > maxLoggedString {
				out[k] = TruncateUTF8(val, maxLoggedString) + "...[truncated]"
			} else {
				out[k] = val
			}
		case map[string]any:
			out[k] = SanitizeArguments(val)
		default:
			out[k] = val
		}
	}
	return out
}

// TruncateUTF8 returns at most n bytes of s without splitting a rune
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
