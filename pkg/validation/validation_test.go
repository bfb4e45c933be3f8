package validation

import (
	stderrors "errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
)

func errorCode(err error) string {
	var structured *errors.StructuredError
	if stderrors.As(err, &structured) {
		return structured.Code
	}
	return ""
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "numeric id", input: "42", expected: "42"},
		{name: "uuid", input: "8d7c2f0e-5b1a-4d6e-9f3a-2c1b0a9e8d7c", expected: "8d7c2f0e-5b1a-4d6e-9f3a-2c1b0a9e8d7c"},
		{name: "surrounding whitespace", input: "  pizza-1 ", expected: "pizza-1"},
		{name: "empty", input: "", expectError: true},
		{name: "blank", input: "   ", expectError: true},
		{name: "slash", input: "1/2", expectError: true},
		{name: "traversal", input: "..", expectError: true},
		{name: "embedded traversal", input: "a..b", expectError: true},
		{name: "query", input: "1?userId=2", expectError: true},
		{name: "control character", input: "1\x00", expectError: true},
		{name: "space inside", input: "pizza 1", expectError: true},
		{name: "too long", input: strings.Repeat("a", MaxIDLength+1), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateID("id", tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error for %q, got %q", tt.input, got)
				}
				if code := errorCode(err); code != errors.ErrCodeInvalidID {
					t.Errorf("Expected code %s, got %s", errors.ErrCodeInvalidID, code)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestStringArguments(t *testing.T) {
	args := map[string]any{"userId": "u1", "count": float64(3), "nothing": nil}

	if v, err := RequireString(args, "userId"); err != nil || v != "u1" {
		t.Errorf("RequireString = %q, %v", v, err)
	}
	if _, err := RequireString(args, "missing"); errorCode(err) != errors.ErrCodeMissingArgument {
		t.Errorf("Expected missing argument error, got %v", err)
	}
	if _, err := RequireString(args, "nothing"); errorCode(err) != errors.ErrCodeMissingArgument {
		t.Errorf("Expected null to count as missing, got %v", err)
	}
	if _, err := RequireString(args, "count"); errorCode(err) != errors.ErrCodeInvalidParams {
		t.Errorf("Expected type error, got %v", err)
	}

	if v, err := OptionalString(args, "missing"); err != nil || v != "" {
		t.Errorf("OptionalString(missing) = %q, %v", v, err)
	}
	if v, err := OptionalString(args, "userId"); err != nil || v != "u1" {
		t.Errorf("OptionalString(userId) = %q, %v", v, err)
	}
}

func TestIntArguments(t *testing.T) {
	args := map[string]any{"quantity": float64(2), "half": 1.5, "native": 7, "word": "two"}

	if n, err := RequireInt(args, "quantity"); err != nil || n != 2 {
		t.Errorf("RequireInt(quantity) = %d, %v", n, err)
	}
	if n, err := RequireInt(args, "native"); err != nil || n != 7 {
		t.Errorf("RequireInt(native) = %d, %v", n, err)
	}
	if _, err := RequireInt(args, "half"); err == nil {
		t.Error("Expected fractional number to be rejected")
	}
	if _, err := RequireInt(args, "word"); err == nil {
		t.Error("Expected string to be rejected")
	}
	for _, v := range []float64{1e300, -1e300, 1 << 63, -(1 << 64)} {
		if _, err := RequireInt(map[string]any{"quantity": v}, "quantity"); err == nil {
			t.Errorf("Expected %g to be rejected as out of range", v)
		}
	}
	if n, err := RequireInt(map[string]any{"quantity": float64(-(1 << 30))}, "quantity"); err != nil || n != -(1<<30) {
		t.Errorf("RequireInt(-2^30) = %d, %v", n, err)
	}
	if _, err := RequireInt(args, "missing"); errorCode(err) != errors.ErrCodeMissingArgument {
		t.Errorf("Expected missing argument error, got %v", err)
	}
}

func TestOptionalStringSlice(t *testing.T) {
	args := map[string]any{
		"decoded": []any{"t1", "t2"},
		"typed":   []string{"t3"},
		"mixed":   []any{"t1", 2.0},
		"scalar":  "t1",
	}

	if got, err := OptionalStringSlice(args, "decoded"); err != nil || len(got) != 2 || got[1] != "t2" {
		t.Errorf("decoded = %v, %v", got, err)
	}
	if got, err := OptionalStringSlice(args, "typed"); err != nil || len(got) != 1 {
		t.Errorf("typed = %v, %v", got, err)
	}
	if got, err := OptionalStringSlice(args, "missing"); err != nil || got != nil {
		t.Errorf("missing = %v, %v", got, err)
	}
	if _, err := OptionalStringSlice(args, "mixed"); err == nil || !strings.Contains(err.Error(), "mixed[1]") {
		t.Errorf("Expected element error, got %v", err)
	}
	if _, err := OptionalStringSlice(args, "scalar"); err == nil {
		t.Error("Expected scalar to be rejected")
	}
}

func TestSanitizeArguments(t *testing.T) {
	if SanitizeArguments(nil) != nil {
		t.Error("Expected nil for nil input")
	}

	in := map[string]any{
		"userId":   "u1",
		"apiToken": "abc",
		"nickname": strings.Repeat("x", 300),
		"nested":   map[string]any{"password": "p"},
		"quantity": 2.0,
	}
	out := SanitizeArguments(in)

	if out["userId"] != "u1" || out["quantity"] != 2.0 {
		t.Errorf("Expected plain values to pass through, got %v", out)
	}
	if out["apiToken"] != "[REDACTED]" {
		t.Errorf("Expected token to be redacted, got %v", out["apiToken"])
	}
	if s := out["nickname"].(string); !strings.HasSuffix(s, "...[truncated]") {
		t.Errorf("Expected long string to be truncated, got %d chars", len(s))
	}
	multiByte := SanitizeArguments(map[string]any{"note": "x" + strings.Repeat("é", 200)})["note"].(string)
	if !utf8.ValidString(multiByte) {
		t.Errorf("Expected truncation on a rune boundary, got %q", multiByte)
	}
	if out["nested"].(map[string]any)["password"] != "[REDACTED]" {
		t.Error("Expected nested secrets to be redacted")
	}
	if in["apiToken"] != "abc" {
		t.Error("Input must not be modified")
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "pizza", 10, "pizza"},
		{"exact", "pizza", 5, "pizza"},
		{"ascii cut", "pizza", 3, "piz"},
		{"inside two byte rune", "caffè", 5, "caff"},
		{"after two byte rune", "caffè", 6, "caffè"},
		{"inside four byte rune", "a🍕b", 3, "a"},
		{"zero", "🍕", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateUTF8(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("TruncateUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("TruncateUTF8(%q, %d) returned invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}
