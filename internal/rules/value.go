package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coerce converts v to a number the way loosely typed rule data expects:
// nil and empty strings are 0, booleans are 0 or 1, numeric strings are
// parsed after trimming, single-element lists coerce their element, and
// anything else is NaN.
func Coerce(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case Number:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	case time.Duration:
		return float64(t.Milliseconds())
	case time.Time:
		return float64(t.UnixMilli())
	case string:
		return coerceString(t)
	case []any:
		switch len(t) {
		case 0:
			return 0
		case 1:
			return Coerce(t[0])
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

func coerceString(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	// ParseFloat accepts "inf", "nan" and underscores, none of which are numbers here.
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") || strings.Contains(s, "_") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToNumber reports whether v is a number or a non-empty numeric string.
func ToNumber(v any) (float64, bool) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return 0, false
	}
	if _, ok := v.(bool); ok {
		return 0, false
	}
	f := Coerce(v)
	return f, !math.IsNaN(f)
}

// Stringify renders v for text comparison. Whole floats print without a
// fractional part so 45 and "45" compare equal.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case Number:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i := range t {
			parts[i] = Stringify(t[i])
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case interface{ String() string }:
		return t.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
