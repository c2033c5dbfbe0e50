// Package timeutil parses the timestamps found in equipment event data and
// provides the JSON time types used by rules and alerts.
package timeutil

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

// Unit selects the unit returned by Duration.
type Unit string

const (
	Milliseconds Unit = "milliseconds"
	Seconds      Unit = "seconds"
	Minutes      Unit = "minutes"
	Hours        Unit = "hours"
	Days         Unit = "days"
)

// layouts tried in order before the lenient fallback. Day-first layouts come
// before month-first ones because exported equipment reports use dd/mm/yyyy.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
}

var lenient = &now.Config{
	WeekStartDay: time.Monday,
	TimeLocation: time.UTC,
	TimeFormats:  []string{"2006-01-02", "2006/01/02", "2006.01.02", "15:04:05", "15:04"},
}

// Parse converts v to a time. It accepts time.Time, *time.Time, epoch
// milliseconds (any numeric type or numeric string) and date strings.
// The second result is false when v cannot be interpreted.
func Parse(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case Time:
		return t.Time, !t.IsZero()
	case *Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.Time, !t.IsZero()
	case int:
		return FromMillis(int64(t)), true
	case int64:
		return FromMillis(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, false
		}
		return FromMillis(int64(t)), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return FromMillis(int64(f)), true
	case string:
		return ParseString(t)
	default:
		return time.Time{}, false
	}
}

// ParseString parses a date string or a numeric epoch-millisecond string.
func ParseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromMillis(ms), true
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	if t, err := lenient.Parse(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// FromMillis converts epoch milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Format renders t as RFC 3339 in UTC, or "" for the zero time.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Duration returns b-a expressed in unit. Unknown units return milliseconds.
func Duration(a, b time.Time, unit Unit) float64 {
	d := b.Sub(a)
	switch unit {
	case Seconds:
		return d.Seconds()
	case Minutes:
		return d.Minutes()
	case Hours:
		return d.Hours()
	case Days:
		return d.Hours() / 24
	default:
		return float64(d) / float64(time.Millisecond)
	}
}

// TruncateMinute drops seconds and below.
func TruncateMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// Bucket returns the index of the size-wide bucket containing t, that is
// floor(t / size). A non-positive size yields t in epoch milliseconds.
func Bucket(t time.Time, size time.Duration) int64 {
	if size <= 0 {
		return t.UnixMilli()
	}
	ns := t.UnixNano()
	q := ns / int64(size)
	if ns%int64(size) < 0 {
		q--
	}
	return q
}

// Time is a JSON timestamp that reads ISO-8601 strings or epoch
// milliseconds and writes RFC 3339. The zero value marshals as null.
type Time struct {
	time.Time
}

// NewTime wraps t.
func NewTime(t time.Time) Time {
	return Time{Time: t}
}

// Ptr returns a pointer to a Time wrapping t, or nil for the zero time.
func Ptr(t time.Time) *Time {
	if t.IsZero() {
		return nil
	}
	return &Time{Time: t}
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(Format(t.Time))
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		t.Time = time.Time{}
		return nil
	}
	parsed, ok := Parse(v)
	if !ok {
		return fmt.Errorf("invalid timestamp %s", string(b))
	}
	t.Time = parsed
	return nil
}

// Millis is a duration written to JSON as a number of milliseconds. Input
// may also be a Go duration string such as "5m".
type Millis time.Duration

// Std converts to time.Duration.
func (m Millis) Std() time.Duration {
	return time.Duration(m)
}

func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case nil:
		*m = 0
	case float64:
		*m = Millis(time.Duration(value * float64(time.Millisecond)))
	case string:
		if d, err := time.ParseDuration(value); err == nil {
			*m = Millis(d)
			return nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		*m = Millis(time.Duration(f * float64(time.Millisecond)))
	default:
		return fmt.Errorf("invalid duration value: %v (type %T)", v, v)
	}
	return nil
}
