package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Context is the opaque bag of entity fields carried by an Event.
type Context map[string]any

// Config is the per-action configuration map. Keys are handler specific.
type Config map[string]any

func (c Context) Has(key string) bool               { return has(c, key) }
func (c Context) String(key string) string          { return str(c, key) }
func (c Context) Int64(key string) (int64, bool)    { return toInt64(c[key]) }
func (c Context) Float(key string) (float64, bool)  { return toFloat(c[key]) }
func (c Context) Time(key string) (time.Time, bool) { return toTime(c[key]) }

func (c Config) Has(key string) bool               { return has(c, key) }
func (c Config) String(key string) string          { return str(c, key) }
func (c Config) Int64(key string) (int64, bool)    { return toInt64(c[key]) }
func (c Config) Float(key string) (float64, bool)  { return toFloat(c[key]) }
func (c Config) Time(key string) (time.Time, bool) { return toTime(c[key]) }

// Bool reads a boolean flag. Strings "true"/"1"/"yes" count as true.
func (c Config) Bool(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		}
	}
	return false
}

// Clone returns a shallow copy.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func has(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

func str(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// toFloat converts the numeric shapes produced by Go callers, JSON and YAML
// decoding. Numeric strings are accepted.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	f, ok := toFloat(v)
	if !ok || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// toTime accepts time.Time, RFC 3339 strings and plain dates.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
