package odoo

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is the server's datetime wire format (UTC).
const DateTimeLayout = "2006-01-02 15:04:05"

// Record is one row returned by read or search_read.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() int64 { return AsInt(r["id"]) }

// Int returns field as an integer, 0 when unset.
func (r Record) Int(field string) int64 { return AsInt(r[field]) }

// Float returns field as a float, 0 when unset.
func (r Record) Float(field string) float64 { return AsFloat(r[field]) }

// String returns field as a string, "" when unset.
func (r Record) String(field string) string { return AsString(r[field]) }

// Bool returns field as a bool.
func (r Record) Bool(field string) bool { return AsBool(r[field]) }

// Many2OneID returns the id of a many2one field.
func (r Record) Many2OneID(field string) int64 { return AsInt(r[field]) }

// Many2OneName returns the display name of a many2one field.
func (r Record) Many2OneName(field string) string {
	if pair, ok := r[field].([]any); ok && len(pair) == 2 {
		return AsString(pair[1])
	}
	return ""
}

// Time parses a datetime field.
func (r Record) Time(field string) (time.Time, bool) { return ParseDateTime(r[field]) }

// AsInt decodes the integer forms the transports produce. A many2one
// [id, name] pair yields its id; false and nil yield 0.
func AsInt(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return int64(f)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n
	case []any:
		if len(x) > 0 {
			return AsInt(x[0])
		}
	}
	return 0
}

// AsFloat decodes a numeric value; false and nil yield 0.
func AsFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	}
	return 0
}

// AsString decodes a char field; false and nil yield "".
func AsString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case []byte:
		return string(x)
	}
	return ""
}

// AsBool decodes a boolean field.
func AsBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	}
	return false
}

// AsIDs decodes a list of ids.
func AsIDs(v any) []int64 {
	switch x := v.(type) {
	case []int64:
		return x
	case []int:
		out := make([]int64, len(x))
		for i, n := range x {
			out[i] = int64(n)
		}
		return out
	case []any:
		out := make([]int64, 0, len(x))
		for _, item := range x {
			out = append(out, AsInt(item))
		}
		return out
	case nil, bool:
		return nil
	default:
		if id := AsInt(v); id != 0 {
			return []int64{id}
		}
	}
	return nil
}

// AsRecords decodes a list of records.
func AsRecords(v any) []Record {
	items, ok := v.([]any)
	if !ok {
		if recs, ok := v.([]Record); ok {
			return recs
		}
		return nil
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		switch m := item.(type) {
		case map[string]any:
			out = append(out, Record(m))
		case Record:
			out = append(out, m)
		}
	}
	return out
}

var dateTimeLayouts = []string{
	DateTimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDateTime parses server datetimes (UTC) and ISO-8601 values.
func ParseDateTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// FormatDateTime renders t in the server's wire format.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(DateTimeLayout)
}

func int64sToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
