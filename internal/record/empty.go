package record

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"reflect"
	"strings"
)

// IsEmpty is the single missing-value predicate used by the merger and the
// profiler. Nil, blank strings, zero-length collections and NaN are empty.
// Every other value, including 0, false and types it does not recognise, is
// non-empty.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case json.Number:
		return strings.TrimSpace(string(val)) == ""
	case float64:
		return math.IsNaN(val)
	case float32:
		return math.IsNaN(float64(val))
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case *Record:
		return val == nil || val.Len() == 0
	case driver.Valuer:
		return valuerIsEmpty(val)
	}
	return reflectIsEmpty(v)
}

// CountNonEmpty returns how many of r's fields hold a non-empty value.
func CountNonEmpty(r *Record) int {
	n := 0
	for _, k := range r.Fields() {
		v, _ := r.Get(k)
		if !IsEmpty(v) {
			n++
		}
	}
	return n
}

// valuerIsEmpty covers sql.Null* style wrappers. A Valuer that errors is kept.
func valuerIsEmpty(v driver.Valuer) (empty bool) {
	defer func() {
		if recover() != nil {
			empty = false
		}
	}()
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return true
	}
	inner, err := v.Value()
	if err != nil {
		return false
	}
	if _, ok := inner.(driver.Valuer); ok {
		return false
	}
	return IsEmpty(inner)
}

func reflectIsEmpty(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.IsNil() || rv.Len() == 0
	case reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	case reflect.Float32, reflect.Float64:
		return math.IsNaN(rv.Float())
	default:
		return false
	}
}
