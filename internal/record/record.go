// Package record defines the schema-free product record that flows through the
// deduplication pipeline. A Record is an ordered field→value container so that
// writers can reproduce the source column order.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record maps field names to values while remembering insertion order.
// The zero value is ready to use.
type Record struct {
	keys   []string
	values map[string]any
}

// New returns an empty Record.
func New() *Record {
	return &Record{values: make(map[string]any)}
}

// Set assigns v to field, appending the field if it is new.
func (r *Record) Set(field string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[field]; !ok {
		r.keys = append(r.keys, field)
	}
	r.values[field] = v
}

// Get returns the value stored under field and whether the field exists.
func (r *Record) Get(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[field]
	return v, ok
}

// Has reports whether field is present, regardless of its value.
func (r *Record) Has(field string) bool {
	_, ok := r.Get(field)
	return ok
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Clone returns a copy whose field list and value map are independent of r.
// Values themselves are shared; records treat them as immutable.
func (r *Record) Clone() *Record {
	out := &Record{
		keys:   make([]string, 0, r.Len()),
		values: make(map[string]any, r.Len()),
	}
	if r == nil {
		return out
	}
	out.keys = append(out.keys, r.keys...)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// Map returns a plain map copy of the record.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the record as a JSON object with fields in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Fields() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal field name %q: %w", k, err)
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the order of its top-level
// fields. Numbers become int64 when integral and float64 otherwise.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read record start: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}
	*r = Record{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read field name: %w", err)
		}
		field, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected field token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decode field %q: %w", field, err)
		}
		r.Set(field, normalizeNumbers(v))
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read record end: %w", err)
	}
	return nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []any:
		for i := range val {
			val[i] = normalizeNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumbers(val[k])
		}
		return val
	default:
		return v
	}
}
