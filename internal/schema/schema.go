// Package schema checks loaded records against a JSON Schema document before
// they reach the merger.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/record"
)

// ErrInvalidRecord marks records rejected by the schema.
var ErrInvalidRecord = errors.New("record does not match schema")

// ValidationError names the first rejected record and every problem found in it.
type ValidationError struct {
	Index    int
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, strings.Join(e.Problems, "; "))
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidRecord).
func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// Validator holds a compiled schema. It is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// Compile parses a JSON Schema document.
func Compile(doc []byte) (*Validator, error) {
	if len(strings.TrimSpace(string(doc))) == 0 {
		return nil, errors.New("schema document is empty")
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate checks recs in order and stops at the first record that fails.
func (v *Validator) Validate(recs []*record.Record) error {
	for i, rec := range recs {
		result, err := v.schema.Validate(gojsonschema.NewGoLoader(rec.Map()))
		if err != nil {
			return fmt.Errorf("validate record %d: %w", i, err)
		}
		if result.Valid() {
			continue
		}
		problems := make([]string, len(result.Errors()))
		for j, desc := range result.Errors() {
			problems[j] = desc.String()
		}
		return &ValidationError{Index: i, Problems: problems}
	}
	return nil
}
