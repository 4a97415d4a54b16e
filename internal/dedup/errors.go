package dedup

import (
	"errors"
	"fmt"
)

// ErrMissingKeyField reports a record without the URL field needed for its key.
var ErrMissingKeyField = errors.New("missing key field")

// RecordError ties a failure to the input position of the offending record
// and the field that caused it.
type RecordError struct {
	Index int
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
