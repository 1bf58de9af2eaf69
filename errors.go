package miso

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below matches one of these through errors.Is.
var (
	// ErrValidation is matched by coercion failures under strict mode and malformed payloads.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is matched by lookups of absent row IDs or column names.
	ErrNotFound = errors.New("not found")

	// ErrStructural is matched by column-length mismatches, duplicate columns and duplicate IDs.
	ErrStructural = errors.New("structural error")

	// ErrTransport is matched by failures surfaced from an Importer.
	ErrTransport = errors.New("transport error")

	// ErrFetchInProgress is reported when Fetch is called while another fetch is outstanding.
	ErrFetchInProgress = errors.New("fetch already in progress")

	// ErrClosed is returned by operations on a closed View or Product.
	ErrClosed = errors.New("closed")
)

// ValidationError reports a value that could not be coerced to its column's type, or a
// payload that does not describe a table.
type ValidationError struct {
	Column string
	Value  interface{}
	Cause  error
}

func (e *ValidationError) Error() string {
	msg := "validation"
	if e.Column != "" {
		msg = fmt.Sprintf("column %q: cannot coerce %#v", e.Column, e.Value)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a reference to an absent row or column.
type NotFoundError struct {
	What string
	Key  interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.What, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StructuralError reports a mutation or construction that would break the table's shape.
type StructuralError struct {
	Message string
	Cause   error
}

func (e *StructuralError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StructuralError) Unwrap() error { return e.Cause }

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// TransportError wraps, verbatim, an error returned by an Importer.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func newStructuralError(format string, args ...interface{}) error {
	return &StructuralError{Message: fmt.Sprintf(format, args...)}
}

func rowNotFound(id RowID) error {
	return &NotFoundError{What: "row", Key: id}
}

func columnNotFound(name string) error {
	return &NotFoundError{What: "column", Key: name}
}
