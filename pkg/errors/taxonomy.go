package errors

import (
	"fmt"
	"sort"
	"strings"
)

// FieldViolation is a single field-qualified validation failure.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violation found, not just the first one.
type ValidationError struct {
	Subject    string
	Violations []FieldViolation
}

// NewValidationError creates an empty ValidationError for subject.
func NewValidationError(subject string) *ValidationError {
	return &ValidationError{Subject: subject}
}

// Add records a violation for field.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, FieldViolation{Field: field, Message: message})
}

// Addf records a violation with a formatted message.
func (e *ValidationError) Addf(field, format string, args ...interface{}) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// Merge appends the violations of other, prefixing their fields.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	if other == nil {
		return
	}
	for _, v := range other.Violations {
		field := v.Field
		if prefix != "" {
			field = prefix + "." + field
		}
		e.Add(field, v.Message)
	}
}

// HasViolations reports whether anything was recorded.
func (e *ValidationError) HasViolations() bool {
	return e != nil && len(e.Violations) > 0
}

// OrNil returns e as an error when it has violations and nil otherwise, so
// callers can build up a ValidationError and return it unconditionally.
func (e *ValidationError) OrNil() error {
	if !e.HasViolations() {
		return nil
	}
	return e
}

// Fields returns the sorted list of violated field names.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		fields = append(fields, v.Field)
	}
	sort.Strings(fields)
	return fields
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	subject := e.Subject
	if subject == "" {
		subject = "invalid input"
	}
	return fmt.Sprintf("%s: %s: %s", ErrorTypeValidation, subject, strings.Join(parts, "; "))
}

// ErrorType implements typed.
func (e *ValidationError) ErrorType() ErrorType { return ErrorTypeValidation }

// QueueConflictError is returned when a source already has a queued or
// running sync. ItemID is the existing item.
type QueueConflictError struct {
	DataSourceID string
	ItemID       string
}

func (e *QueueConflictError) Error() string {
	return fmt.Sprintf("%s: data source %s already has sync %s in flight", ErrorTypeConflict, e.DataSourceID, e.ItemID)
}

// ErrorType implements typed.
func (e *QueueConflictError) ErrorType() ErrorType { return ErrorTypeConflict }

// ConnectionError is a network or auth failure talking to a source.
type ConnectionError struct {
	DataSourceID string
	Op           string
	Cause        error
}

// NewConnectionError wraps cause as a ConnectionError.
func NewConnectionError(dataSourceID, op string, cause error) *ConnectionError {
	return &ConnectionError{DataSourceID: dataSourceID, Op: op, Cause: cause}
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: data source %s: %v", ErrorTypeConnection, e.DataSourceID, e.Cause)
	}
	return fmt.Sprintf("%s: data source %s: %s: %v", ErrorTypeConnection, e.DataSourceID, e.Op, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ErrorType implements typed.
func (e *ConnectionError) ErrorType() ErrorType { return ErrorTypeConnection }

// TransformationError rejects a single mapping rule application.
type TransformationError struct {
	RuleID string
	Field  string
	Cause  error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("%s: rule %s (%s): %v", ErrorTypeTransformation, e.RuleID, e.Field, e.Cause)
}

func (e *TransformationError) Unwrap() error { return e.Cause }

// ErrorType implements typed.
func (e *TransformationError) ErrorType() ErrorType { return ErrorTypeTransformation }

// TimeoutError means the executor exceeded its per-item budget. It
// aggregates as a connection failure.
type TimeoutError struct {
	DataSourceID string
	Budget       string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: data source %s exceeded %s", ErrorTypeTimeout, e.DataSourceID, e.Budget)
}

// ErrorType implements typed.
func (e *TimeoutError) ErrorType() ErrorType { return ErrorTypeConnection }

// Timeout reports that this is a timeout, for callers that distinguish it.
func (e *TimeoutError) Timeout() bool { return true }

// ErrNotFound is the sentinel for missing entities.
var ErrNotFound = New(ErrorTypeNotFound, "not found")

// NotFound returns an ErrorTypeNotFound error that matches ErrNotFound.
func NotFound(kind, id string) error {
	return Wrap(ErrNotFound, ErrorTypeNotFound, fmt.Sprintf("%s %s", kind, id))
}
