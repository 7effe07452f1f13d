// Package errors defines error types and utilities for tablequery
package errors

import (
	"errors"
	"fmt"
)

// Common errors that can occur in tablequery operations
var (
	// ErrItemNotFound is returned when a point read addresses an absent entity
	ErrItemNotFound = errors.New("item not found")

	// ErrAlreadyExists is returned when an add collides with an existing key
	ErrAlreadyExists = errors.New("item already exists")

	// ErrConcurrencyConflict is returned when a write carries a stale concurrency token
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrUnrepresentable is returned when an expression cannot be compiled for the store.
	// Filters never surface it; merge patches and tag-only operations do.
	ErrUnrepresentable = errors.New("expression not representable")

	// ErrInvalidUsage is returned when a query chain or facade call is built incorrectly
	ErrInvalidUsage = errors.New("invalid usage")

	// ErrNoElements is returned by First/Single on an empty sequence
	ErrNoElements = errors.New("sequence contains no elements")

	// ErrMultipleElements is returned by Single/SingleOrDefault when a second element is observed
	ErrMultipleElements = errors.New("sequence contains more than one element")

	// ErrInvalidModel is returned when an entity struct is invalid
	ErrInvalidModel = errors.New("invalid model")

	// ErrMissingPrimaryKey is returned when an entity has no partition or row key slot
	ErrMissingPrimaryKey = errors.New("missing primary key")

	// ErrDuplicateProxy is returned when two fields bind to the same key slot
	ErrDuplicateProxy = errors.New("duplicate key proxy")

	// ErrInvalidTag is returned when a struct tag is invalid
	ErrInvalidTag = errors.New("invalid struct tag")

	// ErrUnsupportedType is returned when a field type is not supported
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrInvalidOperator is returned when an invalid query operator is used
	ErrInvalidOperator = errors.New("invalid query operator")

	// ErrBatchOperationFailed is returned when a bulk operation partially fails
	ErrBatchOperationFailed = errors.New("batch operation failed")

	// ErrTransactionFailed is returned when a transaction fails
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrTagSearchUnsupported is returned when a tag query targets a container without a tag index
	ErrTagSearchUnsupported = errors.New("tag search not supported by container")

	// ErrTableNotFound is returned when a table or container doesn't exist
	ErrTableNotFound = errors.New("table not found")
)

// QueryError represents a detailed error with context
type QueryError struct {
	Err     error
	Context map[string]any
	Op      string
	Table   string
}

// Error implements the error interface
func (e *QueryError) Error() string {
	// Table names and context stay out of the message; callers read them from the struct.
	return fmt.Sprintf("tablequery: %s operation failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target error
func (e *QueryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new QueryError
func NewError(op, table string, err error) *QueryError {
	return &QueryError{
		Op:    op,
		Table: table,
		Err:   err,
	}
}

// NewErrorWithContext creates a new QueryError with context
func NewErrorWithContext(op, table string, err error, context map[string]any) *QueryError {
	return &QueryError{
		Op:      op,
		Table:   table,
		Err:     err,
		Context: context,
	}
}

// Usage wraps ErrInvalidUsage with a reason.
func Usage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidUsage, fmt.Sprintf(format, args...))
}

// Unrepresentable wraps ErrUnrepresentable with a reason.
func Unrepresentable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnrepresentable, fmt.Sprintf(format, args...))
}

// IsNotFound checks if an error indicates an item was not found
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

// IsAlreadyExists checks if an error indicates a key collision on add
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if an error indicates an optimistic concurrency failure
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsUnrepresentable checks if an error indicates an expression the store cannot express
func IsUnrepresentable(err error) bool {
	return errors.Is(err, ErrUnrepresentable)
}

// IsUsage checks if an error indicates a chain-build or call-site usage error
func IsUsage(err error) bool {
	return errors.Is(err, ErrInvalidUsage)
}

// IsInvalidModel checks if an error indicates an invalid model
func IsInvalidModel(err error) bool {
	return errors.Is(err, ErrInvalidModel)
}

// TransactionError provides context for transactional failures.
//
// A failed chunk in a multi-chunk submission leaves earlier chunks committed; the error
// describes only the failing chunk as reported by the store.
type TransactionError struct {
	Err            error
	Operation      string
	Table          string
	Reason         string
	OperationIndex int
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	if e == nil {
		return "tablequery: transaction failed"
	}

	op := "transaction"
	if e.Operation != "" {
		op = fmt.Sprintf("%s operation %s", op, e.Operation)
	}
	if e.OperationIndex >= 0 {
		op = fmt.Sprintf("%s (index %d)", op, e.OperationIndex)
	}
	if e.Reason != "" {
		return fmt.Sprintf("tablequery: %s failed: %s", op, e.Reason)
	}
	return fmt.Sprintf("tablequery: %s failed", op)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
