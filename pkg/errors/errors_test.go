package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "ErrItemNotFound", err: ErrItemNotFound, expected: "item not found"},
		{name: "ErrAlreadyExists", err: ErrAlreadyExists, expected: "item already exists"},
		{name: "ErrConcurrencyConflict", err: ErrConcurrencyConflict, expected: "concurrency conflict"},
		{name: "ErrUnrepresentable", err: ErrUnrepresentable, expected: "expression not representable"},
		{name: "ErrInvalidUsage", err: ErrInvalidUsage, expected: "invalid usage"},
		{name: "ErrNoElements", err: ErrNoElements, expected: "sequence contains no elements"},
		{name: "ErrMultipleElements", err: ErrMultipleElements, expected: "sequence contains more than one element"},
		{name: "ErrInvalidModel", err: ErrInvalidModel, expected: "invalid model"},
		{name: "ErrMissingPrimaryKey", err: ErrMissingPrimaryKey, expected: "missing primary key"},
		{name: "ErrTagSearchUnsupported", err: ErrTagSearchUnsupported, expected: "tag search not supported by container"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.err)
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestQueryError_Error(t *testing.T) {
	err := NewErrorWithContext("Get", "customers", ErrItemNotFound, map[string]any{"pk": "secret"})

	assert.Equal(t, "tablequery: Get operation failed: item not found", err.Error())
	assert.NotContains(t, err.Error(), "customers")
	assert.NotContains(t, err.Error(), "secret")
}

func TestQueryError_UnwrapAndIs(t *testing.T) {
	err := NewError("Update", "orders", fmt.Errorf("wrapped: %w", ErrConcurrencyConflict))

	assert.True(t, errors.Is(err, ErrConcurrencyConflict))
	assert.True(t, err.Is(ErrConcurrencyConflict))
	assert.False(t, err.Is(ErrItemNotFound))
	require.NotNil(t, err.Unwrap())
}

func TestHelpers(t *testing.T) {
	tests := []struct {
		err   error
		check func(error) bool
		name  string
		want  bool
	}{
		{name: "not found direct", err: ErrItemNotFound, check: IsNotFound, want: true},
		{name: "not found wrapped", err: NewError("Get", "t", ErrItemNotFound), check: IsNotFound, want: true},
		{name: "not found nil", err: nil, check: IsNotFound, want: false},
		{name: "already exists", err: fmt.Errorf("add: %w", ErrAlreadyExists), check: IsAlreadyExists, want: true},
		{name: "conflict", err: ErrConcurrencyConflict, check: IsConflict, want: true},
		{name: "conflict mismatch", err: ErrItemNotFound, check: IsConflict, want: false},
		{name: "unrepresentable helper", err: Unrepresentable("field %s", "x"), check: IsUnrepresentable, want: true},
		{name: "usage helper", err: Usage("take must be positive"), check: IsUsage, want: true},
		{name: "invalid model", err: ErrInvalidModel, check: IsInvalidModel, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.err))
		})
	}
}

func TestTransactionError(t *testing.T) {
	t.Run("nil receiver", func(t *testing.T) {
		var err *TransactionError
		assert.Equal(t, "tablequery: transaction failed", err.Error())
		assert.Nil(t, err.Unwrap())
	})

	t.Run("with index and reason", func(t *testing.T) {
		err := &TransactionError{
			Operation:      "Delete",
			OperationIndex: 3,
			Reason:         "ConditionalCheckFailed",
			Err:            ErrConcurrencyConflict,
		}
		assert.Equal(t, "tablequery: transaction operation Delete (index 3) failed: ConditionalCheckFailed", err.Error())
		assert.True(t, errors.Is(err, ErrConcurrencyConflict))
	})

	t.Run("without index", func(t *testing.T) {
		err := &TransactionError{OperationIndex: -1, Err: ErrTransactionFailed}
		assert.Equal(t, "tablequery: transaction failed", err.Error())
	})
}
