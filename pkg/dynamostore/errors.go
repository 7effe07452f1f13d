package dynamostore

import (
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
)

const reasonConditionFailed = "ConditionalCheckFailed"

// mapError translates service errors that have a sentinel
func mapError(err error) error {
	var notFound *types.ResourceNotFoundException
	if stderrors.As(err, &notFound) {
		return errors.ErrTableNotFound
	}
	return fmt.Errorf("dynamodb: %w", err)
}

// writeError maps a failed precondition of a single write
func writeError(err error, mode core.WriteMode) error {
	var failed *types.ConditionalCheckFailedException
	if !stderrors.As(err, &failed) {
		return mapError(err)
	}
	return conditionFailure(mode, len(failed.Item) > 0)
}

func deleteError(err error) error {
	var failed *types.ConditionalCheckFailedException
	if stderrors.As(err, &failed) {
		return errors.ErrConcurrencyConflict
	}
	return mapError(err)
}

// conditionFailure names the sentinel of a failed write precondition. exists reports
// whether the service returned the current item.
func conditionFailure(mode core.WriteMode, exists bool) error {
	switch mode {
	case core.ModeAdd:
		return errors.ErrAlreadyExists
	case core.ModeReplace, core.ModeMerge:
		if !exists {
			return errors.ErrItemNotFound
		}
		return errors.ErrConcurrencyConflict
	default:
		return errors.ErrTransactionFailed
	}
}

// transactionError reports the first cancelled action of a TransactWriteItems call
func transactionError(err error, actions []core.Action) error {
	var cancelled *types.TransactionCanceledException
	if !stderrors.As(err, &cancelled) {
		return mapError(err)
	}

	for i, reason := range cancelled.CancellationReasons {
		code := aws.ToString(reason.Code)
		if code == "" || code == "None" || i >= len(actions) {
			continue
		}
		cause := errors.ErrTransactionFailed
		if code == reasonConditionFailed {
			if actions[i].Type == core.ActionDelete {
				cause = errors.ErrConcurrencyConflict
			} else {
				cause = conditionFailure(actions[i].Type.Mode(), len(reason.Item) > 0)
			}
		}
		wrapped := errors.ErrTransactionFailed
		if cause != errors.ErrTransactionFailed {
			wrapped = fmt.Errorf("%w: %w", errors.ErrTransactionFailed, cause)
		}
		return &errors.TransactionError{
			Operation:      actions[i].Type.String(),
			OperationIndex: i,
			Reason:         code,
			Err:            wrapped,
		}
	}
	return &errors.TransactionError{
		OperationIndex: -1,
		Reason:         "transaction cancelled",
		Err:            errors.ErrTransactionFailed,
	}
}
