package dynamostore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/dynamostore"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/mocks"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*dynamostore.Store, *mocks.MockDynamoDBClient) {
	t.Helper()
	client := new(mocks.MockDynamoDBClient)
	n := 0
	s := dynamostore.New(client, "widgets",
		dynamostore.WithClock(func() time.Time { return fixedNow }),
		dynamostore.WithTokenSource(func() string {
			n++
			return fmt.Sprintf("t%d", n)
		}),
	)
	t.Cleanup(func() { client.AssertExpectations(t) })
	return s, client
}

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func num(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func item(pk, rk, etag string, props map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{
		"PartitionKey": str(pk),
		"RowKey":       str(rk),
		"ETag":         str(etag),
		"Timestamp":    str("2024-05-01T09:00:00Z"),
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)

	var in *dynamodb.GetItemInput
	client.On("GetItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.GetItemInput)
	}).Return(&dynamodb.GetItemOutput{Item: item("p", "r", "e1", map[string]types.AttributeValue{"N": num("3")})}, nil).Once()

	rec, err := st.Get(ctx, "p", "r", nil)
	require.NoError(t, err)
	assert.Equal(t, "widgets", aws.ToString(in.TableName))
	assert.Nil(t, in.ProjectionExpression)
	assert.Equal(t, "e1", rec.ETag)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, map[string]any{"N": int64(3)}, rec.Properties)

	client.On("GetItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.GetItemInput)
	}).Return(&dynamodb.GetItemOutput{}, nil).Once()
	_, err = st.Get(ctx, "p", "missing", []string{"Name"})
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, "PartitionKey, RowKey, ETag, #Timestamp, #Name", aws.ToString(in.ProjectionExpression))
	assert.Equal(t, map[string]string{"#Timestamp": "Timestamp", "#Name": "Name"}, in.ExpressionAttributeNames)
}

func TestWriteAdd(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)

	var in *dynamodb.PutItemInput
	client.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.PutItemInput)
	}).Return(&dynamodb.PutItemOutput{}, nil).Once()

	stored, err := st.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "r", Properties: map[string]any{"N": 1}}, core.ModeAdd)
	require.NoError(t, err)
	assert.Equal(t, "t1", stored.ETag)
	assert.Equal(t, fixedNow, stored.Timestamp)

	assert.Equal(t, "attribute_not_exists(PartitionKey)", aws.ToString(in.ConditionExpression))
	assert.Equal(t, types.ReturnValuesOnConditionCheckFailureAllOld, in.ReturnValuesOnConditionCheckFailure)
	assert.Equal(t, str("t1"), in.Item["ETag"])
	assert.Equal(t, str("2024-05-01T10:00:00.000000000Z"), in.Item["Timestamp"])
	assert.Equal(t, num("1"), in.Item["N"])

	client.On("PutItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}).Once()
	_, err = st.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "r"}, core.ModeAdd)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestWriteReplace(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)
	rec := &core.Record{PartitionKey: "p", RowKey: "r", ETag: "e1", Properties: map[string]any{"N": 2}}

	var in *dynamodb.PutItemInput
	client.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.PutItemInput)
	}).Return(&dynamodb.PutItemOutput{}, nil).Once()
	_, err := st.Write(ctx, rec, core.ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, "attribute_exists(PartitionKey) AND ETag = :v1", aws.ToString(in.ConditionExpression))
	assert.Equal(t, str("e1"), in.ExpressionAttributeValues[":v1"])

	client.On("PutItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Item: item("p", "r", "e9", nil)}).Once()
	_, err = st.Write(ctx, rec, core.ModeReplace)
	assert.True(t, errors.IsConflict(err), "the current item came back, so its ETag differs")

	client.On("PutItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{}).Once()
	_, err = st.Write(ctx, rec, core.ModeReplace)
	assert.True(t, errors.IsNotFound(err))
}

func TestWriteUpsertIsUnconditional(t *testing.T) {
	st, client := newStore(t)

	var in *dynamodb.PutItemInput
	client.On("PutItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.PutItemInput)
	}).Return(&dynamodb.PutItemOutput{}, nil).Once()
	_, err := st.Write(context.Background(), &core.Record{PartitionKey: "p", RowKey: "r", ETag: "ignored"}, core.ModeUpsert)
	require.NoError(t, err)
	assert.Nil(t, in.ConditionExpression)
	assert.Empty(t, in.ReturnValuesOnConditionCheckFailure)
	assert.Nil(t, in.ExpressionAttributeValues)
}

func TestWriteMerge(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)

	var in *dynamodb.UpdateItemInput
	client.On("UpdateItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.UpdateItemInput)
	}).Return(&dynamodb.UpdateItemOutput{
		Attributes: item("p", "r", "t1", map[string]types.AttributeValue{"N": num("3"), "Kept": str("x")}),
	}, nil).Once()

	stored, err := st.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "r", ETag: "e1", Properties: map[string]any{"N": 3}}, core.ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, "SET N = :v1, ETag = :v2, #Timestamp = :v3", aws.ToString(in.UpdateExpression))
	assert.Equal(t, "attribute_exists(PartitionKey) AND ETag = :v4", aws.ToString(in.ConditionExpression))
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	assert.Equal(t, map[string]types.AttributeValue{"PartitionKey": str("p"), "RowKey": str("r")}, in.Key)
	assert.Equal(t, map[string]any{"N": int64(3), "Kept": "x"}, stored.Properties)
	assert.Equal(t, "t1", stored.ETag)

	client.On("UpdateItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{}).Once()
	_, err = st.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "gone", ETag: "e1"}, core.ModeMerge)
	assert.True(t, errors.IsNotFound(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)

	var in *dynamodb.DeleteItemInput
	client.On("DeleteItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.DeleteItemInput)
	}).Return(&dynamodb.DeleteItemOutput{}, nil).Once()
	require.NoError(t, st.Delete(ctx, "p", "r", ""))
	assert.Nil(t, in.ConditionExpression)

	client.On("DeleteItem", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.DeleteItemInput)
	}).Return(nil, &types.ConditionalCheckFailedException{}).Once()
	err := st.Delete(ctx, "p", "r", "stale")
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, "(attribute_not_exists(PartitionKey) OR ETag = :v1)", aws.ToString(in.ConditionExpression))
}

func TestQueryUsesKeyConditions(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)

	var first, second *dynamodb.QueryInput
	client.On("Query", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		first = args.Get(1).(*dynamodb.QueryInput)
	}).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{item("p", "b", "e", map[string]types.AttributeValue{"N": num("5")})},
		LastEvaluatedKey: map[string]types.AttributeValue{"PartitionKey": str("p"), "RowKey": str("b")},
	}, nil).Once()

	page, err := st.Query(ctx, core.QueryRequest{
		Filter:   "PartitionKey = 'p' and RowKey >= 'a' and RowKey <= 'm' and N > 2",
		PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.NotEmpty(t, page.Continuation)

	assert.Equal(t, "PartitionKey = :v1 AND RowKey BETWEEN :v2 AND :v3", aws.ToString(first.KeyConditionExpression))
	assert.Equal(t, "N > :v4", aws.ToString(first.FilterExpression))
	assert.Equal(t, int32(10), aws.ToInt32(first.Limit))
	assert.Nil(t, first.ExclusiveStartKey)

	client.On("Query", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		second = args.Get(1).(*dynamodb.QueryInput)
	}).Return(&dynamodb.QueryOutput{}, nil).Once()
	page, err = st.Query(ctx, core.QueryRequest{
		Filter:       "PartitionKey = 'p'",
		Continuation: page.Continuation,
		PageSize:     10,
		Limit:        3,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Continuation)
	assert.Equal(t, map[string]types.AttributeValue{"PartitionKey": str("p"), "RowKey": str("b")}, second.ExclusiveStartKey)
	assert.Equal(t, int32(3), aws.ToInt32(second.Limit), "the caller's limit caps the page")
}

func TestQueryChecksSurplusKeyClausesLocally(t *testing.T) {
	st, client := newStore(t)

	var in *dynamodb.QueryInput
	client.On("Query", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.QueryInput)
	}).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		item("p", "b", "e", nil),
		item("p", "d", "e", nil),
	}}, nil).Once()

	page, err := st.Query(context.Background(), core.QueryRequest{Clauses: []core.Clause{
		{Field: "PartitionKey", Op: "=", Value: "p"},
		{Field: "RowKey", Op: ">", Value: "a"},
		{Field: "RowKey", Op: ">", Value: "c"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "PartitionKey = :v1 AND RowKey > :v2", aws.ToString(in.KeyConditionExpression))
	assert.Nil(t, in.FilterExpression)
	assert.Nil(t, in.Limit)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "d", page.Records[0].RowKey)
}

func TestQueryWithoutPartitionScans(t *testing.T) {
	st, client := newStore(t)

	var in *dynamodb.ScanInput
	client.On("Scan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.ScanInput)
	}).Return(&dynamodb.ScanOutput{}, nil).Once()

	_, err := st.Query(context.Background(), core.QueryRequest{
		Clauses: []core.Clause{{Field: "RowKey", Op: ">", Value: "a"}, {Field: "Status", Op: "=", Value: "open"}},
		Fields:  []string{"Status"},
	})
	require.NoError(t, err)
	assert.Equal(t, "RowKey > :v1 AND #Status = :v2", aws.ToString(in.FilterExpression))
	assert.Equal(t, "PartitionKey, RowKey, ETag, #Timestamp, #Status", aws.ToString(in.ProjectionExpression))
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)

	_, err := st.Query(ctx, core.QueryRequest{Continuation: "%%%"})
	assert.True(t, errors.IsUsage(err))

	client.On("Scan", mock.Anything, mock.Anything).
		Return(nil, &types.ResourceNotFoundException{Message: aws.String("no table")}).Once()
	_, err = st.Query(ctx, core.QueryRequest{})
	assert.ErrorIs(t, err, errors.ErrTableNotFound)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)
	actions := []core.Action{
		{Type: core.ActionAdd, Record: &core.Record{PartitionKey: "p", RowKey: "a"}},
		{Type: core.ActionReplace, Record: &core.Record{PartitionKey: "q", RowKey: "b", ETag: "e1"}},
		{Type: core.ActionMerge, Record: &core.Record{PartitionKey: "q", RowKey: "c", Properties: map[string]any{"N": 1}}},
		{Type: core.ActionDelete, Record: &core.Record{PartitionKey: "q", RowKey: "d", ETag: "e2"}},
	}

	var in *dynamodb.TransactWriteItemsInput
	client.On("TransactWriteItems", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in = args.Get(1).(*dynamodb.TransactWriteItemsInput)
	}).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
	require.NoError(t, st.Submit(ctx, actions))

	require.Len(t, in.TransactItems, 4)
	assert.NotEmpty(t, aws.ToString(in.ClientRequestToken))
	assert.Equal(t, "attribute_not_exists(PartitionKey)", aws.ToString(in.TransactItems[0].Put.ConditionExpression))
	assert.Equal(t, "attribute_exists(PartitionKey) AND ETag = :v1", aws.ToString(in.TransactItems[1].Put.ConditionExpression))
	assert.Equal(t, "attribute_exists(PartitionKey)", aws.ToString(in.TransactItems[2].Update.ConditionExpression))
	assert.NotNil(t, in.TransactItems[3].Delete)
	assert.Equal(t, dynamostore.MaxTransactionItems, st.Capabilities().MaxBatchSize)
	assert.False(t, st.Capabilities().SinglePartitionTransactions)
}

func TestSubmitCancellation(t *testing.T) {
	ctx := context.Background()
	st, client := newStore(t)
	actions := []core.Action{
		{Type: core.ActionUpsert, Record: &core.Record{PartitionKey: "p", RowKey: "a"}},
		{Type: core.ActionReplace, Record: &core.Record{PartitionKey: "p", RowKey: "b", ETag: "stale"}},
	}

	client.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed"), Item: item("p", "b", "e1", nil)},
		},
	}).Once()

	err := st.Submit(ctx, actions)
	var txErr *errors.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 1, txErr.OperationIndex)
	assert.Equal(t, "Replace", txErr.Operation)
	assert.ErrorIs(t, err, errors.ErrTransactionFailed)
	assert.True(t, errors.IsConflict(err))
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	assert.True(t, errors.IsUsage(st.Submit(ctx, nil)))

	many := make([]core.Action, dynamostore.MaxTransactionItems+1)
	for i := range many {
		many[i] = core.Action{Type: core.ActionUpsert, Record: &core.Record{PartitionKey: "p", RowKey: fmt.Sprint(i)}}
	}
	assert.True(t, errors.IsUsage(st.Submit(ctx, many)))
	assert.True(t, errors.IsUsage(st.Submit(ctx, []core.Action{{Type: core.ActionAdd}})))
}
