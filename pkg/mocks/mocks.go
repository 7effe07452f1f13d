// Package mocks provides testify mocks for the tablequery store boundaries and the AWS
// SDK operations the adapters use.
//
// # Store Mocks
//
// MockEntityStore and MockContainer stand in for the stores behind a table facade:
//
//	st := new(mocks.MockEntityStore)
//	st.On("Get", mock.Anything, "p", "r", []string(nil)).Return(rec, nil)
//	st.On("Capabilities").Return(core.Capabilities{MaxBatchSize: 100})
//
//	table, _ := store.NewTableWithStore[Widget]("widgets", st)
//	w, err := table.Get(ctx, "p", "r")
//	st.AssertExpectations(t)
//
// # AWS SDK Level Mocking
//
// MockDynamoDBClient and MockS3Client record the request inputs, so tests can assert on
// the expressions an adapter sends:
//
//	client := new(mocks.MockDynamoDBClient)
//	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
//		return *in.ConditionExpression == "attribute_not_exists(PartitionKey)"
//	})).Return(&dynamodb.PutItemOutput{}, nil)
//
// # Tips
//
// 1. Use mock.Anything when you don't need to assert on specific arguments
// 2. Use mock.MatchedBy for custom argument matching
// 3. Always assert expectations were met with AssertExpectations
package mocks

import "github.com/stretchr/testify/mock"

// Helper type aliases for convenience
type (
	// EntityStore is an alias for MockEntityStore
	EntityStore = MockEntityStore

	// Container is an alias for MockContainer
	Container = MockContainer

	// DynamoDBClient is an alias for MockDynamoDBClient
	DynamoDBClient = MockDynamoDBClient

	// S3Client is an alias for MockS3Client
	S3Client = MockS3Client
)

// result returns argument i of args as a T, or the zero T when the mock returned nil
func result[T any](args mock.Arguments, i int) T {
	var zero T
	v := args.Get(i)
	if v == nil {
		return zero
	}
	out, ok := v.(T)
	if !ok {
		panic("mocks: unexpected return type")
	}
	return out
}
