package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/core"
)

func TestMockEntityStore(t *testing.T) {
	ctx := context.Background()
	m := new(MockEntityStore)
	rec := &core.Record{PartitionKey: "p", RowKey: "r"}
	m.On("Get", ctx, "p", "r", []string(nil)).Return(rec, nil)
	m.On("Get", ctx, "p", "missing", []string(nil)).Return(nil, errors.New("boom"))
	m.On("Capabilities").Return(core.Capabilities{MaxBatchSize: 10})

	got, err := m.Get(ctx, "p", "r", nil)
	require.NoError(t, err)
	assert.Same(t, rec, got)

	got, err = m.Get(ctx, "p", "missing", nil)
	assert.Error(t, err)
	assert.Nil(t, got)

	assert.Equal(t, 10, m.Capabilities().MaxBatchSize)
	m.AssertExpectations(t)
}

func TestMockContainerSequences(t *testing.T) {
	ctx := context.Background()
	m := new(MockContainer)
	listErr := errors.New("list failed")
	m.On("List", ctx, "p/", true).Return([]blob.Entry{{Name: "p/a"}, {Name: "p/b"}}, listErr)
	m.On("FindByTags", ctx, "Status = 'open'").Return([]string{"p/a"}, nil)

	var names []string
	var last error
	for e, err := range m.List(ctx, "p/", true) {
		if err != nil {
			last = err
			break
		}
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"p/a", "p/b"}, names)
	assert.Equal(t, listErr, last)

	var found []string
	for name, err := range m.FindByTags(ctx, "Status = 'open'") {
		require.NoError(t, err)
		found = append(found, name)
	}
	assert.Equal(t, []string{"p/a"}, found)
}

func TestMockDynamoDBClient(t *testing.T) {
	ctx := context.Background()
	m := new(MockDynamoDBClient)
	m.On("PutItem", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil).Once()
	m.On("PutItem", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	out, err := m.PutItem(ctx, &dynamodb.PutItemInput{})
	require.NoError(t, err)
	assert.NotNil(t, out)

	out, err = m.PutItem(ctx, &dynamodb.PutItemInput{})
	assert.Error(t, err)
	assert.Nil(t, out)
}

func TestResultPanicsOnWrongType(t *testing.T) {
	assert.Panics(t, func() {
		result[*core.Record](mock.Arguments{"not a record"}, 0)
	})
}
