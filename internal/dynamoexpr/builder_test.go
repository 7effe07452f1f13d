package dynamoexpr

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/pkg/errors"
	tqtypes "github.com/theory-cloud/tablequery/pkg/types"
)

func newBuilder() *Builder {
	return NewBuilder(tqtypes.NewConverter())
}

func TestKeyConditionAndFilter(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.KeyCondition("PartitionKey", "=", "p"))
	require.NoError(t, b.KeyCondition("RowKey", ">=", "r1"))
	require.NoError(t, b.Filter("Status", "=", "open"))
	require.NoError(t, b.Filter("N", ">", 2))

	e := b.Build()
	assert.Equal(t, "PartitionKey = :v1 AND RowKey >= :v2", e.KeyCondition)
	assert.Equal(t, "#Status = :v3 AND N > :v4", e.Filter)
	assert.Equal(t, map[string]string{"#Status": "Status"}, e.Names)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2"}, e.Values[":v4"])
	assert.Empty(t, e.Update)
	assert.Nil(t, Optional(e.Update))
}

func TestReservedWordsAreEscapedOnce(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.Project("Name", "Timestamp", "Name", "Address.City"))

	e := b.Build()
	assert.Equal(t, "#Name, #Timestamp, #Name, Address.City", e.Projection)
	assert.Equal(t, map[string]string{"#Name": "Name", "#Timestamp": "Timestamp"}, e.Names)
	assert.Nil(t, e.Values, "an empty value map must be omitted from requests")
}

func TestLeadingUnderscoreGetsPlaceholder(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.Filter("_hidden", "=", true))

	e := b.Build()
	assert.Equal(t, "#n1 = :v1", e.Filter)
	assert.Equal(t, "_hidden", e.Names["#n1"])
}

func TestConditionsAndUpdates(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.ConditionExists("PartitionKey"))
	require.NoError(t, b.Condition("ETag", "=", "abc"))
	require.NoError(t, b.Set("N", 3))
	require.NoError(t, b.Set("Status", "done"))
	require.NoError(t, b.Remove("Old"))

	e := b.Build()
	assert.Equal(t, "attribute_exists(PartitionKey) AND ETag = :v1", e.Condition)
	assert.Equal(t, "SET N = :v2, #Status = :v3 REMOVE #Old", e.Update)

	nb := newBuilder()
	require.NoError(t, nb.ConditionNotExists("PartitionKey"))
	assert.Equal(t, "attribute_not_exists(PartitionKey)", nb.Build().Condition)
}

func TestBuilderRejectsBadInput(t *testing.T) {
	b := newBuilder()

	err := b.Filter("N", "LIKE", 1)
	assert.ErrorIs(t, err, errors.ErrInvalidOperator)

	err = b.Filter("N; DROP", "=", 1)
	assert.ErrorIs(t, err, errors.ErrInvalidUsage)

	err = b.Set("N", make(chan int))
	assert.ErrorIs(t, err, errors.ErrUnsupportedType)

	assert.Empty(t, b.Build().Filter)
}

func TestRangesAndAlternatives(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.KeyCondition("PartitionKey", "=", "p"))
	require.NoError(t, b.KeyBetween("RowKey", "a", "m"))
	require.NoError(t, b.ConditionAbsentOrEqual("PartitionKey", "ETag", "e1"))

	e := b.Build()
	assert.Equal(t, "PartitionKey = :v1 AND RowKey BETWEEN :v2 AND :v3", e.KeyCondition)
	assert.Equal(t, "(attribute_not_exists(PartitionKey) OR ETag = :v4)", e.Condition)
	assert.Len(t, e.Values, 4)
}

func TestNotEqualIsNormalised(t *testing.T) {
	b := newBuilder()
	require.NoError(t, b.Filter("N", "!=", 1))
	assert.Equal(t, "N <> :v1", b.Build().Filter)
}
