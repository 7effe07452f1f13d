package dynamostore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/dynamostore"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/schema"
)

// localClient returns a client on DynamoDB Local, or skips the test when it is not running
func localClient(t *testing.T) *dynamodb.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in -short mode")
	}
	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("Skipping integration test (SKIP_INTEGRATION=true)")
	}
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
	)
	require.NoError(t, err)
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)}); err != nil {
		t.Skip("DynamoDB Local is not running at " + endpoint)
	}
	return client
}

func TestIntegrationRoundTrip(t *testing.T) {
	client := localClient(t)
	ctx := context.Background()
	table := "tq-" + uuid.NewString()[:8]

	m := schema.NewManager(client, schema.WithWait(30*time.Second, 100*time.Millisecond))
	require.NoError(t, m.EnsureTable(ctx, table))
	t.Cleanup(func() { _ = m.DeleteTable(context.Background(), table) })

	s := dynamostore.New(client, table, dynamostore.WithConsistentReads(true))

	added, err := s.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "a", Properties: map[string]any{"N": 1, "Name": "first"}}, core.ModeAdd)
	require.NoError(t, err)
	_, err = s.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "a"}, core.ModeAdd)
	assert.True(t, errors.IsAlreadyExists(err))

	_, err = s.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "a", ETag: "stale"}, core.ModeReplace)
	assert.True(t, errors.IsConflict(err))
	_, err = s.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "missing", ETag: "x"}, core.ModeReplace)
	assert.True(t, errors.IsNotFound(err))

	merged, err := s.Write(ctx, &core.Record{PartitionKey: "p", RowKey: "a", ETag: added.ETag, Properties: map[string]any{"N": 2}}, core.ModeMerge)
	require.NoError(t, err)
	assert.Equal(t, "first", merged.Properties["Name"])

	require.NoError(t, s.Submit(ctx, []core.Action{
		{Type: core.ActionAdd, Record: &core.Record{PartitionKey: "p", RowKey: "b", Properties: map[string]any{"N": 3}}},
		{Type: core.ActionAdd, Record: &core.Record{PartitionKey: "p", RowKey: "c", Properties: map[string]any{"N": 4}}},
	}))

	page, err := s.Query(ctx, core.QueryRequest{Filter: "PartitionKey = 'p' and N > 2"})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)

	require.NoError(t, s.Delete(ctx, "p", "a", merged.ETag))
	_, err = s.Get(ctx, "p", "a", nil)
	assert.True(t, errors.IsNotFound(err))
}
