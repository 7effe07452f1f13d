// Package schema creates and removes the DynamoDB tables entity stores run on. Every
// table has the string hash key PartitionKey and the string range key RowKey.
package schema

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/interfaces"
	"github.com/theory-cloud/tablequery/pkg/validation"
)

// DefaultWaitTimeout bounds the wait for a table to become active or disappear
const DefaultWaitTimeout = 5 * time.Minute

// Manager handles DynamoDB table schema operations
type Manager struct {
	client      interfaces.DynamoDBAdminAPI
	logger      *zap.Logger
	waitTimeout time.Duration
	minDelay    time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger == nil {
			logger = zap.NewNop()
		}
		m.logger = logger
	}
}

// WithWait sets the wait timeout and the minimum delay between status polls
func WithWait(timeout, minDelay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.waitTimeout = timeout
		m.minDelay = minDelay
	}
}

// NewManager creates a new schema manager
func NewManager(client interfaces.DynamoDBAdminAPI, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:      client,
		logger:      zap.NewNop(),
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TableOption configures table creation options
type TableOption func(*dynamodb.CreateTableInput)

// WithBillingMode sets the billing mode for the table
func WithBillingMode(mode types.BillingMode) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.BillingMode = mode
		if mode == types.BillingModePayPerRequest {
			input.ProvisionedThroughput = nil
		}
	}
}

// WithThroughput sets provisioned throughput for the table
func WithThroughput(rcu, wcu int64) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.BillingMode = types.BillingModeProvisioned
		input.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(rcu),
			WriteCapacityUnits: aws.Int64(wcu),
		}
	}
}

// WithStreamSpecification enables DynamoDB streams
func WithStreamSpecification(spec types.StreamSpecification) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.StreamSpecification = &spec
	}
}

// WithSSESpecification enables server-side encryption
func WithSSESpecification(spec types.SSESpecification) TableOption {
	return func(input *dynamodb.CreateTableInput) {
		input.SSESpecification = &spec
	}
}

// CreateTableInput returns the request that creates table
func CreateTableInput(table string, opts ...TableOption) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(core.FieldPartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(core.FieldRowKey), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(core.FieldPartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(core.FieldRowKey), AttributeType: types.ScalarAttributeTypeS},
		},
	}
	for _, opt := range opts {
		opt(input)
	}
	return input
}

// CreateTable creates table and waits for it to become active. An existing table is
// left as is.
func (m *Manager) CreateTable(ctx context.Context, table string, opts ...TableOption) error {
	if err := validation.ValidateTableName(table); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidUsage, err)
	}

	_, err := m.client.CreateTable(ctx, CreateTableInput(table, opts...))
	if err != nil {
		var existsErr *types.ResourceInUseException
		if stderrors.As(err, &existsErr) {
			m.logger.Debug("table already exists", zap.String("table", table))
			return m.waitForTableActive(ctx, table)
		}
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	m.logger.Info("created table", zap.String("table", table))
	return m.waitForTableActive(ctx, table)
}

// EnsureTable creates table unless it exists
func (m *Manager) EnsureTable(ctx context.Context, table string, opts ...TableOption) error {
	exists, err := m.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.CreateTable(ctx, table, opts...)
}

func (m *Manager) waitForTableActive(ctx context.Context, table string) error {
	waiter := dynamodb.NewTableExistsWaiter(m.client, func(o *dynamodb.TableExistsWaiterOptions) {
		if m.minDelay > 0 {
			o.MinDelay = m.minDelay
		}
	})
	err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, m.waitTimeout)
	if err != nil {
		return fmt.Errorf("failed waiting for table %s to be active: %w", table, err)
	}
	return nil
}

// TableExists checks if a table exists
func (m *Manager) TableExists(ctx context.Context, table string) (bool, error) {
	_, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if stderrors.As(err, &notFoundErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteTable deletes table and waits for it to disappear. A missing table is not an error.
func (m *Manager) DeleteTable(ctx context.Context, table string) error {
	_, err := m.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if stderrors.As(err, &notFoundErr) {
			return nil
		}
		return fmt.Errorf("failed to delete table %s: %w", table, err)
	}

	waiter := dynamodb.NewTableNotExistsWaiter(m.client, func(o *dynamodb.TableNotExistsWaiterOptions) {
		if m.minDelay > 0 {
			o.MinDelay = m.minDelay
		}
	})
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, m.waitTimeout)
}
