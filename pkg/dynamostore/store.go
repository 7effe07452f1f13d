// Package dynamostore implements core.EntityStore on an Amazon DynamoDB table.
//
// The table's hash key is the string attribute PartitionKey and its range key the string
// attribute RowKey. Every item also carries ETag, a random concurrency token replaced on
// each write, and Timestamp, the RFC 3339 time of the last write.
package dynamostore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/internal/dynamoexpr"
	"github.com/theory-cloud/tablequery/internal/numutil"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
	"github.com/theory-cloud/tablequery/pkg/interfaces"
	tqtypes "github.com/theory-cloud/tablequery/pkg/types"
)

// MaxTransactionItems is the TransactWriteItems limit
const MaxTransactionItems = 100

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger == nil {
			logger = zap.NewNop()
		}
		s.logger = logger
	}
}

// WithConsistentReads makes point reads and queries strongly consistent
func WithConsistentReads(consistent bool) Option {
	return func(s *Store) {
		s.consistent = consistent
	}
}

// WithConverter sets the value converter, for instance one with custom converters registered
func WithConverter(c *tqtypes.Converter) Option {
	return func(s *Store) {
		if c != nil {
			s.converter = c
		}
	}
}

// WithClock sets the time source for item timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTokenSource sets the generator of ETags and transaction request tokens
func WithTokenSource(next func() string) Option {
	return func(s *Store) {
		s.newToken = next
	}
}

// Store is a core.EntityStore on one DynamoDB table. It is safe for concurrent use.
type Store struct {
	client    interfaces.DynamoDBAPI
	converter *tqtypes.Converter
	logger    *zap.Logger
	now       func() time.Time
	newToken  func() string
	table     string

	consistent bool
}

var _ core.EntityStore = (*Store)(nil)

// New returns a store on table
func New(client interfaces.DynamoDBAPI, table string, opts ...Option) *Store {
	s := &Store{
		client:    client,
		table:     table,
		converter: tqtypes.NewConverter(),
		logger:    zap.NewNop(),
		now:       time.Now,
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("table", table))
	return s
}

// Capabilities implements core.EntityStore. Transactions may span partitions.
func (s *Store) Capabilities() core.Capabilities {
	return core.Capabilities{MaxBatchSize: MaxTransactionItems}
}

// Get implements core.EntityStore
func (s *Store) Get(ctx context.Context, partitionKey, rowKey string, fields []string) (*core.Record, error) {
	in := &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(partitionKey, rowKey),
		ConsistentRead: aws.Bool(s.consistent),
	}
	if fields != nil {
		b := s.builder()
		if err := b.Project(projection(fields)...); err != nil {
			return nil, err
		}
		e := b.Build()
		in.ProjectionExpression = dynamoexpr.Optional(e.Projection)
		in.ExpressionAttributeNames = e.Names
	}

	out, err := s.client.GetItem(ctx, in)
	if err != nil {
		return nil, mapError(err)
	}
	if len(out.Item) == 0 {
		return nil, errors.ErrItemNotFound
	}
	return s.decode(out.Item)
}

// Write implements core.EntityStore
func (s *Store) Write(ctx context.Context, rec *core.Record, mode core.WriteMode) (*core.Record, error) {
	if rec == nil {
		return nil, errors.Usage("record is nil")
	}
	stored := s.stamp(rec)

	switch mode {
	case core.ModeAdd, core.ModeReplace, core.ModeUpsert:
		put, err := s.put(stored, rec.ETag, mode)
		if err != nil {
			return nil, err
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                           put.TableName,
			Item:                                put.Item,
			ConditionExpression:                 put.ConditionExpression,
			ExpressionAttributeNames:            put.ExpressionAttributeNames,
			ExpressionAttributeValues:           put.ExpressionAttributeValues,
			ReturnValuesOnConditionCheckFailure: put.ReturnValuesOnConditionCheckFailure,
		})
		if err != nil {
			return nil, writeError(err, mode)
		}
		return stored, nil

	case core.ModeMerge, core.ModeUpsertMerge:
		update, err := s.update(stored, rec.ETag, mode)
		if err != nil {
			return nil, err
		}
		out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                           update.TableName,
			Key:                                 update.Key,
			UpdateExpression:                    update.UpdateExpression,
			ConditionExpression:                 update.ConditionExpression,
			ExpressionAttributeNames:            update.ExpressionAttributeNames,
			ExpressionAttributeValues:           update.ExpressionAttributeValues,
			ReturnValues:                        types.ReturnValueAllNew,
			ReturnValuesOnConditionCheckFailure: update.ReturnValuesOnConditionCheckFailure,
		})
		if err != nil {
			return nil, writeError(err, mode)
		}
		if len(out.Attributes) == 0 {
			return stored, nil
		}
		return s.decode(out.Attributes)

	default:
		return nil, errors.Usage("unknown write mode %d", mode)
	}
}

// Delete implements core.EntityStore
func (s *Store) Delete(ctx context.Context, partitionKey, rowKey, etag string) error {
	del, err := s.delete(partitionKey, rowKey, etag)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 del.TableName,
		Key:                       del.Key,
		ConditionExpression:       del.ConditionExpression,
		ExpressionAttributeNames:  del.ExpressionAttributeNames,
		ExpressionAttributeValues: del.ExpressionAttributeValues,
	})
	if err != nil {
		return deleteError(err)
	}
	return nil
}

// Query implements core.EntityStore. A PartitionKey equality clause turns the request
// into a DynamoDB Query; anything else is a Scan.
func (s *Store) Query(ctx context.Context, req core.QueryRequest) (*core.Page, error) {
	clauses := req.Clauses
	if clauses == nil && req.Filter != "" {
		parsed, err := filter.Parse(req.Filter)
		if err != nil {
			return nil, err
		}
		clauses = parsed
	}
	start, err := decodeCursor(req.Continuation)
	if err != nil {
		return nil, err
	}

	plan, err := s.planQuery(clauses, req.Fields)
	if err != nil {
		return nil, err
	}
	e := plan.builder.Build()

	var limit *int32
	size := req.PageSize
	if req.Limit > 0 && (size <= 0 || req.Limit < size) {
		size = req.Limit
	}
	if size > 0 {
		limit = aws.Int32(numutil.ClampIntToInt32(size))
	}

	var (
		items   []map[string]types.AttributeValue
		lastKey map[string]types.AttributeValue
	)
	if plan.query {
		s.logger.Debug("query page", zap.String("operation", "Query"), zap.Int("page_size", size))
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    dynamoexpr.Optional(e.KeyCondition),
			FilterExpression:          dynamoexpr.Optional(e.Filter),
			ProjectionExpression:      dynamoexpr.Optional(e.Projection),
			ExpressionAttributeNames:  e.Names,
			ExpressionAttributeValues: e.Values,
			ExclusiveStartKey:         start,
			ConsistentRead:            aws.Bool(s.consistent),
			Limit:                     limit,
		})
		if err != nil {
			return nil, mapError(err)
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	} else {
		s.logger.Debug("query page", zap.String("operation", "Scan"), zap.Int("page_size", size))
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          dynamoexpr.Optional(e.Filter),
			ProjectionExpression:      dynamoexpr.Optional(e.Projection),
			ExpressionAttributeNames:  e.Names,
			ExpressionAttributeValues: e.Values,
			ExclusiveStartKey:         start,
			ConsistentRead:            aws.Bool(s.consistent),
			Limit:                     limit,
		})
		if err != nil {
			return nil, mapError(err)
		}
		items, lastKey = out.Items, out.LastEvaluatedKey
	}

	page := &core.Page{Records: make([]*core.Record, 0, len(items))}
	for _, item := range items {
		rec, err := s.decode(item)
		if err != nil {
			return nil, err
		}
		if !filter.MatchClauses(plan.local, rec) {
			continue
		}
		page.Records = append(page.Records, rec)
	}
	if page.Continuation, err = encodeCursor(lastKey); err != nil {
		return nil, err
	}
	return page, nil
}

type queryPlan struct {
	builder *dynamoexpr.Builder
	// local holds key clauses DynamoDB cannot take in a key condition or filter
	local []core.Clause
	query bool
}

// planQuery distributes clauses over the key condition, the filter expression and the
// local check. A query filter cannot reference key attributes and the range key takes a
// single condition, so surplus key clauses are checked on the returned page.
func (s *Store) planQuery(clauses []core.Clause, fields []string) (*queryPlan, error) {
	p := &queryPlan{builder: s.builder()}

	pkAt := -1
	for i, c := range clauses {
		if c.Field == core.FieldPartitionKey && c.Op == "=" {
			pkAt = i
			break
		}
	}
	p.query = pkAt >= 0

	var rowClauses, rest []core.Clause
	for i, c := range clauses {
		switch {
		case i == pkAt:
			if err := p.builder.KeyCondition(c.Field, c.Op, c.Value); err != nil {
				return nil, err
			}
		case p.query && c.Field == core.FieldPartitionKey:
			p.local = append(p.local, c)
		case p.query && c.Field == core.FieldRowKey:
			rowClauses = append(rowClauses, c)
		default:
			rest = append(rest, c)
		}
	}

	if len(rowClauses) > 0 {
		used, err := p.rowKeyCondition(rowClauses)
		if err != nil {
			return nil, err
		}
		for i, c := range rowClauses {
			if !used[i] {
				p.local = append(p.local, c)
			}
		}
	}
	for _, c := range rest {
		if err := p.builder.Filter(c.Field, c.Op, c.Value); err != nil {
			return nil, err
		}
	}

	if fields != nil {
		if err := p.builder.Project(projection(fields)...); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// rowKeyCondition puts a >= / <= pair on the range key as BETWEEN, or else the first
// row key clause, into the key condition. It reports which clauses it used.
func (p *queryPlan) rowKeyCondition(clauses []core.Clause) ([]bool, error) {
	used := make([]bool, len(clauses))
	lo, hi := -1, -1
	for i, c := range clauses {
		switch {
		case c.Op == ">=" && lo < 0:
			lo = i
		case c.Op == "<=" && hi < 0:
			hi = i
		}
	}
	if lo >= 0 && hi >= 0 {
		used[lo], used[hi] = true, true
		return used, p.builder.KeyBetween(core.FieldRowKey, clauses[lo].Value, clauses[hi].Value)
	}
	used[0] = true
	return used, p.builder.KeyCondition(core.FieldRowKey, clauses[0].Op, clauses[0].Value)
}

// Submit implements core.EntityStore with TransactWriteItems
func (s *Store) Submit(ctx context.Context, actions []core.Action) error {
	if len(actions) == 0 {
		return errors.Usage("transaction is empty")
	}
	if len(actions) > MaxTransactionItems {
		return errors.Usage("transaction has %d actions, the store allows %d", len(actions), MaxTransactionItems)
	}

	items := make([]types.TransactWriteItem, len(actions))
	for i, a := range actions {
		if a.Record == nil {
			return errors.Usage("transaction action without a record")
		}
		item, err := s.transactItem(a)
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		items[i] = item
	}

	s.logger.Debug("submitting transaction", zap.Int("actions", len(actions)))
	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(s.newToken()),
	})
	if err != nil {
		return transactionError(err, actions)
	}
	return nil
}

func (s *Store) transactItem(a core.Action) (types.TransactWriteItem, error) {
	rec := a.Record
	if a.Type == core.ActionDelete {
		del, err := s.delete(rec.PartitionKey, rec.RowKey, rec.ETag)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Delete: del}, nil
	}

	mode := a.Type.Mode()
	stored := s.stamp(rec)
	if mode == core.ModeMerge || mode == core.ModeUpsertMerge {
		update, err := s.update(stored, rec.ETag, mode)
		if err != nil {
			return types.TransactWriteItem{}, err
		}
		return types.TransactWriteItem{Update: update}, nil
	}
	put, err := s.put(stored, rec.ETag, mode)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: put}, nil
}

// put builds the full-item write for stored. etag is the caller's concurrency token.
func (s *Store) put(stored *core.Record, etag string, mode core.WriteMode) (*types.Put, error) {
	item, err := s.encode(stored)
	if err != nil {
		return nil, err
	}
	b := s.builder()
	if err := s.precondition(b, etag, mode); err != nil {
		return nil, err
	}
	e := b.Build()
	return &types.Put{
		TableName:                           aws.String(s.table),
		Item:                                item,
		ConditionExpression:                 dynamoexpr.Optional(e.Condition),
		ExpressionAttributeNames:            e.Names,
		ExpressionAttributeValues:           e.Values,
		ReturnValuesOnConditionCheckFailure: returnOld(e),
	}, nil
}

// update builds the merge of stored's properties into the existing item
func (s *Store) update(stored *core.Record, etag string, mode core.WriteMode) (*types.Update, error) {
	b := s.builder()
	for _, name := range slices.Sorted(maps.Keys(stored.Properties)) {
		if err := b.Set(name, stored.Properties[name]); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
	}
	if err := b.Set(core.FieldETag, stored.ETag); err != nil {
		return nil, err
	}
	if err := b.Set(core.FieldTimestamp, stored.Timestamp); err != nil {
		return nil, err
	}
	if err := s.precondition(b, etag, mode); err != nil {
		return nil, err
	}
	e := b.Build()
	return &types.Update{
		TableName:                           aws.String(s.table),
		Key:                                 keyOf(stored.PartitionKey, stored.RowKey),
		UpdateExpression:                    aws.String(e.Update),
		ConditionExpression:                 dynamoexpr.Optional(e.Condition),
		ExpressionAttributeNames:            e.Names,
		ExpressionAttributeValues:           e.Values,
		ReturnValuesOnConditionCheckFailure: returnOld(e),
	}, nil
}

// delete builds a delete that succeeds on a missing item and otherwise checks etag
func (s *Store) delete(partitionKey, rowKey, etag string) (*types.Delete, error) {
	del := &types.Delete{
		TableName: aws.String(s.table),
		Key:       keyOf(partitionKey, rowKey),
	}
	if etag == "" {
		return del, nil
	}
	b := s.builder()
	if err := b.ConditionAbsentOrEqual(core.FieldPartitionKey, core.FieldETag, etag); err != nil {
		return nil, err
	}
	e := b.Build()
	del.ConditionExpression = dynamoexpr.Optional(e.Condition)
	del.ExpressionAttributeNames = e.Names
	del.ExpressionAttributeValues = e.Values
	del.ReturnValuesOnConditionCheckFailure = returnOld(e)
	return del, nil
}

// returnOld asks for the current item when a condition fails, which tells a missing
// item apart from a stale ETag.
func returnOld(e dynamoexpr.Expressions) types.ReturnValuesOnConditionCheckFailure {
	if e.Condition == "" {
		return ""
	}
	return types.ReturnValuesOnConditionCheckFailureAllOld
}

func (s *Store) precondition(b *dynamoexpr.Builder, etag string, mode core.WriteMode) error {
	switch mode {
	case core.ModeAdd:
		return b.ConditionNotExists(core.FieldPartitionKey)
	case core.ModeReplace, core.ModeMerge:
		if err := b.ConditionExists(core.FieldPartitionKey); err != nil {
			return err
		}
		if etag != "" {
			return b.Condition(core.FieldETag, "=", etag)
		}
	}
	return nil
}

// stamp returns a copy of rec with a fresh ETag and timestamp
func (s *Store) stamp(rec *core.Record) *core.Record {
	stored := rec.Clone()
	stored.ETag = s.newToken()
	stored.Timestamp = s.now().UTC()
	return stored
}

func (s *Store) builder() *dynamoexpr.Builder {
	return dynamoexpr.NewBuilder(s.converter)
}

func (s *Store) encode(rec *core.Record) (map[string]types.AttributeValue, error) {
	item, err := s.converter.ToItem(rec.Properties)
	if err != nil {
		return nil, err
	}
	maps.Copy(item, keyOf(rec.PartitionKey, rec.RowKey))
	item[core.FieldETag] = &types.AttributeValueMemberS{Value: rec.ETag}
	item[core.FieldTimestamp] = &types.AttributeValueMemberS{Value: expr.FormatTime(rec.Timestamp)}
	return item, nil
}

func (s *Store) decode(item map[string]types.AttributeValue) (*core.Record, error) {
	props, err := s.converter.FromItem(item)
	if err != nil {
		return nil, err
	}
	rec := &core.Record{Properties: props}
	rec.PartitionKey, _ = props[core.FieldPartitionKey].(string)
	rec.RowKey, _ = props[core.FieldRowKey].(string)
	rec.ETag, _ = props[core.FieldETag].(string)
	if ts, ok := props[core.FieldTimestamp].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed timestamp", errors.ErrUnsupportedType)
		}
		rec.Timestamp = t
	}
	for _, f := range []string{core.FieldPartitionKey, core.FieldRowKey, core.FieldETag, core.FieldTimestamp} {
		delete(props, f)
	}
	return rec, nil
}

// projection adds the key and system attributes to a field list
func projection(fields []string) []string {
	out := make([]string, 0, len(fields)+4)
	out = append(out, core.FieldPartitionKey, core.FieldRowKey, core.FieldETag, core.FieldTimestamp)
	for _, f := range fields {
		if !core.IsSystemField(f) {
			out = append(out, f)
		}
	}
	return out
}
