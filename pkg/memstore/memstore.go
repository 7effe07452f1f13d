// Package memstore provides an in-memory EntityStore with the same contract as the
// remote stores. It backs tests and local development.
package memstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/filter"
)

// DefaultPageSize is the page size used when a query does not set one
const DefaultPageSize = 1000

type key struct {
	pk, rk string
}

// Calls counts the operations a store has served
type Calls struct {
	Get    int64
	Write  int64
	Delete int64
	Query  int64
	Submit int64
}

// Option configures a Store
type Option func(*Store)

// WithCapabilities sets the transactional limits the store enforces
func WithCapabilities(caps core.Capabilities) Option {
	return func(s *Store) {
		s.caps = caps
	}
}

// WithClock sets the time source for record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is an in-memory core.EntityStore. It is safe for concurrent use.
type Store struct {
	rows map[key]*core.Record
	now  func() time.Time
	caps core.Capabilities

	gets, writes, deletes, queries, submits atomic.Int64

	mu sync.RWMutex
}

var _ core.EntityStore = (*Store)(nil)

// New creates an empty store. By default it allows 100 actions per transaction and
// requires every transaction to stay within one partition.
func New(opts ...Option) *Store {
	s := &Store{
		rows: make(map[key]*core.Record),
		now:  time.Now,
		caps: core.Capabilities{MaxBatchSize: 100, SinglePartitionTransactions: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calls returns a snapshot of the operation counters
func (s *Store) Calls() Calls {
	return Calls{
		Get:    s.gets.Load(),
		Write:  s.writes.Load(),
		Delete: s.deletes.Load(),
		Query:  s.queries.Load(),
		Submit: s.submits.Load(),
	}
}

// ResetCalls zeroes the operation counters
func (s *Store) ResetCalls() {
	s.gets.Store(0)
	s.writes.Store(0)
	s.deletes.Store(0)
	s.queries.Store(0)
	s.submits.Store(0)
}

// Len returns the number of stored entities
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Capabilities implements core.EntityStore
func (s *Store) Capabilities() core.Capabilities {
	return s.caps
}

// Get implements core.EntityStore
func (s *Store) Get(ctx context.Context, partitionKey, rowKey string, fields []string) (*core.Record, error) {
	s.gets.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[key{partitionKey, rowKey}]
	if !ok {
		return nil, errors.ErrItemNotFound
	}
	return rec.Project(fields), nil
}

// Write implements core.EntityStore
func (s *Store) Write(ctx context.Context, rec *core.Record, mode core.WriteMode) (*core.Record, error) {
	s.writes.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(s.rows, rec, mode)
}

// Delete implements core.EntityStore
func (s *Store) Delete(ctx context.Context, partitionKey, rowKey, etag string) error {
	s.deletes.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return remove(s.rows, key{partitionKey, rowKey}, etag)
}

// Query implements core.EntityStore. Records are returned in key order.
func (s *Store) Query(ctx context.Context, req core.QueryRequest) (*core.Page, error) {
	s.queries.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clauses := req.Clauses
	if clauses == nil && req.Filter != "" {
		parsed, err := filter.Parse(req.Filter)
		if err != nil {
			return nil, err
		}
		clauses = parsed
	}

	after, err := decodeContinuation(req.Continuation)
	if err != nil {
		return nil, err
	}

	size := req.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if req.Limit > 0 && req.Limit < size {
		size = req.Limit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	page := &core.Page{}
	for _, k := range s.sortedKeys() {
		if after != nil && compareKeys(k, *after) <= 0 {
			continue
		}
		rec := s.rows[k]
		if !filter.MatchClauses(clauses, rec) {
			continue
		}
		if len(page.Records) == size {
			last := page.Records[len(page.Records)-1]
			page.Continuation = encodeContinuation(key{last.PartitionKey, last.RowKey})
			break
		}
		page.Records = append(page.Records, rec.Project(req.Fields))
	}
	return page, nil
}

// Submit implements core.EntityStore. All actions apply or none do.
func (s *Store) Submit(ctx context.Context, actions []core.Action) error {
	s.submits.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkTransaction(actions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := maps.Clone(s.rows)
	for i, a := range actions {
		var err error
		if a.Type == core.ActionDelete {
			err = remove(staged, key{a.Record.PartitionKey, a.Record.RowKey}, a.Record.ETag)
		} else {
			_, err = s.apply(staged, a.Record, a.Type.Mode())
		}
		if err != nil {
			return &errors.TransactionError{
				Operation:      a.Type.String(),
				OperationIndex: i,
				Reason:         err.Error(),
				Err:            fmt.Errorf("%w: %w", errors.ErrTransactionFailed, err),
			}
		}
	}
	s.rows = staged
	return nil
}

func (s *Store) checkTransaction(actions []core.Action) error {
	if len(actions) == 0 {
		return errors.Usage("transaction is empty")
	}
	if s.caps.MaxBatchSize > 0 && len(actions) > s.caps.MaxBatchSize {
		return errors.Usage("transaction has %d actions, the store allows %d", len(actions), s.caps.MaxBatchSize)
	}

	seen := make(map[key]struct{}, len(actions))
	for _, a := range actions {
		if a.Record == nil {
			return errors.Usage("transaction action without a record")
		}
		k := key{a.Record.PartitionKey, a.Record.RowKey}
		if _, dup := seen[k]; dup {
			return errors.Usage("transaction addresses one entity twice")
		}
		seen[k] = struct{}{}
		if s.caps.SinglePartitionTransactions && a.Record.PartitionKey != actions[0].Record.PartitionKey {
			return errors.Usage("transaction spans more than one partition")
		}
	}
	return nil
}

// apply writes rec into rows according to mode. The caller holds the write lock.
func (s *Store) apply(rows map[key]*core.Record, rec *core.Record, mode core.WriteMode) (*core.Record, error) {
	if rec == nil {
		return nil, errors.Usage("record is nil")
	}
	k := key{rec.PartitionKey, rec.RowKey}
	current, exists := rows[k]

	switch mode {
	case core.ModeAdd:
		if exists {
			return nil, errors.ErrAlreadyExists
		}
	case core.ModeReplace, core.ModeMerge:
		if !exists {
			return nil, errors.ErrItemNotFound
		}
		if rec.ETag != "" && rec.ETag != current.ETag {
			return nil, errors.ErrConcurrencyConflict
		}
	case core.ModeUpsert, core.ModeUpsertMerge:
	default:
		return nil, errors.Usage("unknown write mode %d", mode)
	}

	stored := &core.Record{
		PartitionKey: rec.PartitionKey,
		RowKey:       rec.RowKey,
		Properties:   make(map[string]any, len(rec.Properties)),
		ETag:         uuid.NewString(),
		Timestamp:    s.now().UTC(),
	}
	if exists && (mode == core.ModeMerge || mode == core.ModeUpsertMerge) {
		maps.Copy(stored.Properties, current.Properties)
	}
	maps.Copy(stored.Properties, rec.Properties)

	rows[k] = stored
	return stored.Clone(), nil
}

func remove(rows map[key]*core.Record, k key, etag string) error {
	current, ok := rows[k]
	if !ok {
		return nil
	}
	if etag != "" && etag != current.ETag {
		return errors.ErrConcurrencyConflict
	}
	delete(rows, k)
	return nil
}

func (s *Store) sortedKeys() []key {
	keys := make([]key, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

func compareKeys(a, b key) int {
	if c := strings.Compare(a.pk, b.pk); c != 0 {
		return c
	}
	return strings.Compare(a.rk, b.rk)
}

func encodeContinuation(k key) string {
	return base64.RawURLEncoding.EncodeToString([]byte(k.pk + "\x00" + k.rk))
}

func decodeContinuation(token string) (*key, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Usage("malformed continuation token")
	}
	pk, rk, ok := strings.Cut(string(raw), "\x00")
	if !ok {
		return nil, errors.Usage("malformed continuation token")
	}
	return &key{pk, rk}, nil
}
