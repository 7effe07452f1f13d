// Package testing provides utilities for testing code that uses tablequery tables: a
// fluent wrapper over the entity store mock and in-memory table constructors.
package testing

import (
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/memstore"
	"github.com/theory-cloud/tablequery/pkg/mocks"
	"github.com/theory-cloud/tablequery/pkg/store"
)

// TestStore provides a fluent interface for setting up entity store expectations
type TestStore struct {
	MockStore *mocks.MockEntityStore
	etags     int
}

// NewTestStore creates a mock store that reports single-partition transactions of up to
// 100 actions
func NewTestStore() *TestStore {
	m := new(mocks.MockEntityStore)
	m.On("Capabilities").Return(core.Capabilities{MaxBatchSize: 100, SinglePartitionTransactions: true}).Maybe()
	return &TestStore{MockStore: m}
}

// ExpectGet sets up expectations for reading rec
func (t *TestStore) ExpectGet(rec *core.Record) *TestStore {
	t.MockStore.On("Get", mock.Anything, rec.PartitionKey, rec.RowKey, mock.Anything).Return(rec.Clone(), nil).Once()
	return t
}

// ExpectNotFound sets up expectations for reading a missing entity
func (t *TestStore) ExpectNotFound(partitionKey, rowKey string) *TestStore {
	t.MockStore.On("Get", mock.Anything, partitionKey, rowKey, mock.Anything).Return(nil, errors.ErrItemNotFound).Once()
	return t
}

// ExpectWrite sets up expectations for a successful write in mode. The stored record
// gets a fresh ETag.
func (t *TestStore) ExpectWrite(mode core.WriteMode) *TestStore {
	t.etags++
	etag := fmt.Sprintf("etag-%d", t.etags)
	stored := &core.Record{}
	t.MockStore.On("Write", mock.Anything, mock.Anything, mode).Run(func(args mock.Arguments) {
		*stored = *args.Get(1).(*core.Record).Clone()
		stored.ETag = etag
	}).Return(stored, nil).Once()
	return t
}

// ExpectWriteError sets up expectations for a failed write in mode
func (t *TestStore) ExpectWriteError(mode core.WriteMode, err error) *TestStore {
	t.MockStore.On("Write", mock.Anything, mock.Anything, mode).Return(nil, err).Once()
	return t
}

// ExpectDelete sets up expectations for deleting an entity with any ETag
func (t *TestStore) ExpectDelete(partitionKey, rowKey string) *TestStore {
	t.MockStore.On("Delete", mock.Anything, partitionKey, rowKey, mock.Anything).Return(nil).Once()
	return t
}

// ExpectQuery sets up expectations for one query returning a single page of records
func (t *TestStore) ExpectQuery(records ...*core.Record) *TestStore {
	t.MockStore.On("Query", mock.Anything, mock.Anything).Return(&core.Page{Records: records}, nil).Once()
	return t
}

// ExpectSubmit sets up expectations for a transaction of n actions
func (t *TestStore) ExpectSubmit(n int) *TestStore {
	t.MockStore.On("Submit", mock.Anything, mock.MatchedBy(func(actions []core.Action) bool {
		return len(actions) == n
	})).Return(nil).Once()
	return t
}

// ExpectSubmitError sets up expectations for a failed transaction
func (t *TestStore) ExpectSubmitError(err error) *TestStore {
	t.MockStore.On("Submit", mock.Anything, mock.Anything).Return(err).Once()
	return t
}

// AssertExpectations asserts that all expectations were met
func (t *TestStore) AssertExpectations(testing mock.TestingT) {
	t.MockStore.AssertExpectations(testing)
}

// Reset clears all expectations
func (t *TestStore) Reset() {
	t.MockStore.ExpectedCalls = nil
	t.MockStore.Calls = nil
}

// Table returns a table of T over the mock store
func Table[T any](t *TestStore, name string, opts ...store.Option) (*store.Table[T], error) {
	return store.NewTableWithStore[T](name, t.MockStore, opts...)
}

// MemoryTable returns a table of T over a fresh in-memory store
func MemoryTable[T any](name string, opts ...memstore.Option) (*store.Table[T], *memstore.Store, error) {
	s := memstore.New(opts...)
	table, err := store.NewTableWithStore[T](name, s)
	if err != nil {
		return nil, nil, err
	}
	return table, s, nil
}
