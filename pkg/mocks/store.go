package mocks

import (
	"context"
	"iter"

	"github.com/stretchr/testify/mock"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/core"
)

// MockEntityStore is a mock implementation of core.EntityStore
type MockEntityStore struct {
	mock.Mock
}

var _ core.EntityStore = (*MockEntityStore)(nil)

// Get mocks core.EntityStore.Get
func (m *MockEntityStore) Get(ctx context.Context, partitionKey, rowKey string, fields []string) (*core.Record, error) {
	args := m.Called(ctx, partitionKey, rowKey, fields)
	return result[*core.Record](args, 0), args.Error(1)
}

// Write mocks core.EntityStore.Write
func (m *MockEntityStore) Write(ctx context.Context, rec *core.Record, mode core.WriteMode) (*core.Record, error) {
	args := m.Called(ctx, rec, mode)
	return result[*core.Record](args, 0), args.Error(1)
}

// Delete mocks core.EntityStore.Delete
func (m *MockEntityStore) Delete(ctx context.Context, partitionKey, rowKey, etag string) error {
	return m.Called(ctx, partitionKey, rowKey, etag).Error(0)
}

// Query mocks core.EntityStore.Query
func (m *MockEntityStore) Query(ctx context.Context, req core.QueryRequest) (*core.Page, error) {
	args := m.Called(ctx, req)
	return result[*core.Page](args, 0), args.Error(1)
}

// Submit mocks core.EntityStore.Submit
func (m *MockEntityStore) Submit(ctx context.Context, actions []core.Action) error {
	return m.Called(ctx, actions).Error(0)
}

// Capabilities mocks core.EntityStore.Capabilities
func (m *MockEntityStore) Capabilities() core.Capabilities {
	return result[core.Capabilities](m.Called(), 0)
}

// MockContainer is a mock implementation of blob.Container. List and FindByTags return
// the slices given to Return as sequences; a non-nil error is yielded after them.
type MockContainer struct {
	mock.Mock
}

var _ blob.Container = (*MockContainer)(nil)

// Get mocks blob.Container.Get
func (m *MockContainer) Get(ctx context.Context, name string) (*blob.Object, error) {
	args := m.Called(ctx, name)
	return result[*blob.Object](args, 0), args.Error(1)
}

// Put mocks blob.Container.Put
func (m *MockContainer) Put(ctx context.Context, obj *blob.Object, cond blob.Condition) (string, error) {
	args := m.Called(ctx, obj, cond)
	return args.String(0), args.Error(1)
}

// Delete mocks blob.Container.Delete
func (m *MockContainer) Delete(ctx context.Context, name, etag string) error {
	return m.Called(ctx, name, etag).Error(0)
}

// List mocks blob.Container.List. Return a []blob.Entry and an error.
func (m *MockContainer) List(ctx context.Context, prefix string, oneLevel bool) iter.Seq2[blob.Entry, error] {
	args := m.Called(ctx, prefix, oneLevel)
	return seq(result[[]blob.Entry](args, 0), args.Error(1))
}

// FindByTags mocks blob.Container.FindByTags. Return a []string and an error.
func (m *MockContainer) FindByTags(ctx context.Context, query string) iter.Seq2[string, error] {
	args := m.Called(ctx, query)
	return seq(result[[]string](args, 0), args.Error(1))
}

// Capabilities mocks blob.Container.Capabilities
func (m *MockContainer) Capabilities() blob.Capabilities {
	return result[blob.Capabilities](m.Called(), 0)
}

func seq[V any](items []V, err error) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
		if err != nil {
			var zero V
			yield(zero, err)
		}
	}
}

// MockConnector is a mock implementation of core.Connector
type MockConnector struct {
	mock.Mock
}

var _ core.Connector = (*MockConnector)(nil)

// EntityStore mocks core.Connector.EntityStore
func (m *MockConnector) EntityStore(ctx context.Context, table string) (core.EntityStore, error) {
	args := m.Called(ctx, table)
	return result[core.EntityStore](args, 0), args.Error(1)
}

// Container mocks core.Connector.Container
func (m *MockConnector) Container(ctx context.Context, name string) (blob.Container, error) {
	args := m.Called(ctx, name)
	return result[blob.Container](args, 0), args.Error(1)
}
