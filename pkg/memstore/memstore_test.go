package memstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
)

func rec(pk, rk string, props map[string]any) *core.Record {
	return &core.Record{PartitionKey: pk, RowKey: rk, Properties: props}
}

func TestWriteModes(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))

	added, err := s.Write(ctx, rec("p", "r", map[string]any{"A": int64(1), "B": "x"}), core.ModeAdd)
	require.NoError(t, err)
	assert.NotEmpty(t, added.ETag)
	assert.Equal(t, fixed, added.Timestamp)

	_, err = s.Write(ctx, rec("p", "r", nil), core.ModeAdd)
	assert.True(t, errors.IsAlreadyExists(err))

	t.Run("replace needs a matching etag", func(t *testing.T) {
		stale := rec("p", "r", map[string]any{"A": int64(2)})
		stale.ETag = "stale"
		_, err := s.Write(ctx, stale, core.ModeReplace)
		assert.True(t, errors.IsConflict(err))

		_, err = s.Write(ctx, rec("p", "missing", nil), core.ModeReplace)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("merge keeps other properties", func(t *testing.T) {
		current, err := s.Get(ctx, "p", "r", nil)
		require.NoError(t, err)
		patch := rec("p", "r", map[string]any{"A": int64(7)})
		patch.ETag = current.ETag

		merged, err := s.Write(ctx, patch, core.ModeMerge)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"A": int64(7), "B": "x"}, merged.Properties)
		assert.NotEqual(t, current.ETag, merged.ETag)
	})

	t.Run("replace drops other properties", func(t *testing.T) {
		replaced, err := s.Write(ctx, rec("p", "r", map[string]any{"C": true}), core.ModeReplace)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"C": true}, replaced.Properties)
	})

	t.Run("upserts", func(t *testing.T) {
		_, err := s.Write(ctx, rec("p", "new", map[string]any{"A": int64(1)}), core.ModeUpsert)
		require.NoError(t, err)
		got, err := s.Write(ctx, rec("p", "new", map[string]any{"B": "y"}), core.ModeUpsertMerge)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"A": int64(1), "B": "y"}, got.Properties)
	})
}

func TestGetAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "p", "r", nil)
	assert.True(t, errors.IsNotFound(err))

	stored, err := s.Write(ctx, rec("p", "r", map[string]any{"A": int64(1), "B": "x"}), core.ModeAdd)
	require.NoError(t, err)

	got, err := s.Get(ctx, "p", "r", []string{"B"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"B": "x"}, got.Properties)

	got.Properties["B"] = "mutated"
	again, err := s.Get(ctx, "p", "r", nil)
	require.NoError(t, err)
	assert.Equal(t, "x", again.Properties["B"])

	assert.True(t, errors.IsConflict(s.Delete(ctx, "p", "r", "stale")))
	require.NoError(t, s.Delete(ctx, "p", "r", stored.ETag))
	require.NoError(t, s.Delete(ctx, "p", "r", ""), "deleting a missing entity succeeds")
	assert.Equal(t, 0, s.Len())

	calls := s.Calls()
	assert.Equal(t, int64(3), calls.Get)
	assert.Equal(t, int64(3), calls.Delete)
	s.ResetCalls()
	assert.Equal(t, Calls{}, s.Calls())
}

func seed(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		pk := "a"
		if i%2 == 1 {
			pk = "b"
		}
		_, err := s.Write(context.Background(), rec(pk, fmt.Sprintf("r%02d", i), map[string]any{"N": int64(i), "Name": fmt.Sprintf("n%d", i)}), core.ModeAdd)
		require.NoError(t, err)
	}
}

func TestQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, 10)

	t.Run("filter string", func(t *testing.T) {
		page, err := s.Query(ctx, core.QueryRequest{Filter: "PartitionKey = 'a' and N >= 4"})
		require.NoError(t, err)
		require.Len(t, page.Records, 3)
		assert.Equal(t, "r04", page.Records[0].RowKey)
		assert.Empty(t, page.Continuation)
	})

	t.Run("clauses take precedence", func(t *testing.T) {
		page, err := s.Query(ctx, core.QueryRequest{
			Filter:  "this is not parsed",
			Clauses: []core.Clause{{Field: "N", Op: "<", Value: int64(2)}},
		})
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
	})

	t.Run("malformed filter", func(t *testing.T) {
		_, err := s.Query(ctx, core.QueryRequest{Filter: "N != 2"})
		assert.True(t, errors.IsUsage(err))
	})

	t.Run("projection", func(t *testing.T) {
		page, err := s.Query(ctx, core.QueryRequest{Fields: []string{"Name"}, PageSize: 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"Name": "n0"}, page.Records[0].Properties)
	})

	t.Run("pages follow continuations in key order", func(t *testing.T) {
		var all []string
		pager := core.NewStorePager(s, core.QueryRequest{PageSize: 3})
		pages := 0
		for {
			records, done, err := pager.Next(ctx)
			require.NoError(t, err)
			pages++
			for _, r := range records {
				all = append(all, r.PartitionKey+"/"+r.RowKey)
			}
			if done {
				break
			}
		}
		assert.Equal(t, 4, pages)
		require.Len(t, all, 10)
		assert.Equal(t, "a/r00", all[0])
		assert.Equal(t, "b/r01", all[5])
	})

	t.Run("limit caps the page", func(t *testing.T) {
		page, err := s.Query(ctx, core.QueryRequest{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
		assert.NotEmpty(t, page.Continuation)
	})

	t.Run("bad continuation", func(t *testing.T) {
		_, err := s.Query(ctx, core.QueryRequest{Continuation: "!!"})
		assert.True(t, errors.IsUsage(err))
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("applies all actions", func(t *testing.T) {
		s := New()
		seed(t, s, 4)
		err := s.Submit(ctx, []core.Action{
			{Type: core.ActionDelete, Record: rec("a", "r00", nil)},
			{Type: core.ActionMerge, Record: rec("a", "r02", map[string]any{"Name": "z"})},
			{Type: core.ActionAdd, Record: rec("a", "r09", nil)},
		})
		require.NoError(t, err)

		_, err = s.Get(ctx, "a", "r00", nil)
		assert.True(t, errors.IsNotFound(err))
		got, err := s.Get(ctx, "a", "r02", nil)
		require.NoError(t, err)
		assert.Equal(t, "z", got.Properties["Name"])
		assert.Equal(t, int64(2), got.Properties["N"])
		assert.Equal(t, 4, s.Len())
	})

	t.Run("failure rolls back the transaction", func(t *testing.T) {
		s := New()
		seed(t, s, 4)
		err := s.Submit(ctx, []core.Action{
			{Type: core.ActionDelete, Record: rec("a", "r00", nil)},
			{Type: core.ActionAdd, Record: rec("a", "r02", nil)},
		})
		require.Error(t, err)
		var txErr *errors.TransactionError
		require.ErrorAs(t, err, &txErr)
		assert.Equal(t, 1, txErr.OperationIndex)
		assert.Equal(t, "Add", txErr.Operation)
		assert.ErrorIs(t, err, errors.ErrTransactionFailed)
		assert.True(t, errors.IsAlreadyExists(err))

		_, err = s.Get(ctx, "a", "r00", nil)
		assert.NoError(t, err)
	})

	t.Run("enforces capabilities", func(t *testing.T) {
		s := New(WithCapabilities(core.Capabilities{MaxBatchSize: 2, SinglePartitionTransactions: true}))
		err := s.Submit(ctx, []core.Action{
			{Type: core.ActionUpsert, Record: rec("a", "1", nil)},
			{Type: core.ActionUpsert, Record: rec("b", "2", nil)},
		})
		assert.True(t, errors.IsUsage(err))

		err = s.Submit(ctx, []core.Action{
			{Type: core.ActionUpsert, Record: rec("a", "1", nil)},
			{Type: core.ActionUpsert, Record: rec("a", "2", nil)},
			{Type: core.ActionUpsert, Record: rec("a", "3", nil)},
		})
		assert.True(t, errors.IsUsage(err))

		err = s.Submit(ctx, []core.Action{
			{Type: core.ActionUpsert, Record: rec("a", "1", nil)},
			{Type: core.ActionDelete, Record: rec("a", "1", nil)},
		})
		assert.True(t, errors.IsUsage(err))

		assert.True(t, errors.IsUsage(s.Submit(ctx, nil)))
		assert.Equal(t, 0, s.Len())
	})
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()

	_, err := s.Get(ctx, "p", "r", nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.Query(ctx, core.QueryRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}
