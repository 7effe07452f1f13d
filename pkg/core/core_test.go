package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type address struct {
	City string
}

func TestRecordLookup(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := &Record{
		PartitionKey: "p",
		RowKey:       "r",
		ETag:         "e1",
		Timestamp:    ts,
		Properties: map[string]any{
			"N":       5,
			"Meta":    map[string]any{"Owner": "ann"},
			"Address": address{City: "Oslo"},
		},
	}

	tests := []struct {
		want  any
		field string
		ok    bool
	}{
		{field: FieldPartitionKey, want: "p", ok: true},
		{field: FieldRowKey, want: "r", ok: true},
		{field: FieldETag, want: "e1", ok: true},
		{field: FieldTimestamp, want: ts, ok: true},
		{field: "N", want: 5, ok: true},
		{field: "Meta.Owner", want: "ann", ok: true},
		{field: "Address.City", want: "Oslo", ok: true},
		{field: "Meta.Missing", want: nil, ok: false},
		{field: "Missing", want: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got, ok := rec.Lookup(tt.field)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	var nilRec *Record
	_, ok := nilRec.Lookup("N")
	assert.False(t, ok)
}

func TestRecordProjectAndClone(t *testing.T) {
	rec := &Record{PartitionKey: "p", RowKey: "r", Properties: map[string]any{"A": 1, "B": 2}}

	projected := rec.Project([]string{"A", "Missing"})
	assert.Equal(t, map[string]any{"A": 1}, projected.Properties)
	assert.Equal(t, "p", projected.PartitionKey)

	all := rec.Project(nil)
	all.Properties["C"] = 3
	assert.NotContains(t, rec.Properties, "C", "clone must not share the property map")

	empty := (&Record{}).Clone()
	assert.NotNil(t, empty.Properties)
}

func TestWriteModeAndAction(t *testing.T) {
	assert.Equal(t, "Merge", ModeMerge.String())
	assert.True(t, ModeReplace.Conditional())
	assert.False(t, ModeUpsert.Conditional())
	assert.Equal(t, "Unknown", WriteMode(42).String())

	assert.Equal(t, "Delete", ActionDelete.String())
	assert.Equal(t, ModeUpsertMerge, ActionUpsertMerge.Mode())
	assert.Equal(t, ModeAdd, ActionAdd.Mode())
}

func TestChunkActions(t *testing.T) {
	mk := func(pk, rk string) Action {
		return Action{Type: ActionDelete, Record: &Record{PartitionKey: pk, RowKey: rk}}
	}
	actions := []Action{mk("a", "1"), mk("b", "1"), mk("a", "2"), mk("a", "3"), mk("b", "2")}

	t.Run("flat chunks", func(t *testing.T) {
		chunks := ChunkActions(actions, 2, Capabilities{})
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[2], 1)
	})

	t.Run("grouped by partition", func(t *testing.T) {
		chunks := ChunkActions(actions, 2, Capabilities{SinglePartitionTransactions: true})
		require.Len(t, chunks, 3)
		for _, c := range chunks {
			for _, a := range c {
				assert.Equal(t, c[0].Record.PartitionKey, a.Record.PartitionKey)
			}
		}
		assert.Equal(t, "a", chunks[0][0].Record.PartitionKey)
		assert.Len(t, chunks[0], 2)
		assert.Len(t, chunks[1], 1)
		assert.Equal(t, "b", chunks[2][0].Record.PartitionKey)
	})
}

func TestEffectiveChunkSize(t *testing.T) {
	opts := DefaultBulkOptions()
	assert.Equal(t, 100, opts.EffectiveChunkSize(Capabilities{}))
	assert.Equal(t, 25, opts.EffectiveChunkSize(Capabilities{MaxBatchSize: 25}))

	clone := opts.Clone()
	clone.ChunkSize = 0
	assert.Equal(t, 100, clone.EffectiveChunkSize(Capabilities{}))
	assert.Equal(t, 100, opts.ChunkSize)
}

type pagedStore struct {
	EntityStore
	pages map[string]*Page
	calls int
}

func (s *pagedStore) Query(_ context.Context, req QueryRequest) (*Page, error) {
	s.calls++
	return s.pages[req.Continuation], nil
}

func TestStorePager(t *testing.T) {
	store := &pagedStore{pages: map[string]*Page{
		"":   {Records: []*Record{{RowKey: "1"}}, Continuation: "t1"},
		"t1": {Records: []*Record{{RowKey: "2"}}},
	}}
	pager := NewStorePager(store, QueryRequest{})
	ctx := context.Background()

	recs, done, err := pager.Next(ctx)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "1", recs[0].RowKey)

	recs, done, err = pager.Next(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "2", recs[0].RowKey)

	recs, done, err = pager.Next(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, recs)
	assert.Equal(t, 2, store.calls)
}

func TestPagerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewStorePager(&pagedStore{}, QueryRequest{}).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = (&SlicePager{}).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJSONSerializer(t *testing.T) {
	var s Serializer = JSONSerializer{}
	data, err := s.Marshal(map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, 1, out["a"])
}
