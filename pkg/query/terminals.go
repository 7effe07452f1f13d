package query

import (
	"context"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/merge"
)

// ToList materializes the chain
func (q *Query[T]) ToList(ctx context.Context) ([]T, error) {
	it := q.Iter(ctx)
	defer it.Close()

	out := make([]T, 0)
	for it.Next() {
		out = append(out, it.Value())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first result or ErrNoElements
func (q *Query[T]) First(ctx context.Context) (T, error) {
	v, found, err := q.first(ctx)
	if err == nil && !found {
		err = errors.ErrNoElements
	}
	return v, err
}

// FirstOrDefault returns the first result, or the zero value when there is none
func (q *Query[T]) FirstOrDefault(ctx context.Context) (T, error) {
	v, _, err := q.first(ctx)
	return v, err
}

func (q *Query[T]) first(ctx context.Context) (T, bool, error) {
	it := q.iter(ctx, 1)
	defer it.Close()

	var zero T
	if it.Next() {
		return it.Value(), true, nil
	}
	return zero, false, it.Err()
}

// Single returns the only result. It fails with ErrNoElements on an empty sequence and
// with ErrMultipleElements as soon as a second result is observed.
func (q *Query[T]) Single(ctx context.Context) (T, error) {
	v, found, err := q.single(ctx)
	if err == nil && !found {
		err = errors.ErrNoElements
	}
	return v, err
}

// SingleOrDefault is Single returning the zero value for an empty sequence
func (q *Query[T]) SingleOrDefault(ctx context.Context) (T, error) {
	v, _, err := q.single(ctx)
	return v, err
}

func (q *Query[T]) single(ctx context.Context) (T, bool, error) {
	it := q.iter(ctx, 2)
	defer it.Close()

	var zero T
	if !it.Next() {
		return zero, false, it.Err()
	}
	v := it.Value()
	if it.Next() {
		return zero, false, errors.ErrMultipleElements
	}
	if err := it.Err(); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Count returns the number of results
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	it := q.Iter(ctx)
	defer it.Close()

	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// BatchDelete deletes every result with one call per entity and returns the number
// deleted. Each delete is guarded by the ETag the entity was read with.
func (q *Query[T]) BatchDelete(ctx context.Context) (int, error) {
	records, err := q.targets(ctx, false)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		if err := q.src.Delete(ctx, rec); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// BatchDeleteTransaction deletes every result in transactional chunks. The count
// returned with an error covers the chunks committed before the failure.
func (q *Query[T]) BatchDeleteTransaction(ctx context.Context) (int, error) {
	records, err := q.targets(ctx, false)
	if err != nil {
		return 0, err
	}
	actions := make([]core.Action, len(records))
	for i, rec := range records {
		actions[i] = core.Action{Type: core.ActionDelete, Record: rec}
	}
	return q.submit(ctx, actions)
}

// BatchUpdate merges obj into every result with one call per entity. Members that read
// the entity are evaluated against each fetched entity.
func (q *Query[T]) BatchUpdate(ctx context.Context, obj *expr.ObjectNode) (int, error) {
	patch, records, err := q.updateTargets(ctx, obj)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		update, err := patchRecord(patch, rec)
		if err != nil {
			return i, err
		}
		if err := q.src.Merge(ctx, update); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// BatchUpdateTransaction merges obj into every result in transactional chunks
func (q *Query[T]) BatchUpdateTransaction(ctx context.Context, obj *expr.ObjectNode) (int, error) {
	patch, records, err := q.updateTargets(ctx, obj)
	if err != nil {
		return 0, err
	}
	actions := make([]core.Action, len(records))
	for i, rec := range records {
		update, err := patchRecord(patch, rec)
		if err != nil {
			return 0, err
		}
		actions[i] = core.Action{Type: core.ActionMerge, Record: update}
	}
	return q.submit(ctx, actions)
}

func (q *Query[T]) updateTargets(ctx context.Context, obj *expr.ObjectNode) (*merge.Patch, []*core.Record, error) {
	if err := q.batchUsage(true); err != nil {
		return nil, nil, err
	}
	patch, err := q.src.CompileMerge(obj)
	if err != nil {
		return nil, nil, err
	}
	if err := patch.Validate(merge.UsePerEntity); err != nil {
		return nil, nil, err
	}
	records, err := q.targets(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	return patch, records, nil
}

func patchRecord(patch *merge.Patch, rec *core.Record) (*core.Record, error) {
	values, err := patch.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	update := patch.Record(values)
	update.PartitionKey = rec.PartitionKey
	update.RowKey = rec.RowKey
	update.ETag = rec.ETag
	return update, nil
}

func (q *Query[T]) batchUsage(update bool) error {
	switch {
	case q.err != nil:
		return q.err
	case q.transformed:
		return errors.Usage("batch operations need entities, not selected results")
	case update && q.projected:
		return errors.Usage("batch update after a field projection would clear the unselected fields")
	}
	return nil
}

// targets collects the stored records behind every result before any write is issued
func (q *Query[T]) targets(ctx context.Context, update bool) ([]*core.Record, error) {
	if err := q.batchUsage(update); err != nil {
		return nil, err
	}

	it := q.Iter(ctx)
	defer it.Close()

	var records []*core.Record
	for it.Next() {
		records = append(records, it.record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (q *Query[T]) submit(ctx context.Context, actions []core.Action) (int, error) {
	caps := q.src.Capabilities()
	size := core.DefaultBulkOptions().EffectiveChunkSize(caps)

	done := 0
	for _, chunk := range core.ChunkActions(actions, size, caps) {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := q.src.Submit(ctx, chunk); err != nil {
			return done, err
		}
		done += len(chunk)
	}
	return done, nil
}
