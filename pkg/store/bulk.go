package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
)

// InsertMany adds every entity. See bulk for the meaning of opts and the result.
func (t *Table[T]) InsertMany(ctx context.Context, entities []T, opts *core.BulkOptions) (int, error) {
	return t.bulk(ctx, "InsertMany", entities, core.ActionAdd, opts)
}

// UpdateMany replaces every entity, each guarded by its own ETag
func (t *Table[T]) UpdateMany(ctx context.Context, entities []T, opts *core.BulkOptions) (int, error) {
	return t.bulk(ctx, "UpdateMany", entities, core.ActionReplace, opts)
}

// UpsertMany inserts or replaces every entity
func (t *Table[T]) UpsertMany(ctx context.Context, entities []T, opts *core.BulkOptions) (int, error) {
	return t.bulk(ctx, "UpsertMany", entities, core.ActionUpsert, opts)
}

// DeleteMany deletes every entity, each guarded by its ETag when it has one
func (t *Table[T]) DeleteMany(ctx context.Context, entities []T, opts *core.BulkOptions) (int, error) {
	return t.bulk(ctx, "DeleteMany", entities, core.ActionDelete, opts)
}

// bulk applies one action per entity and returns how many were applied.
//
// In transactional mode the actions are grouped into chunks the store accepts and each
// chunk is submitted atomically; the first failing chunk stops the operation and the
// count covers the chunks committed before it. Otherwise every action is sent on its
// own with at most opts.Concurrency calls in flight, all actions are attempted, and the
// failures are joined under ErrBatchOperationFailed.
func (t *Table[T]) bulk(ctx context.Context, op string, entities []T, typ core.ActionType, opts *core.BulkOptions) (int, error) {
	if opts == nil {
		opts = t.opts.bulk
	}
	if len(entities) == 0 {
		return 0, nil
	}

	actions := make([]core.Action, 0, len(entities))
	for i := range entities {
		rec, err := t.meta.Encode(&entities[i])
		if err != nil {
			return 0, t.wrap(op, err)
		}
		if err := validateKeys(rec.PartitionKey, rec.RowKey, false); err != nil {
			return 0, t.wrap(op, err)
		}
		if typ == core.ActionReplace && rec.ETag == "" {
			return 0, t.wrap(op, errors.Usage("entity %d has no ETag", i))
		}
		actions = append(actions, core.Action{Type: typ, Record: rec})
	}

	s, err := t.open(ctx)
	if err != nil {
		return 0, t.wrap(op, err)
	}
	if opts.Transactional {
		return t.bulkTransactional(ctx, op, s, actions, opts)
	}
	return t.bulkBestEffort(ctx, op, s, actions, opts)
}

func (t *Table[T]) bulkTransactional(ctx context.Context, op string, s core.EntityStore, actions []core.Action, opts *core.BulkOptions) (int, error) {
	caps := s.Capabilities()
	chunks := core.ChunkActions(actions, opts.EffectiveChunkSize(caps), caps)

	done := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return done, t.wrap(op, err)
		}
		t.logger.Debug("submitting chunk",
			zap.String("op", op),
			zap.Int("chunk", i),
			zap.Int("actions", len(chunk)),
		)
		if err := s.Submit(ctx, chunk); err != nil {
			return done, errors.NewErrorWithContext(op, t.name, err, map[string]any{
				"chunk":     i,
				"committed": done,
			})
		}
		done += len(chunk)
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(done, len(actions))
		}
	}
	return done, nil
}

func (t *Table[T]) bulkBestEffort(ctx context.Context, op string, s core.EntityStore, actions []core.Action, opts *core.BulkOptions) (int, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = core.DefaultBulkOptions().Concurrency
	}

	var (
		mu   sync.Mutex
		done int
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, a := range actions {
		g.Go(func() error {
			err := applyAction(ctx, s, a)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("action %d (%s): %w", i, a.Type, err))
				return nil
			}
			done++
			if opts.ProgressCallback != nil {
				opts.ProgressCallback(done, len(actions))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		t.logger.Debug("bulk operation had failures", zap.String("op", op), zap.Int("failed", len(errs)), zap.Int("succeeded", done))
		err := fmt.Errorf("%w: %d of %d actions failed: %w", errors.ErrBatchOperationFailed, len(errs), len(actions), stderrors.Join(errs...))
		return done, t.wrap(op, err)
	}
	return done, nil
}

func applyAction(ctx context.Context, s core.EntityStore, a core.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Type == core.ActionDelete {
		return s.Delete(ctx, a.Record.PartitionKey, a.Record.RowKey, a.Record.ETag)
	}
	_, err := s.Write(ctx, a.Record, a.Type.Mode())
	return err
}
