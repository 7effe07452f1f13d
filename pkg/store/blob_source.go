package store

import (
	"context"
	"iter"
	"maps"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/merge"
	"github.com/theory-cloud/tablequery/pkg/model"
	"github.com/theory-cloud/tablequery/pkg/plan"
	"github.com/theory-cloud/tablequery/pkg/query"
)

// maxParallel bounds concurrent listings and blob reads of one page
const maxParallel = 8

// blobSource serves fluent queries from a BlobTable. The plan is chosen when the first
// page is pulled; every page then loads a batch of candidate blobs and filters it
// locally, so the pager always filters exactly.
type blobSource[T any] struct {
	b *BlobTable[T]
}

var _ query.Source = (*blobSource[struct{}])(nil)

func (s *blobSource[T]) Metadata() *model.Metadata {
	return s.b.meta
}

func (s *blobSource[T]) Fetch(_ context.Context, req query.Request) (*query.Result, error) {
	b := s.b
	compiled := b.compile(req.Where)
	size := b.opts.pageSizeOr(DefaultBlobPageSize)

	var (
		container blob.Container
		local     expr.Node
		names     []string
		pos       int
		started   bool
	)
	pager := core.PagerFunc(func(ctx context.Context) ([]*core.Record, bool, error) {
		if !started {
			c, err := b.open(ctx)
			if err != nil {
				return nil, true, b.wrap("Query", err)
			}
			p := plan.Choose(compiled, c.Capabilities())
			b.logger.Debug("chose plan", zap.Stringer("kind", p.Kind()), zap.String("plan", p.String()))

			names, local, err = b.candidates(ctx, c, p)
			if err != nil {
				return nil, true, b.wrap("Query", err)
			}
			if local == nil && req.Limit > 0 {
				size = min(size, req.Limit)
			}
			container, started = c, true
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		end := min(pos+size, len(names))
		batch := names[pos:end]
		pos = end
		records, err := b.load(ctx, container, batch, local)
		if err != nil {
			return nil, true, b.wrap("Query", err)
		}
		return records, pos >= len(names), nil
	})
	return &query.Result{Pager: pager}, nil
}

// candidates returns the blob names p visits and the predicate left to check locally
func (b *BlobTable[T]) candidates(ctx context.Context, c blob.Container, p plan.Plan) ([]string, expr.Node, error) {
	switch p := p.(type) {
	case plan.TagSearch:
		names, err := collectNames(c.FindByTags(ctx, p.Filter))
		return names, nil, err
	case plan.TagSearchThenLocalFilter:
		names, err := collectNames(c.FindByTags(ctx, p.Filter))
		return names, p.Predicate, err
	case plan.HierarchicalByKeys:
		names, err := listPartitions(ctx, c, p.PartitionKeys, p.RowKeys)
		return names, p.Residual, err
	case plan.FullScanLocalFilter:
		names, err := listAll(ctx, c)
		return names, p.Predicate, err
	default:
		return nil, nil, errors.Usage("unknown plan %s", p.Kind())
	}
}

func collectNames(seq iter.Seq2[string, error]) ([]string, error) {
	var names []string
	for name, err := range seq {
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// listPartitions lists each partition one level deep in parallel and returns the entity
// names in partition order. A nil rowKeys keeps every row.
func listPartitions(ctx context.Context, c blob.Container, partitionKeys, rowKeys []string) ([]string, error) {
	results := make([][]string, len(partitionKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, pk := range partitionKeys {
		g.Go(func() error {
			for entry, err := range c.List(gctx, blob.PartitionPrefix(pk), true) {
				if err != nil {
					return err
				}
				if entry.IsPrefix {
					continue
				}
				_, rk, ok := blob.SplitName(entry.Name)
				if !ok || (rowKeys != nil && !slices.Contains(rowKeys, rk)) {
					continue
				}
				results[i] = append(results[i], entry.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

// listAll enumerates every entity blob of the container
func listAll(ctx context.Context, c blob.Container) ([]string, error) {
	var names []string
	for entry, err := range c.List(ctx, "", false) {
		if err != nil {
			return nil, err
		}
		if _, rk, ok := blob.SplitName(entry.Name); entry.IsPrefix || !ok || rk == "" {
			continue
		}
		names = append(names, entry.Name)
	}
	return names, nil
}

// load reads names in parallel and returns, in order, the records that satisfy local.
// Blobs deleted since they were listed are skipped.
func (b *BlobTable[T]) load(ctx context.Context, c blob.Container, names []string, local expr.Node) ([]*core.Record, error) {
	loaded := make([]*core.Record, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, name := range names {
		g.Go(func() error {
			obj, err := c.Get(gctx, name)
			if errors.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			rec, err := b.decode(obj)
			if err != nil {
				return err
			}
			loaded[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*core.Record, 0, len(loaded))
	for _, rec := range loaded {
		if rec == nil {
			continue
		}
		if local != nil {
			ok, err := expr.Matches(local, rec)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *blobSource[T]) CompileMerge(obj *expr.ObjectNode) (*merge.Patch, error) {
	return merge.Compile(obj, merge.Options{Rename: s.b.meta.Canonical, Known: s.b.meta.Known})
}

func (s *blobSource[T]) Delete(ctx context.Context, rec *core.Record) error {
	c, err := s.b.open(ctx)
	if err != nil {
		return s.b.wrap("BatchDelete", err)
	}
	return s.b.wrap("BatchDelete", c.Delete(ctx, blob.Name(rec.PartitionKey, rec.RowKey), rec.ETag))
}

// Merge reads the current blob, merges rec's properties into it and writes it back
// guarded by the ETag it read.
func (s *blobSource[T]) Merge(ctx context.Context, rec *core.Record) error {
	b := s.b
	c, err := b.open(ctx)
	if err != nil {
		return b.wrap("BatchUpdate", err)
	}
	obj, err := c.Get(ctx, blob.Name(rec.PartitionKey, rec.RowKey))
	if err != nil {
		return b.wrap("BatchUpdate", err)
	}
	if rec.ETag != "" && rec.ETag != obj.ETag {
		return b.wrap("BatchUpdate", errors.ErrConcurrencyConflict)
	}
	current, err := b.decode(obj)
	if err != nil {
		return b.wrap("BatchUpdate", err)
	}
	maps.Copy(current.Properties, rec.Properties)

	var merged T
	if err := b.meta.Decode(current, &merged); err != nil {
		return b.wrap("BatchUpdate", err)
	}
	return b.wrap("BatchUpdate", b.put(ctx, c, &merged, blob.Condition{IfMatch: obj.ETag}))
}

func (s *blobSource[T]) Submit(context.Context, []core.Action) error {
	return s.b.wrap("Submit", errors.Usage("blob containers do not support transactions"))
}

func (s *blobSource[T]) Capabilities() core.Capabilities {
	return core.Capabilities{}
}
