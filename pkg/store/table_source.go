package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
	"github.com/theory-cloud/tablequery/pkg/merge"
	"github.com/theory-cloud/tablequery/pkg/model"
	"github.com/theory-cloud/tablequery/pkg/query"
)

// tableSource serves fluent queries from a Table
type tableSource[T any] struct {
	t *Table[T]
}

var _ query.Source = (*tableSource[struct{}])(nil)

func (s *tableSource[T]) Metadata() *model.Metadata {
	return s.t.meta
}

func (s *tableSource[T]) Fetch(_ context.Context, req query.Request) (*query.Result, error) {
	t := s.t
	c := filter.Compile(req.Where, filter.Options{Rename: t.meta.Canonical})
	t.logger.Debug("compiled filter",
		zap.String("filter", c.Filter),
		zap.Bool("representable", c.Representable),
	)

	qr := core.QueryRequest{PageSize: t.opts.pageSizeOr(DefaultPageSize)}
	res := &query.Result{}
	if c.Representable {
		qr.Filter = c.Filter
		qr.Clauses = c.Clauses
		qr.Fields = req.Fields
		qr.Limit = req.Limit
	} else {
		qr.Fields = filter.Widen(req.Fields, c.Predicate)
		res.Residual = c.Predicate
	}

	var pager core.RecordPager
	pages := 0
	res.Pager = core.PagerFunc(func(ctx context.Context) ([]*core.Record, bool, error) {
		if pager == nil {
			store, err := t.open(ctx)
			if err != nil {
				return nil, true, t.wrap("Query", err)
			}
			pager = core.NewStorePager(store, qr)
		}
		records, done, err := pager.Next(ctx)
		if err != nil {
			return nil, true, t.wrap("Query", err)
		}
		pages++
		t.logger.Debug("fetched page", zap.Int("page", pages), zap.Int("records", len(records)), zap.Bool("done", done))
		return records, done, nil
	})
	return res, nil
}

func (s *tableSource[T]) CompileMerge(obj *expr.ObjectNode) (*merge.Patch, error) {
	return s.t.compileMerge(obj)
}

func (s *tableSource[T]) Delete(ctx context.Context, rec *core.Record) error {
	store, err := s.t.open(ctx)
	if err != nil {
		return s.t.wrap("BatchDelete", err)
	}
	return s.t.wrap("BatchDelete", store.Delete(ctx, rec.PartitionKey, rec.RowKey, rec.ETag))
}

func (s *tableSource[T]) Merge(ctx context.Context, rec *core.Record) error {
	store, err := s.t.open(ctx)
	if err != nil {
		return s.t.wrap("BatchUpdate", err)
	}
	_, err = store.Write(ctx, rec, core.ModeMerge)
	return s.t.wrap("BatchUpdate", err)
}

func (s *tableSource[T]) Submit(ctx context.Context, actions []core.Action) error {
	store, err := s.t.open(ctx)
	if err != nil {
		return s.t.wrap("Submit", err)
	}
	s.t.logger.Debug("submitting transaction", zap.Int("actions", len(actions)))
	return s.t.wrap("Submit", store.Submit(ctx, actions))
}

// Capabilities reports the store's limits once it is open. Batch terminals fetch their
// targets before submitting, so the store is open by the time this matters.
func (s *tableSource[T]) Capabilities() core.Capabilities {
	if store, ok := s.t.store.Peek(); ok {
		return store.Capabilities()
	}
	return core.Capabilities{}
}
