package query

import (
	"context"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/expr"
)

// Iterator pulls the results of a chain page by page.
//
//	it := q.Iter(ctx)
//	defer it.Close()
//	for it.Next() {
//	    use(it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] struct {
	ctx      context.Context
	q        *Query[T]
	pager    core.RecordPager
	residual expr.Node
	stage    stage[T]
	err      error
	cur      T
	curRec   *core.Record
	buf      []*core.Record
	limit    int
	yielded  int

	started   bool
	pagerDone bool
	finished  bool
}

// Next advances to the next result. It returns false at the end of the sequence,
// on error and after Close. The context is checked before every page fetch.
func (it *Iterator[T]) Next() bool {
	if it.finished {
		return false
	}
	if it.limit > 0 && it.yielded >= it.limit {
		return it.finish(nil)
	}
	if !it.started {
		if err := it.start(); err != nil {
			return it.finish(err)
		}
	}

	for {
		for len(it.buf) > 0 {
			rec := it.buf[0]
			it.buf = it.buf[1:]

			v, keep, err := it.process(rec)
			if err != nil {
				return it.finish(err)
			}
			if keep {
				it.cur = v
				it.curRec = rec
				it.yielded++
				return true
			}
		}

		if it.pagerDone {
			return it.finish(nil)
		}
		if err := it.ctx.Err(); err != nil {
			return it.finish(err)
		}
		records, done, err := it.pager.Next(it.ctx)
		if err != nil {
			return it.finish(err)
		}
		it.buf = records
		it.pagerDone = done
	}
}

func (it *Iterator[T]) start() error {
	it.started = true
	q := it.q
	if q.err != nil {
		return q.err
	}
	if err := it.ctx.Err(); err != nil {
		return err
	}

	where := q.where
	if where != nil && !expr.DependsOnParam(where) {
		if v, err := expr.Fold(where); err == nil {
			if b, ok := v.(bool); ok {
				if !b {
					it.pagerDone = true
					it.stage = q.newStage()
					return nil
				}
				where = nil
			}
		}
	}

	req := Request{Where: where, Fields: q.fields}
	if !q.distinct {
		req.Limit = it.limit
	}
	res, err := q.src.Fetch(it.ctx, req)
	if err != nil {
		return err
	}
	it.pager = res.Pager
	it.residual = res.Residual
	it.stage = q.newStage()
	return nil
}

func (it *Iterator[T]) process(rec *core.Record) (T, bool, error) {
	if it.residual != nil {
		ok, err := expr.Matches(it.residual, rec)
		if err != nil || !ok {
			var zero T
			return zero, false, err
		}
	}
	if it.q.fields != nil {
		rec = rec.Project(it.q.fields)
	}
	return it.stage(rec)
}

func (it *Iterator[T]) finish(err error) bool {
	it.finished = true
	it.err = err
	it.buf = nil
	return false
}

// Value returns the current result
func (it *Iterator[T]) Value() T {
	return it.cur
}

// record returns the stored record behind the current result
func (it *Iterator[T]) record() *core.Record {
	return it.curRec
}

// Err returns the error that ended the iteration, if any
func (it *Iterator[T]) Err() error {
	return it.err
}

// Close stops the iteration. Buffered records are released; no further page is fetched.
func (it *Iterator[T]) Close() {
	if !it.finished {
		it.finish(nil)
	}
}
