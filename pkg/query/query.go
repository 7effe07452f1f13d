// Package query implements the fluent, immutable query chain over a Source.
//
// A chain accumulates a predicate, a projection, a result cap, a deduplication key
// and a reshape function in any order. Nothing is fetched until a terminal or an
// iterator pulls the first record.
package query

import (
	"context"
	"iter"
	"reflect"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
	"github.com/theory-cloud/tablequery/pkg/model"
)

// stage turns one matching record into a result; keep is false for records the chain drops
type stage[T any] func(rec *core.Record) (value T, keep bool, err error)

// Query is an immutable query chain. Every builder method returns a new chain and
// leaves the receiver untouched, so a chain can be shared and extended concurrently.
type Query[T any] struct {
	src      Source
	meta     *model.Metadata
	err      error
	where    expr.Node
	newStage func() stage[T]
	fields   []string
	take     int

	projected   bool
	transformed bool
	distinct    bool
}

// New starts a chain over src. T must be the entity type src decodes.
func New[T any](src Source) *Query[T] {
	meta := src.Metadata()
	q := &Query[T]{src: src, meta: meta}
	q.newStage = func() stage[T] { return decodeStage[T](meta) }
	if want := reflect.TypeOf((*T)(nil)).Elem(); meta.Type != want {
		q.err = errors.Usage("query over %s cannot decode %s", want, meta.Type)
	}
	return q
}

func decodeStage[T any](meta *model.Metadata) stage[T] {
	return func(rec *core.Record) (T, bool, error) {
		var v T
		if err := meta.Decode(rec, &v); err != nil {
			return v, false, err
		}
		return v, true, nil
	}
}

func (q *Query[T]) clone() *Query[T] {
	c := *q
	return &c
}

func (q *Query[T]) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// Err returns the first usage error recorded while building the chain
func (q *Query[T]) Err() error {
	return q.err
}

// Where narrows the chain. Repeated calls are conjoined. Predicates always address
// entity fields, also after Select.
func (q *Query[T]) Where(predicate expr.Node) *Query[T] {
	c := q.clone()
	c.where = filter.Combine(c.where, predicate)
	return c
}

// ExistsIn keeps entities whose field equals one of values. No values matches nothing.
func (q *Query[T]) ExistsIn(field string, values ...any) *Query[T] {
	return q.Where(expr.In(field, values...))
}

// NotExistsIn drops entities whose field equals one of values
func (q *Query[T]) NotExistsIn(field string, values ...any) *Query[T] {
	return q.Where(expr.NotIn(field, values...))
}

// Take caps the number of results. Repeated calls keep the smallest cap.
func (q *Query[T]) Take(n int) *Query[T] {
	c := q.clone()
	if n <= 0 {
		c.fail(errors.Usage("take count must be positive, got %d", n))
		return c
	}
	if c.take == 0 || n < c.take {
		c.take = n
	}
	return c
}

// SelectFields restricts the fetched properties to fields. Keys and system fields are
// always populated; every other field of the results keeps its zero value.
func (q *Query[T]) SelectFields(fields ...string) *Query[T] {
	c := q.clone()
	if c.projected {
		c.fail(errors.Usage("projection is already set"))
		return c
	}
	names, err := projection(c.meta, fields)
	if err != nil {
		c.fail(err)
		return c
	}
	c.fields = names
	c.projected = true
	return c
}

func projection(meta *model.Metadata, fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, errors.Usage("projection needs at least one field")
	}
	for _, f := range fields {
		if !meta.Known(meta.Canonical(f)) {
			return nil, errors.Usage("projection references unknown field %s", f)
		}
	}
	return meta.PropertyNames(fields), nil
}

// Select reshapes each result with fn. fields lists the entity fields fn reads; they
// bound the fetch the same way SelectFields does. Without fields every property is
// fetched. A chain takes one projection: Select after SelectFields is a usage error.
func Select[T, R any](q *Query[T], fn func(T) R, fields ...string) *Query[R] {
	r := &Query[R]{
		src:         q.src,
		meta:        q.meta,
		err:         q.err,
		where:       q.where,
		fields:      q.fields,
		take:        q.take,
		projected:   true,
		transformed: true,
		distinct:    q.distinct,
	}

	switch {
	case q.projected:
		r.fail(errors.Usage("projection is already set"))
	case fn == nil:
		r.fail(errors.Usage("select function is nil"))
	case len(fields) > 0:
		names, err := projection(q.meta, fields)
		if err != nil {
			r.fail(err)
		}
		r.fields = names
	}

	prev := q.newStage
	r.newStage = func() stage[R] {
		inner := prev()
		return func(rec *core.Record) (R, bool, error) {
			v, keep, err := inner(rec)
			if err != nil || !keep {
				var zero R
				return zero, keep, err
			}
			return fn(v), true, nil
		}
	}
	return r
}

// DistinctBy keeps the first result of every key. Deduplication runs in-process and
// remembers every key seen during one enumeration.
func DistinctBy[T any, K comparable](q *Query[T], key func(T) K) *Query[T] {
	c := q.clone()
	if key == nil {
		c.fail(errors.Usage("distinct key function is nil"))
		return c
	}
	c.distinct = true

	prev := q.newStage
	c.newStage = func() stage[T] {
		inner := prev()
		seen := make(map[K]struct{})
		return func(rec *core.Record) (T, bool, error) {
			v, keep, err := inner(rec)
			if err != nil || !keep {
				return v, keep, err
			}
			k := key(v)
			if _, dup := seen[k]; dup {
				return v, false, nil
			}
			seen[k] = struct{}{}
			return v, true, nil
		}
	}
	return c
}

// Iter returns a lazy iterator over the chain. Usage errors surface from Err after the
// first Next.
func (q *Query[T]) Iter(ctx context.Context) *Iterator[T] {
	return q.iter(ctx, 0)
}

// All returns the chain as a range-over-func sequence. Iteration stops at the first error.
func (q *Query[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		it := q.Iter(ctx)
		defer it.Close()
		for it.Next() {
			if !yield(it.Value(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// iter builds an iterator yielding at most limit results on top of the chain's own cap
func (q *Query[T]) iter(ctx context.Context, limit int) *Iterator[T] {
	if q.take > 0 && (limit == 0 || q.take < limit) {
		limit = q.take
	}
	return &Iterator[T]{ctx: ctx, q: q, limit: limit}
}

// String renders the chain for logs
func (q *Query[T]) String() string {
	if q.where == nil {
		return "<all>"
	}
	return expr.String(q.where)
}
