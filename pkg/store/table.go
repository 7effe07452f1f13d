package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/internal/lazy"
	"github.com/theory-cloud/tablequery/pkg/changes"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
	"github.com/theory-cloud/tablequery/pkg/merge"
	"github.com/theory-cloud/tablequery/pkg/model"
	"github.com/theory-cloud/tablequery/pkg/query"
	"github.com/theory-cloud/tablequery/pkg/validation"
)

// Table is the typed facade over one entity store table
type Table[T any] struct {
	store  *lazy.Value[core.EntityStore]
	meta   *model.Metadata
	opts   *options
	logger *zap.Logger
	name   string

	// tracked is set when *T reports its own changed fields
	tracked bool
}

// NewTable returns a table whose store is opened by open on first use
func NewTable[T any](name string, open func(ctx context.Context) (core.EntityStore, error), opts ...Option) (*Table[T], error) {
	if err := validation.ValidateTableName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidUsage, err)
	}
	if open == nil {
		return nil, errors.Usage("table %s has no store", name)
	}
	meta, err := model.For[T]()
	if err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	_, tracked := any((*T)(nil)).(changes.Tracker)
	return &Table[T]{
		name:    name,
		meta:    meta,
		store:   lazy.New(open),
		opts:    o,
		logger:  o.logger.With(zap.String("table", name)),
		tracked: tracked,
	}, nil
}

// NewTableWithStore returns a table over an open store
func NewTableWithStore[T any](name string, s core.EntityStore, opts ...Option) (*Table[T], error) {
	if s == nil {
		return nil, errors.Usage("table %s has no store", name)
	}
	return NewTable[T](name, func(context.Context) (core.EntityStore, error) { return s, nil }, opts...)
}

// Name returns the table name
func (t *Table[T]) Name() string {
	return t.name
}

// Metadata returns the entity metadata
func (t *Table[T]) Metadata() *model.Metadata {
	return t.meta
}

func (t *Table[T]) open(ctx context.Context) (core.EntityStore, error) {
	s, err := t.store.Get(ctx)
	if err != nil {
		t.logger.Debug("store initialisation failed", zap.Error(err))
		return nil, err
	}
	return s, nil
}

func (t *Table[T]) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewError(op, t.name, err)
}

func validateKeys(partitionKey, rowKey string, blobName bool) error {
	if partitionKey == "" || rowKey == "" {
		return errors.ErrMissingPrimaryKey
	}
	for _, k := range []string{partitionKey, rowKey} {
		if err := validation.ValidateKey(k, blobName); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidUsage, err)
		}
	}
	return nil
}

// Get returns the entity with the given keys or ErrItemNotFound
func (t *Table[T]) Get(ctx context.Context, partitionKey, rowKey string) (T, error) {
	var out T
	if err := validateKeys(partitionKey, rowKey, false); err != nil {
		return out, t.wrap("Get", err)
	}
	s, err := t.open(ctx)
	if err != nil {
		return out, t.wrap("Get", err)
	}
	rec, err := s.Get(ctx, partitionKey, rowKey, nil)
	if err != nil {
		return out, t.wrap("Get", err)
	}
	if err := t.meta.Decode(rec, &out); err != nil {
		return out, t.wrap("Get", err)
	}
	return out, nil
}

// TryGet is Get reporting a missing entity as false instead of an error
func (t *Table[T]) TryGet(ctx context.Context, partitionKey, rowKey string) (T, bool, error) {
	v, err := t.Get(ctx, partitionKey, rowKey)
	if errors.IsNotFound(err) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Add inserts entity and fails with ErrAlreadyExists when its keys are taken.
// The stored ETag and timestamp are written back into entity.
func (t *Table[T]) Add(ctx context.Context, entity *T) error {
	return t.wrap("Add", t.write(ctx, entity, nil, core.ModeAdd))
}

// Upsert inserts entity or replaces the stored one unconditionally
func (t *Table[T]) Upsert(ctx context.Context, entity *T) error {
	return t.wrap("Upsert", t.write(ctx, entity, nil, core.ModeUpsert))
}

// Update replaces the stored entity, guarded by the entity's ETag. When *T tracks its
// own changes only the changed fields are sent, and the tracked set is reset after a
// successful write. A tracking entity without changes is not written.
func (t *Table[T]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return t.wrap("Update", errors.Usage("entity is nil"))
	}
	if t.tracked {
		tracker := any(entity).(changes.Tracker)
		fields := t.meta.PropertyNames(tracker.ChangedFields())
		if len(fields) == 0 {
			return nil
		}
		if err := t.write(ctx, entity, fields, core.ModeMerge); err != nil {
			return t.wrap("Update", err)
		}
		tracker.ResetChanges()
		return nil
	}
	return t.wrap("Update", t.write(ctx, entity, nil, core.ModeReplace))
}

// UpdateTracked merges the fields changed through tr into the stored entity and resets them
func (t *Table[T]) UpdateTracked(ctx context.Context, tr *changes.Tracked[T]) error {
	if tr == nil {
		return t.wrap("UpdateTracked", errors.Usage("tracked entity is nil"))
	}
	fields := t.meta.PropertyNames(tr.ChangedFields())
	if len(fields) == 0 {
		return nil
	}
	entity := tr.Entity()
	if err := t.write(ctx, &entity, fields, core.ModeMerge); err != nil {
		return t.wrap("UpdateTracked", err)
	}
	tr.Replace(entity)
	tr.ResetChanges()
	return nil
}

// UpdatePatch merges a literal patch into the entity its key members address. The
// entity must exist; no concurrency token is checked.
func (t *Table[T]) UpdatePatch(ctx context.Context, obj *expr.ObjectNode) error {
	patch, err := t.compileMerge(obj)
	if err != nil {
		return t.wrap("UpdatePatch", err)
	}
	if err := patch.Validate(merge.UseAddressable); err != nil {
		return t.wrap("UpdatePatch", err)
	}
	values, err := patch.Evaluate(nil)
	if err != nil {
		return t.wrap("UpdatePatch", err)
	}
	rec := patch.Record(values)
	if err := validateKeys(rec.PartitionKey, rec.RowKey, false); err != nil {
		return t.wrap("UpdatePatch", err)
	}
	s, err := t.open(ctx)
	if err != nil {
		return t.wrap("UpdatePatch", err)
	}
	_, err = s.Write(ctx, rec, core.ModeMerge)
	return t.wrap("UpdatePatch", err)
}

// write encodes entity, keeps only fields when set, and writes the stored state back.
func (t *Table[T]) write(ctx context.Context, entity *T, fields []string, mode core.WriteMode) error {
	if entity == nil {
		return errors.Usage("entity is nil")
	}
	rec, err := t.meta.Encode(entity)
	if err != nil {
		return err
	}
	if err := validateKeys(rec.PartitionKey, rec.RowKey, false); err != nil {
		return err
	}
	if mode.Conditional() && rec.ETag == "" {
		if t.meta.ETagField == nil {
			return errors.Usage("%s has no ETag field to guard the update", t.meta.Type)
		}
		return errors.Usage("update needs the entity's ETag")
	}
	if fields != nil {
		rec = rec.Project(fields)
	}

	s, err := t.open(ctx)
	if err != nil {
		return err
	}
	stored, err := s.Write(ctx, rec, mode)
	if err != nil {
		return err
	}
	return t.meta.Decode(stored, entity)
}

// Delete removes the entity with the given keys. A missing entity is not an error.
func (t *Table[T]) Delete(ctx context.Context, partitionKey, rowKey string) error {
	if err := validateKeys(partitionKey, rowKey, false); err != nil {
		return t.wrap("Delete", err)
	}
	s, err := t.open(ctx)
	if err != nil {
		return t.wrap("Delete", err)
	}
	return t.wrap("Delete", s.Delete(ctx, partitionKey, rowKey, ""))
}

// DeleteEntity removes entity, guarded by its ETag when it has one
func (t *Table[T]) DeleteEntity(ctx context.Context, entity T) error {
	rec, err := t.meta.Encode(entity)
	if err != nil {
		return t.wrap("DeleteEntity", err)
	}
	if err := validateKeys(rec.PartitionKey, rec.RowKey, false); err != nil {
		return t.wrap("DeleteEntity", err)
	}
	s, err := t.open(ctx)
	if err != nil {
		return t.wrap("DeleteEntity", err)
	}
	return t.wrap("DeleteEntity", s.Delete(ctx, rec.PartitionKey, rec.RowKey, rec.ETag))
}

// PageRequest describes one page of a filter-string query
type PageRequest struct {
	// Filter is a server filter string such as "PartitionKey = 'p' and N > 2"
	Filter string
	// Continuation resumes after the previous page
	Continuation string
	// Fields lists the entity fields to populate; nil populates all of them
	Fields []string
	// PageSize caps the page; 0 uses the table's page size
	PageSize int
}

// PageResult is one page of entities. Continuation is empty on the last page.
type PageResult[T any] struct {
	Continuation string
	Items        []T
}

// QueryPage runs a filter-string query one page at a time
func (t *Table[T]) QueryPage(ctx context.Context, req PageRequest) (*PageResult[T], error) {
	if err := validation.ValidateFilter(req.Filter); err != nil {
		return nil, t.wrap("QueryPage", fmt.Errorf("%w: %w", errors.ErrInvalidUsage, err))
	}
	clauses, err := filter.Parse(req.Filter)
	if err != nil {
		return nil, t.wrap("QueryPage", err)
	}
	size := req.PageSize
	if size <= 0 {
		size = t.opts.pageSizeOr(DefaultPageSize)
	}
	var fields []string
	if req.Fields != nil {
		fields = t.meta.PropertyNames(req.Fields)
	}

	s, err := t.open(ctx)
	if err != nil {
		return nil, t.wrap("QueryPage", err)
	}
	t.logger.Debug("query page", zap.String("filter", req.Filter), zap.Int("page_size", size))
	page, err := s.Query(ctx, core.QueryRequest{
		Filter:       filter.Render(clauses),
		Clauses:      clauses,
		Continuation: req.Continuation,
		Fields:       fields,
		PageSize:     size,
	})
	if err != nil {
		return nil, t.wrap("QueryPage", err)
	}

	out := &PageResult[T]{Continuation: page.Continuation, Items: make([]T, 0, len(page.Records))}
	for _, rec := range page.Records {
		var v T
		if err := t.meta.Decode(rec, &v); err != nil {
			return nil, t.wrap("QueryPage", err)
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}

// Query starts a fluent query over the whole table
func (t *Table[T]) Query() *query.Query[T] {
	return query.New[T](&tableSource[T]{t})
}

// Where starts a fluent query narrowed by predicate
func (t *Table[T]) Where(predicate expr.Node) *query.Query[T] {
	return t.Query().Where(predicate)
}

func (t *Table[T]) compileMerge(obj *expr.ObjectNode) (*merge.Patch, error) {
	return merge.Compile(obj, merge.Options{Rename: t.meta.Canonical, Known: t.meta.Known})
}
