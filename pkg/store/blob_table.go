package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/internal/lazy"
	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
	"github.com/theory-cloud/tablequery/pkg/model"
	"github.com/theory-cloud/tablequery/pkg/plan"
	"github.com/theory-cloud/tablequery/pkg/query"
	"github.com/theory-cloud/tablequery/pkg/validation"
)

// BlobTable stores entities as blobs named "partitionKey/rowKey". The payload is the
// serialized entity; the keys and the fields tagged `tq:"tag"` become blob tags.
type BlobTable[T any] struct {
	container *lazy.Value[blob.Container]
	meta      *model.Metadata
	opts      *options
	logger    *zap.Logger
	name      string
}

// NewBlobTable returns a blob table whose container is opened by open on first use
func NewBlobTable[T any](name string, open func(ctx context.Context) (blob.Container, error), opts ...Option) (*BlobTable[T], error) {
	if err := validation.ValidateContainerName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidUsage, err)
	}
	if open == nil {
		return nil, errors.Usage("container %s has no store", name)
	}
	meta, err := model.For[T]()
	if err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	return &BlobTable[T]{
		name:      name,
		meta:      meta,
		container: lazy.New(open),
		opts:      o,
		logger:    o.logger.With(zap.String("container", name)),
	}, nil
}

// NewBlobTableWithContainer returns a blob table over an open container
func NewBlobTableWithContainer[T any](name string, c blob.Container, opts ...Option) (*BlobTable[T], error) {
	if c == nil {
		return nil, errors.Usage("container %s has no store", name)
	}
	return NewBlobTable[T](name, func(context.Context) (blob.Container, error) { return c, nil }, opts...)
}

// Name returns the container name
func (b *BlobTable[T]) Name() string {
	return b.name
}

func (b *BlobTable[T]) open(ctx context.Context) (blob.Container, error) {
	c, err := b.container.Get(ctx)
	if err != nil {
		b.logger.Debug("container initialisation failed", zap.Error(err))
		return nil, err
	}
	return c, nil
}

func (b *BlobTable[T]) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewError(op, b.name, err)
}

// Get returns the entity with the given keys or ErrItemNotFound
func (b *BlobTable[T]) Get(ctx context.Context, partitionKey, rowKey string) (T, error) {
	var out T
	if err := validateKeys(partitionKey, rowKey, true); err != nil {
		return out, b.wrap("Get", err)
	}
	c, err := b.open(ctx)
	if err != nil {
		return out, b.wrap("Get", err)
	}
	obj, err := c.Get(ctx, blob.Name(partitionKey, rowKey))
	if err != nil {
		return out, b.wrap("Get", err)
	}
	rec, err := b.decode(obj)
	if err != nil {
		return out, b.wrap("Get", err)
	}
	if err := b.meta.Decode(rec, &out); err != nil {
		return out, b.wrap("Get", err)
	}
	return out, nil
}

// TryGet is Get reporting a missing entity as false instead of an error
func (b *BlobTable[T]) TryGet(ctx context.Context, partitionKey, rowKey string) (T, bool, error) {
	v, err := b.Get(ctx, partitionKey, rowKey)
	if errors.IsNotFound(err) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Add stores entity and fails with ErrAlreadyExists when its blob exists
func (b *BlobTable[T]) Add(ctx context.Context, entity *T) error {
	return b.wrap("Add", b.write(ctx, entity, blob.Condition{IfNoneMatch: true}))
}

// Update overwrites the entity's blob, guarded by the entity's ETag
func (b *BlobTable[T]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return b.wrap("Update", errors.Usage("entity is nil"))
	}
	rec, err := b.meta.Encode(entity)
	if err != nil {
		return b.wrap("Update", err)
	}
	if rec.ETag == "" {
		return b.wrap("Update", errors.Usage("update needs the entity's ETag"))
	}
	return b.wrap("Update", b.write(ctx, entity, blob.Condition{IfMatch: rec.ETag}))
}

// Upsert stores entity unconditionally
func (b *BlobTable[T]) Upsert(ctx context.Context, entity *T) error {
	return b.wrap("Upsert", b.write(ctx, entity, blob.Condition{}))
}

func (b *BlobTable[T]) write(ctx context.Context, entity *T, cond blob.Condition) error {
	c, err := b.open(ctx)
	if err != nil {
		return err
	}
	return b.put(ctx, c, entity, cond)
}

// put serializes entity into its blob and writes the new ETag back into entity
func (b *BlobTable[T]) put(ctx context.Context, c blob.Container, entity *T, cond blob.Condition) error {
	if entity == nil {
		return errors.Usage("entity is nil")
	}
	rec, err := b.meta.Encode(entity)
	if err != nil {
		return err
	}
	if err := validateKeys(rec.PartitionKey, rec.RowKey, true); err != nil {
		return err
	}
	tags, err := b.meta.Tags(rec)
	if err != nil {
		return err
	}
	data, err := b.opts.serializer.Marshal(entity)
	if err != nil {
		return fmt.Errorf("serialize entity: %w", err)
	}

	etag, err := c.Put(ctx, &blob.Object{
		Name: blob.Name(rec.PartitionKey, rec.RowKey),
		Data: data,
		Tags: tags,
	}, cond)
	if err != nil {
		return err
	}
	return b.meta.SetETag(entity, etag)
}

// decode turns a blob into a record. The blob name and metadata win over the payload
// for keys, ETag and timestamp.
func (b *BlobTable[T]) decode(obj *blob.Object) (*core.Record, error) {
	pk, rk, ok := blob.SplitName(obj.Name)
	if !ok {
		return nil, errors.Usage("blob name does not address an entity")
	}
	var v T
	if err := b.opts.serializer.Unmarshal(obj.Data, &v); err != nil {
		return nil, fmt.Errorf("deserialize entity: %w", err)
	}
	rec, err := b.meta.Encode(&v)
	if err != nil {
		return nil, err
	}
	rec.PartitionKey, rec.RowKey = pk, rk
	rec.ETag = obj.ETag
	rec.Timestamp = obj.LastModified
	return rec, nil
}

// Delete removes the entity's blob. A missing blob is not an error.
func (b *BlobTable[T]) Delete(ctx context.Context, partitionKey, rowKey string) error {
	if err := validateKeys(partitionKey, rowKey, true); err != nil {
		return b.wrap("Delete", err)
	}
	c, err := b.open(ctx)
	if err != nil {
		return b.wrap("Delete", err)
	}
	return b.wrap("Delete", c.Delete(ctx, blob.Name(partitionKey, rowKey), ""))
}

// DeleteEntity removes entity's blob, guarded by its ETag when it has one
func (b *BlobTable[T]) DeleteEntity(ctx context.Context, entity T) error {
	rec, err := b.meta.Encode(entity)
	if err != nil {
		return b.wrap("DeleteEntity", err)
	}
	if err := validateKeys(rec.PartitionKey, rec.RowKey, true); err != nil {
		return b.wrap("DeleteEntity", err)
	}
	c, err := b.open(ctx)
	if err != nil {
		return b.wrap("DeleteEntity", err)
	}
	return b.wrap("DeleteEntity", c.Delete(ctx, blob.Name(rec.PartitionKey, rec.RowKey), rec.ETag))
}

// FindByTags runs a raw tag query such as "Status = 'open' and Size > 10". It fails with
// ErrTagSearchUnsupported on containers without a tag index.
func (b *BlobTable[T]) FindByTags(ctx context.Context, tagQuery string) ([]T, error) {
	if _, err := filter.Parse(tagQuery); err != nil {
		return nil, b.wrap("FindByTags", err)
	}
	c, err := b.open(ctx)
	if err != nil {
		return nil, b.wrap("FindByTags", err)
	}
	if !c.Capabilities().TagIndex {
		return nil, b.wrap("FindByTags", errors.ErrTagSearchUnsupported)
	}
	names, err := collectNames(c.FindByTags(ctx, tagQuery))
	if err != nil {
		return nil, b.wrap("FindByTags", err)
	}
	records, err := b.load(ctx, c, names, nil)
	if err != nil {
		return nil, b.wrap("FindByTags", err)
	}

	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := b.meta.Decode(rec, &v); err != nil {
			return nil, b.wrap("FindByTags", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DeleteByTags deletes every entity whose tags satisfy predicate and returns how many
// were deleted. The predicate must compile to a tag query: a container without a tag
// index, or a predicate over untagged fields, fails with ErrUnrepresentable before
// anything is deleted.
func (b *BlobTable[T]) DeleteByTags(ctx context.Context, predicate expr.Node) (int, error) {
	if predicate == nil {
		return 0, b.wrap("DeleteByTags", errors.Usage("predicate is nil"))
	}
	c, err := b.open(ctx)
	if err != nil {
		return 0, b.wrap("DeleteByTags", err)
	}
	if !c.Capabilities().TagIndex {
		return 0, b.wrap("DeleteByTags", errors.Unrepresentable("container has no tag index"))
	}
	compiled := b.compile(predicate)
	if !compiled.Representable || compiled.Unfiltered() {
		return 0, b.wrap("DeleteByTags", errors.Unrepresentable("predicate cannot be expressed as a tag query"))
	}

	names, err := collectNames(c.FindByTags(ctx, compiled.Filter))
	if err != nil {
		return 0, b.wrap("DeleteByTags", err)
	}
	deleted := 0
	for _, name := range names {
		if err := c.Delete(ctx, name, ""); err != nil {
			return deleted, b.wrap("DeleteByTags", err)
		}
		deleted++
	}
	return deleted, nil
}

// Explain returns the plan a query with predicate would run
func (b *BlobTable[T]) Explain(ctx context.Context, predicate expr.Node) (plan.Plan, error) {
	c, err := b.open(ctx)
	if err != nil {
		return nil, b.wrap("Explain", err)
	}
	return plan.Choose(b.compile(predicate), c.Capabilities()), nil
}

// Query starts a fluent query over the whole container
func (b *BlobTable[T]) Query() *query.Query[T] {
	return query.New[T](&blobSource[T]{b})
}

// Where starts a fluent query narrowed by predicate
func (b *BlobTable[T]) Where(predicate expr.Node) *query.Query[T] {
	return b.Query().Where(predicate)
}

func (b *BlobTable[T]) compile(predicate expr.Node) *filter.Compiled {
	return filter.Compile(predicate, filter.Options{
		Rename:     b.meta.Canonical,
		Filterable: b.meta.Tagged,
	})
}
