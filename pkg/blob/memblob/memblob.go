// Package memblob provides an in-memory blob container. It indexes tags by default;
// the Hierarchical option turns it into a prefix-only container like S3 or MinIO.
package memblob

import (
	"bytes"
	"context"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/filter"
)

// Calls counts the operations a container has served
type Calls struct {
	Get        int64
	Put        int64
	Delete     int64
	List       int64
	FindByTags int64
}

// Option configures a Container
type Option func(*Container)

// Hierarchical disables the tag index
func Hierarchical() Option {
	return func(c *Container) {
		c.tagIndex = false
	}
}

// WithClock sets the time source for LastModified
func WithClock(now func() time.Time) Option {
	return func(c *Container) {
		c.now = now
	}
}

// Container is an in-memory blob.Container. It is safe for concurrent use.
type Container struct {
	objects  map[string]*blob.Object
	now      func() time.Time
	tagIndex bool

	gets, puts, deletes, lists, finds atomic.Int64

	mu sync.RWMutex
}

var _ blob.Container = (*Container)(nil)

// New creates an empty container
func New(opts ...Option) *Container {
	c := &Container{
		objects:  make(map[string]*blob.Object),
		now:      time.Now,
		tagIndex: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calls returns a snapshot of the operation counters
func (c *Container) Calls() Calls {
	return Calls{
		Get:        c.gets.Load(),
		Put:        c.puts.Load(),
		Delete:     c.deletes.Load(),
		List:       c.lists.Load(),
		FindByTags: c.finds.Load(),
	}
}

// ResetCalls zeroes the operation counters
func (c *Container) ResetCalls() {
	c.gets.Store(0)
	c.puts.Store(0)
	c.deletes.Store(0)
	c.lists.Store(0)
	c.finds.Store(0)
}

// Len returns the number of stored blobs
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

// Capabilities implements blob.Container
func (c *Container) Capabilities() blob.Capabilities {
	return blob.Capabilities{TagIndex: c.tagIndex}
}

// Get implements blob.Container
func (c *Container) Get(ctx context.Context, name string) (*blob.Object, error) {
	c.gets.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[name]
	if !ok {
		return nil, errors.ErrItemNotFound
	}
	return cloneObject(obj), nil
}

// Put implements blob.Container
func (c *Container) Put(ctx context.Context, obj *blob.Object, cond blob.Condition) (string, error) {
	c.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if obj == nil || obj.Name == "" {
		return "", errors.Usage("blob needs a name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.objects[obj.Name]
	switch {
	case cond.IfNoneMatch && exists:
		return "", errors.ErrAlreadyExists
	case cond.IfMatch != "" && !exists:
		return "", errors.ErrItemNotFound
	case cond.IfMatch != "" && cond.IfMatch != current.ETag:
		return "", errors.ErrConcurrencyConflict
	}

	stored := cloneObject(obj)
	stored.ETag = uuid.NewString()
	stored.LastModified = c.now().UTC()
	c.objects[obj.Name] = stored
	return stored.ETag, nil
}

// Delete implements blob.Container
func (c *Container) Delete(ctx context.Context, name, etag string) error {
	c.deletes.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.objects[name]
	if !ok {
		return nil
	}
	if etag != "" && etag != current.ETag {
		return errors.ErrConcurrencyConflict
	}
	delete(c.objects, name)
	return nil
}

// List implements blob.Container. Entries are yielded in name order.
func (c *Container) List(ctx context.Context, prefix string, oneLevel bool) iter.Seq2[blob.Entry, error] {
	return func(yield func(blob.Entry, error) bool) {
		c.lists.Add(1)
		if err := ctx.Err(); err != nil {
			yield(blob.Entry{}, err)
			return
		}

		lastPrefix := ""
		for _, name := range c.names() {
			rest, ok := strings.CutPrefix(name, prefix)
			if !ok {
				continue
			}
			entry := blob.Entry{Name: name}
			if oneLevel {
				if i := strings.Index(rest, blob.Separator); i >= 0 {
					entry = blob.Entry{Name: prefix + rest[:i+1], IsPrefix: true}
					if entry.Name == lastPrefix {
						continue
					}
					lastPrefix = entry.Name
				}
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// FindByTags implements blob.Container
func (c *Container) FindByTags(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.finds.Add(1)
		if !c.tagIndex {
			yield("", errors.ErrTagSearchUnsupported)
			return
		}
		if err := ctx.Err(); err != nil {
			yield("", err)
			return
		}
		clauses, err := filter.Parse(query)
		if err != nil {
			yield("", err)
			return
		}

		for _, name := range c.names() {
			tags, ok := c.tags(name)
			if !ok || !filter.MatchTags(clauses, tags) {
				continue
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (c *Container) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.objects))
}

func (c *Container) tags(name string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.objects[name]
	if !ok {
		return nil, false
	}
	return maps.Clone(obj.Tags), true
}

func cloneObject(obj *blob.Object) *blob.Object {
	out := *obj
	out.Data = bytes.Clone(obj.Data)
	out.Tags = maps.Clone(obj.Tags)
	return &out
}
