// Package blob defines the blob container boundary used by blob-backed entity tables
package blob

import (
	"context"
	"iter"
	"strings"
	"time"
)

// Separator joins partition and row key into a blob name
const Separator = "/"

// Object is one stored blob
type Object struct {
	LastModified time.Time
	Tags         map[string]string
	Name         string
	ETag         string
	Data         []byte
}

// Entry is one result of a hierarchical listing
type Entry struct {
	Name     string
	IsPrefix bool
}

// Condition guards a Put
type Condition struct {
	// IfMatch requires the current ETag to match
	IfMatch string
	// IfNoneMatch requires the blob to be absent
	IfNoneMatch bool
}

// Capabilities describes what a container can do beyond plain reads and writes
type Capabilities struct {
	// TagIndex reports support for FindByTags. Containers without it are hierarchical only.
	TagIndex bool
}

// Container is a blob container.
//
// Get returns ErrItemNotFound for a missing blob. Put returns ErrAlreadyExists when
// IfNoneMatch finds a blob, ErrItemNotFound when IfMatch finds none and
// ErrConcurrencyConflict when IfMatch does not match. Delete of a missing blob succeeds.
type Container interface {
	Get(ctx context.Context, name string) (*Object, error)
	Put(ctx context.Context, obj *Object, cond Condition) (etag string, err error)
	Delete(ctx context.Context, name, etag string) error

	// List yields the entries under prefix. With oneLevel set, deeper names are folded
	// into a single prefix entry ending in Separator.
	List(ctx context.Context, prefix string, oneLevel bool) iter.Seq2[Entry, error]

	// FindByTags yields the names of blobs whose tags satisfy query, a filter string of
	// and-joined comparisons. It fails with ErrTagSearchUnsupported without a tag index.
	FindByTags(ctx context.Context, query string) iter.Seq2[string, error]

	Capabilities() Capabilities
}

// Name returns the blob name of an entity key
func Name(partitionKey, rowKey string) string {
	return partitionKey + Separator + rowKey
}

// SplitName splits a blob name into partition and row key
func SplitName(name string) (partitionKey, rowKey string, ok bool) {
	return strings.Cut(name, Separator)
}

// PartitionPrefix returns the listing prefix of a partition
func PartitionPrefix(partitionKey string) string {
	return partitionKey + Separator
}
