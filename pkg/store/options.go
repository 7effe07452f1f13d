// Package store provides the typed facades over an entity store (Table) and a blob
// container (BlobTable). Both serve as the source of fluent queries.
package store

import (
	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/pkg/core"
)

const (
	// DefaultPageSize is the page size tables request when none is configured
	DefaultPageSize = 1000
	// DefaultBlobPageSize is the number of blobs a blob table loads per page
	DefaultBlobPageSize = 100
)

// Option configures a Table or BlobTable
type Option func(*options)

type options struct {
	logger     *zap.Logger
	serializer core.Serializer
	bulk       *core.BulkOptions
	pageSize   int
}

func defaultOptions() *options {
	return &options{
		logger:     zap.NewNop(),
		serializer: core.JSONSerializer{},
		bulk:       core.DefaultBulkOptions(),
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = zap.NewNop()
		}
		o.logger = logger
	}
}

// WithSerializer sets the payload serializer of blob tables
func WithSerializer(s core.Serializer) Option {
	return func(o *options) {
		if s != nil {
			o.serializer = s
		}
	}
}

// WithBulkOptions sets the defaults for bulk operations called with nil options
func WithBulkOptions(b *core.BulkOptions) Option {
	return func(o *options) {
		if b != nil {
			o.bulk = b.Clone()
		}
	}
}

// WithPageSize sets the number of records a table requests per page
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

func (o *options) pageSizeOr(def int) int {
	if o.pageSize > 0 {
		return o.pageSize
	}
	return def
}
