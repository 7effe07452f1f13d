// Package tablequery provides typed, queryable tables over a partition/row keyed entity
// store and over blob containers.
//
// Import path:
//
//	import "github.com/theory-cloud/tablequery"
//
// A Client opens tables by name. Stores and containers are connected on first use.
package tablequery

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/query"
	"github.com/theory-cloud/tablequery/pkg/session"
	"github.com/theory-cloud/tablequery/pkg/store"
)

type (
	// Re-export types for convenience.
	Config      = session.Config
	Record      = core.Record
	BulkOptions = core.BulkOptions
	Connector   = core.Connector
	Node        = expr.Node

	Table[T any]     = store.Table[T]
	BlobTable[T any] = store.BlobTable[T]
	Query[T any]     = query.Query[T]
)

// Re-export error helpers for convenience.
var (
	IsNotFound        = errors.IsNotFound
	IsAlreadyExists   = errors.IsAlreadyExists
	IsConflict        = errors.IsConflict
	IsUnrepresentable = errors.IsUnrepresentable
	IsUsage           = errors.IsUsage
)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger of the client and every table it opens
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			logger = zap.NewNop()
		}
		c.logger = logger
	}
}

// WithTableOptions adds options applied to every table the client opens
func WithTableOptions(opts ...store.Option) Option {
	return func(c *Client) {
		c.tableOpts = append(c.tableOpts, opts...)
	}
}

// Client opens tables and blob tables on one connector. Tables are cached per name and
// entity type. A Client is safe for concurrent use.
type Client struct {
	conn      core.Connector
	logger    *zap.Logger
	tableOpts []store.Option
	tables    sync.Map
}

type tableKey struct {
	typ  reflect.Type
	name string
	blob bool
}

// New returns a client on AWS: tables are DynamoDB tables and blob containers live in S3,
// or in MinIO when cfg.MinIO has an endpoint. Nothing is connected until first use.
func New(cfg session.Config, opts ...Option) (*Client, error) {
	c := newClient(opts)
	if cfg.LogLevel != "" && c.logger == nil {
		logger, err := session.NewLogger(cfg.LogLevel)
		if err != nil {
			return nil, errors.Usage("%v", err)
		}
		c.logger = logger
	}
	c.setDefaults()
	if cfg.PageSize > 0 {
		c.tableOpts = append([]store.Option{store.WithPageSize(cfg.PageSize)}, c.tableOpts...)
	}
	c.conn = newAWSConnector(cfg, c.logger)
	return c, nil
}

// NewWithConnector returns a client on conn
func NewWithConnector(conn core.Connector, opts ...Option) (*Client, error) {
	if conn == nil {
		return nil, errors.Usage("client needs a connector")
	}
	c := newClient(opts)
	c.setDefaults()
	c.conn = conn
	return c, nil
}

// NewInMemory returns a client on in-memory stores and tag-indexed containers
func NewInMemory(opts ...Option) *Client {
	c := newClient(opts)
	c.setDefaults()
	c.conn = NewMemoryConnector()
	return c
}

func newClient(opts []Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setDefaults() {
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
}

// Connector returns the connector tables are opened on
func (c *Client) Connector() core.Connector {
	return c.conn
}

func (c *Client) options() []store.Option {
	opts := make([]store.Option, 0, len(c.tableOpts)+1)
	opts = append(opts, store.WithLogger(c.logger))
	return append(opts, c.tableOpts...)
}

// OpenTable returns the table name holding entities of type T
func OpenTable[T any](c *Client, name string) (*store.Table[T], error) {
	key := tableKey{name: name, typ: reflect.TypeFor[T]()}
	if cached, ok := c.tables.Load(key); ok {
		return cached.(*store.Table[T]), nil
	}

	t, err := store.NewTable[T](name, func(ctx context.Context) (core.EntityStore, error) {
		c.logger.Debug("connecting table", zap.String("table", name))
		return c.conn.EntityStore(ctx, name)
	}, c.options()...)
	if err != nil {
		return nil, err
	}
	actual, _ := c.tables.LoadOrStore(key, t)
	return actual.(*store.Table[T]), nil
}

// OpenBlobTable returns the blob table on container holding entities of type T
func OpenBlobTable[T any](c *Client, container string) (*store.BlobTable[T], error) {
	key := tableKey{name: container, typ: reflect.TypeFor[T](), blob: true}
	if cached, ok := c.tables.Load(key); ok {
		return cached.(*store.BlobTable[T]), nil
	}

	t, err := store.NewBlobTable[T](container, func(ctx context.Context) (blob.Container, error) {
		c.logger.Debug("connecting container", zap.String("container", container))
		return c.conn.Container(ctx, container)
	}, c.options()...)
	if err != nil {
		return nil, err
	}
	actual, _ := c.tables.LoadOrStore(key, t)
	return actual.(*store.BlobTable[T]), nil
}
