package tablequery

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/theory-cloud/tablequery/internal/lazy"
	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/blob/memblob"
	"github.com/theory-cloud/tablequery/pkg/blob/minioblob"
	"github.com/theory-cloud/tablequery/pkg/blob/s3blob"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/dynamostore"
	"github.com/theory-cloud/tablequery/pkg/memstore"
	"github.com/theory-cloud/tablequery/pkg/schema"
	"github.com/theory-cloud/tablequery/pkg/session"
)

// newSession is a variable to allow replacing session creation in tests
var newSession = session.NewSession

// awsConnector opens DynamoDB tables and S3 or MinIO containers. The AWS session and the
// MinIO client are created on first use; adapters are cached per name.
type awsConnector struct {
	cfg    session.Config
	logger *zap.Logger

	session *lazy.Value[*session.Session]
	minio   *lazy.Value[minioblob.API]

	stores     sync.Map
	containers sync.Map
}

var _ core.Connector = (*awsConnector)(nil)

func newAWSConnector(cfg session.Config, logger *zap.Logger) *awsConnector {
	c := &awsConnector{cfg: cfg, logger: logger}
	c.session = lazy.New(func(ctx context.Context) (*session.Session, error) {
		logger.Debug("creating aws session", zap.String("region", cfg.Region))
		return newSession(ctx, &c.cfg)
	})
	c.minio = lazy.New(func(context.Context) (minioblob.API, error) {
		logger.Debug("creating minio client", zap.String("endpoint", cfg.MinIO.Endpoint))
		mc, err := minioblob.Dial(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return mc, nil
	})
	return c
}

func (c *awsConnector) EntityStore(ctx context.Context, table string) (core.EntityStore, error) {
	if s, ok := c.stores.Load(table); ok {
		return s.(core.EntityStore), nil
	}
	sess, err := c.session.Get(ctx)
	if err != nil {
		return nil, err
	}
	if c.cfg.AutoCreateTables {
		m := schema.NewManager(sess.DynamoDB(), schema.WithLogger(c.logger))
		if err := m.EnsureTable(ctx, table); err != nil {
			return nil, err
		}
	}
	s := dynamostore.New(sess.DynamoDB(), table,
		dynamostore.WithLogger(c.logger),
		dynamostore.WithConsistentReads(c.cfg.ConsistentReads),
	)
	actual, _ := c.stores.LoadOrStore(table, s)
	return actual.(core.EntityStore), nil
}

func (c *awsConnector) Container(ctx context.Context, name string) (blob.Container, error) {
	if cont, ok := c.containers.Load(name); ok {
		return cont.(blob.Container), nil
	}
	cont, err := c.openContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	actual, _ := c.containers.LoadOrStore(name, cont)
	return actual.(blob.Container), nil
}

func (c *awsConnector) openContainer(ctx context.Context, name string) (blob.Container, error) {
	// MinIO containers are whole buckets
	if c.cfg.MinIO.Endpoint != "" {
		mc, err := c.minio.Get(ctx)
		if err != nil {
			return nil, err
		}
		return minioblob.New(mc, name, minioblob.WithLogger(c.logger)), nil
	}

	bucket, prefix := name, ""
	if c.cfg.Bucket != "" {
		bucket, prefix = c.cfg.Bucket, name+blob.Separator
	}

	sess, err := c.session.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s3blob.New(sess.S3(), bucket,
		s3blob.WithLogger(c.logger),
		s3blob.WithKeyPrefix(prefix),
	), nil
}

// MemoryConnector opens in-memory stores and containers, one per name
type MemoryConnector struct {
	stores     sync.Map
	containers sync.Map
	storeOpts  []memstore.Option
	blobOpts   []memblob.Option
}

var _ core.Connector = (*MemoryConnector)(nil)

// NewMemoryConnector returns an empty connector
func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{}
}

// WithStoreOptions sets the options of stores created after the call
func (m *MemoryConnector) WithStoreOptions(opts ...memstore.Option) *MemoryConnector {
	m.storeOpts = opts
	return m
}

// WithContainerOptions sets the options of containers created after the call
func (m *MemoryConnector) WithContainerOptions(opts ...memblob.Option) *MemoryConnector {
	m.blobOpts = opts
	return m
}

// EntityStore implements core.Connector
func (m *MemoryConnector) EntityStore(_ context.Context, table string) (core.EntityStore, error) {
	return m.Store(table), nil
}

// Container implements core.Connector
func (m *MemoryConnector) Container(_ context.Context, name string) (blob.Container, error) {
	return m.Blob(name), nil
}

// Store returns the in-memory store of table, creating it if needed
func (m *MemoryConnector) Store(table string) *memstore.Store {
	if s, ok := m.stores.Load(table); ok {
		return s.(*memstore.Store)
	}
	actual, _ := m.stores.LoadOrStore(table, memstore.New(m.storeOpts...))
	return actual.(*memstore.Store)
}

// Blob returns the in-memory container name, creating it if needed
func (m *MemoryConnector) Blob(name string) *memblob.Container {
	if c, ok := m.containers.Load(name); ok {
		return c.(*memblob.Container)
	}
	actual, _ := m.containers.LoadOrStore(name, memblob.New(m.blobOpts...))
	return actual.(*memblob.Container)
}
