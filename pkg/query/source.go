package query

import (
	"context"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/merge"
	"github.com/theory-cloud/tablequery/pkg/model"
)

// Request describes the records a chain needs from its source
type Request struct {
	// Where is the chain predicate over entity field names; nil selects everything
	Where expr.Node
	// Fields lists the store properties the chain keeps; nil keeps all of them
	Fields []string
	// Limit is the number of matching records the chain will consume, 0 when unknown.
	// Sources may forward it to the store only when they filter exactly.
	Limit int
}

// Result is a source's answer to a Request
type Result struct {
	// Pager yields candidate records, widened to the fields Residual reads
	Pager core.RecordPager
	// Residual must hold for a candidate to match; nil when Pager filters exactly
	Residual expr.Node
}

// Source executes chains against one table or container
type Source interface {
	// Metadata returns the entity metadata records are decoded with
	Metadata() *model.Metadata

	// Fetch compiles req and returns a lazy pager over the candidates. It performs no I/O;
	// pages are fetched when the pager is advanced.
	Fetch(ctx context.Context, req Request) (*Result, error)

	// CompileMerge compiles a patch for the entity type
	CompileMerge(obj *expr.ObjectNode) (*merge.Patch, error)

	// Delete removes the entity rec addresses, guarded by rec.ETag
	Delete(ctx context.Context, rec *core.Record) error

	// Merge merges rec's properties into the entity rec addresses, guarded by rec.ETag
	Merge(ctx context.Context, rec *core.Record) error

	// Submit applies actions atomically
	Submit(ctx context.Context, actions []core.Action) error

	// Capabilities reports the source's transactional limits
	Capabilities() core.Capabilities
}
