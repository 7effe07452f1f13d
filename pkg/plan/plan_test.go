package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
)

var (
	pk = expr.Field(core.FieldPartitionKey)
	rk = expr.Field(core.FieldRowKey)

	tagged       = blob.Capabilities{TagIndex: true}
	hierarchical = blob.Capabilities{}
)

func compile(node expr.Node) *filter.Compiled {
	return filter.Compile(node, filter.Options{})
}

func TestChooseUnfiltered(t *testing.T) {
	for _, caps := range []blob.Capabilities{tagged, hierarchical} {
		p := Choose(compile(nil), caps)
		assert.Equal(t, FullScanLocalFilter{}, p)
		assert.Equal(t, "FullScanLocalFilter(none)", p.String())
	}
	assert.Equal(t, FullScanLocalFilter{}, Choose(nil, tagged))
}

func TestChooseTagIndexed(t *testing.T) {
	t.Run("simple filter", func(t *testing.T) {
		c := compile(expr.And(expr.Eq(pk, "root"), expr.Eq(expr.Field("Status"), "open")))
		p := Choose(c, tagged)
		assert.Equal(t, TagSearch{Filter: "PartitionKey = 'root' and Status = 'open'"}, p)
		assert.Equal(t, KindTagSearch, p.Kind())
	})

	t.Run("multiple key literals", func(t *testing.T) {
		c := compile(expr.And(expr.Ge(pk, "a"), expr.Eq(rk, "1"), expr.Eq(rk, "2")))
		p := Choose(c, tagged)
		require.IsType(t, TagSearchThenLocalFilter{}, p)
		assert.Equal(t, c.Filter, p.(TagSearchThenLocalFilter).Filter)
		assert.Equal(t, c.Predicate, p.(TagSearchThenLocalFilter).Predicate)
	})

	t.Run("disjunction is a full scan", func(t *testing.T) {
		c := compile(expr.Or(expr.Eq(pk, "a"), expr.Eq(pk, "b")))
		p := Choose(c, tagged)
		assert.Equal(t, FullScanLocalFilter{Predicate: c.Predicate}, p)
	})

	t.Run("inequality is a full scan", func(t *testing.T) {
		c := compile(expr.And(expr.Eq(pk, "a"), expr.Ne(expr.Field("N"), 1)))
		assert.Equal(t, KindFullScanLocalFilter, Choose(c, tagged).Kind())
	})
}

func TestChooseHierarchical(t *testing.T) {
	t.Run("partition equality with non-key inequality", func(t *testing.T) {
		c := compile(expr.And(expr.Eq(pk, "root"), expr.Ne(expr.Field("N"), 2)))
		p := Choose(c, hierarchical)

		require.IsType(t, HierarchicalByKeys{}, p)
		h := p.(HierarchicalByKeys)
		assert.Equal(t, []string{"root"}, h.PartitionKeys)
		assert.Nil(t, h.RowKeys)
		require.NotNil(t, h.Residual)
		assert.Equal(t, []string{"N"}, expr.Fields(h.Residual))
	})

	t.Run("point lookup has no residual", func(t *testing.T) {
		p := Choose(compile(expr.And(expr.Eq(pk, "root"), expr.Eq(rk, "R1"))), hierarchical)
		assert.Equal(t, HierarchicalByKeys{PartitionKeys: []string{"root"}, RowKeys: []string{"R1"}}, p)
		assert.Equal(t, "HierarchicalByKeys([root], [R1], none)", p.String())
	})

	t.Run("disjunction over keys lists each prefix", func(t *testing.T) {
		c := compile(expr.And(expr.In(core.FieldPartitionKey, "a", "b"), expr.In(core.FieldRowKey, "1", "2")))
		p := Choose(c, hierarchical).(HierarchicalByKeys)
		assert.Equal(t, []string{"a", "b"}, p.PartitionKeys)
		assert.Equal(t, []string{"1", "2"}, p.RowKeys)
		assert.NotNil(t, p.Residual)
	})

	t.Run("row key only is a full scan", func(t *testing.T) {
		c := compile(expr.Eq(rk, "R1"))
		assert.Equal(t, FullScanLocalFilter{Predicate: c.Predicate}, Choose(c, hierarchical))
	})

	t.Run("partition inequality is a full scan", func(t *testing.T) {
		c := compile(expr.Ne(pk, "a"))
		assert.Equal(t, KindFullScanLocalFilter, Choose(c, hierarchical).Kind())
	})
}

func TestKindOrdering(t *testing.T) {
	assert.Less(t, int(KindTagSearch), int(KindTagSearchThenLocalFilter))
	assert.Less(t, int(KindTagSearchThenLocalFilter), int(KindHierarchicalByKeys))
	assert.Less(t, int(KindHierarchicalByKeys), int(KindFullScanLocalFilter))
	assert.Equal(t, "HierarchicalByKeys", KindHierarchicalByKeys.String())
	assert.Equal(t, "Unknown", Kind(9).String())
}

func TestPlanStrings(t *testing.T) {
	assert.Equal(t, "TagSearch(N = 1)", TagSearch{Filter: "N = 1"}.String())
	assert.Equal(t, "TagSearchThenLocalFilter(N = 1, (x.N == 1))",
		TagSearchThenLocalFilter{Filter: "N = 1", Predicate: expr.Eq(expr.Field("N"), 1)}.String())
	assert.Equal(t, "HierarchicalByKeys([a,b], *, (x.N != 1))",
		HierarchicalByKeys{PartitionKeys: []string{"a", "b"}, Residual: expr.Ne(expr.Field("N"), 1)}.String())
}
