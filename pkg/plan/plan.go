// Package plan chooses how a blob-backed table answers a query
package plan

import (
	"fmt"
	"strings"

	"github.com/theory-cloud/tablequery/pkg/blob"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/filter"
)

// Kind identifies a plan variant. Lower kinds fetch fewer blobs.
type Kind int

const (
	KindTagSearch Kind = iota
	KindTagSearchThenLocalFilter
	KindHierarchicalByKeys
	KindFullScanLocalFilter
)

var kindNames = [...]string{"TagSearch", "TagSearchThenLocalFilter", "HierarchicalByKeys", "FullScanLocalFilter"}

// String returns the kind name
func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Plan is one of TagSearch, TagSearchThenLocalFilter, HierarchicalByKeys or FullScanLocalFilter
type Plan interface {
	Kind() Kind
	String() string
}

// TagSearch answers the query entirely with a server tag search
type TagSearch struct {
	Filter string
}

// TagSearchThenLocalFilter over-fetches with a tag search and narrows locally
type TagSearchThenLocalFilter struct {
	Predicate expr.Node
	Filter    string
}

// HierarchicalByKeys lists each partition prefix one level deep, keeps entries whose
// row key is in RowKeys (all entries when RowKeys is nil) and applies Residual locally
type HierarchicalByKeys struct {
	Residual      expr.Node
	PartitionKeys []string
	RowKeys       []string
}

// FullScanLocalFilter enumerates the container and applies Predicate locally.
// A nil Predicate returns everything.
type FullScanLocalFilter struct {
	Predicate expr.Node
}

func (TagSearch) Kind() Kind                { return KindTagSearch }
func (TagSearchThenLocalFilter) Kind() Kind { return KindTagSearchThenLocalFilter }
func (HierarchicalByKeys) Kind() Kind       { return KindHierarchicalByKeys }
func (FullScanLocalFilter) Kind() Kind      { return KindFullScanLocalFilter }

func (p TagSearch) String() string {
	return fmt.Sprintf("TagSearch(%s)", p.Filter)
}

func (p TagSearchThenLocalFilter) String() string {
	return fmt.Sprintf("TagSearchThenLocalFilter(%s, %s)", p.Filter, expr.String(p.Predicate))
}

func (p HierarchicalByKeys) String() string {
	rows := "*"
	if p.RowKeys != nil {
		rows = "[" + strings.Join(p.RowKeys, ",") + "]"
	}
	residual := "none"
	if p.Residual != nil {
		residual = expr.String(p.Residual)
	}
	return fmt.Sprintf("HierarchicalByKeys([%s], %s, %s)", strings.Join(p.PartitionKeys, ","), rows, residual)
}

func (p FullScanLocalFilter) String() string {
	if p.Predicate == nil {
		return "FullScanLocalFilter(none)"
	}
	return fmt.Sprintf("FullScanLocalFilter(%s)", expr.String(p.Predicate))
}

// Choose picks the cheapest plan for c on a container with caps.
//
// Tag-indexed containers search by tags whenever the filter compiles; a filter that does
// not compile is a full scan. Hierarchical containers instead bound the partition keys
// from the predicate itself, so disjunctions and inequalities over keys still list only
// the matching prefixes and leave the rest to the residual.
func Choose(c *filter.Compiled, caps blob.Capabilities) Plan {
	if c == nil || c.Unfiltered() {
		return FullScanLocalFilter{}
	}

	if caps.TagIndex {
		if !c.Representable {
			return FullScanLocalFilter{Predicate: c.Predicate}
		}
		if c.Simple() {
			return TagSearch{Filter: c.Filter}
		}
		return TagSearchThenLocalFilter{Filter: c.Filter, Predicate: c.Predicate}
	}

	if !c.PartitionKeyDomain.Bounded {
		return FullScanLocalFilter{Predicate: c.Predicate}
	}

	p := HierarchicalByKeys{
		PartitionKeys: c.PartitionKeyDomain.Values,
		Residual:      c.Residual(),
	}
	if c.RowKeyDomain.Bounded {
		p.RowKeys = c.RowKeyDomain.Values
	}
	return p
}
