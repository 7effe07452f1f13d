// Package filter compiles predicate trees into server filter strings.
//
// A server filter is a conjunction of "field op literal" clauses joined by "and" with
// op one of = > >= < <=. Anything else (negation, disjunction, arithmetic on fields,
// comparisons between two fields) is unrepresentable: the compiled result then carries
// only the full predicate, to be evaluated in-process after an unfiltered fetch.
package filter

import (
	"strings"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/expr"
)

// Options configures compilation
type Options struct {
	// Rename maps user field names (key proxies, attribute renames) to store names
	Rename func(string) string
	// Filterable reports whether the store can filter on a store field. nil allows all fields.
	Filterable func(field string) bool
	// PartitionKey and RowKey name the key slots; they default to the canonical names.
	PartitionKey string
	RowKey       string
}

func (o Options) partitionKey() string {
	if o.PartitionKey == "" {
		return core.FieldPartitionKey
	}
	return o.PartitionKey
}

func (o Options) rowKey() string {
	if o.RowKey == "" {
		return core.FieldRowKey
	}
	return o.RowKey
}

// Domain is the set of values a key slot can take under a predicate. An unbounded
// domain places no restriction; a bounded domain with no values matches nothing.
type Domain struct {
	Values  []string
	Bounded bool
}

// Compiled is the result of compiling one predicate
type Compiled struct {
	// Predicate is the rewritten tree; nil when the query is unfiltered
	Predicate expr.Node
	// Filter is the server filter string; empty when unfiltered or unrepresentable
	Filter string
	// Clauses is the structured form of Filter
	Clauses []core.Clause
	// PartitionKeys and RowKeys are the distinct literals compared for equality with the key slots
	PartitionKeys []string
	RowKeys       []string

	PartitionKeyDomain Domain
	RowKeyDomain       Domain

	// Representable reports whether Filter encodes the whole predicate
	Representable bool

	partitionKey string
	rowKey       string
}

// Compile compiles node. It never fails: unrepresentable predicates fall back to local evaluation.
func Compile(node expr.Node, opts Options) *Compiled {
	c := &Compiled{
		partitionKey: opts.partitionKey(),
		rowKey:       opts.rowKey(),
	}
	if node == nil {
		c.Representable = true
		return c
	}

	c.Predicate = expr.RewriteMembers(node, opts.Rename)

	clauses, ok := compileServer(c.Predicate, opts)
	if ok {
		c.Clauses = clauses
		c.Filter = Render(clauses)
		c.Representable = true
	}

	c.PartitionKeys = keyLiterals(c.Predicate, c.partitionKey)
	c.RowKeys = keyLiterals(c.Predicate, c.rowKey)
	c.PartitionKeyDomain = domainOf(c.Predicate, c.partitionKey)
	c.RowKeyDomain = domainOf(c.Predicate, c.rowKey)
	return c
}

// Combine conjoins two independently built predicates. Either may be nil.
func Combine(a, b expr.Node) expr.Node {
	return expr.And(a, b)
}

// Simple reports whether the filter references at most one literal per key slot
func (c *Compiled) Simple() bool {
	return len(c.PartitionKeys) <= 1 && len(c.RowKeys) <= 1
}

// Unfiltered reports whether no predicate was given
func (c *Compiled) Unfiltered() bool {
	return c.Predicate == nil
}

// Match evaluates the full predicate against env
func (c *Compiled) Match(env expr.Env) (bool, error) {
	return expr.Matches(c.Predicate, env)
}

// Fields returns the store fields the predicate reads
func (c *Compiled) Fields() []string {
	return expr.Fields(c.Predicate)
}

// Residual returns the predicate without its top-level key equality conjuncts, or nil
// when nothing remains. It is meant for plans that already restrict both key slots to
// their domains.
func (c *Compiled) Residual() expr.Node {
	var rest []expr.Node
	for _, conj := range expr.Conjuncts(c.Predicate) {
		if field, _, ok := keyEquality(conj); ok && (field == c.partitionKey || field == c.rowKey) {
			continue
		}
		rest = append(rest, conj)
	}
	return expr.And(rest...)
}

// Widen returns fields extended with the top-level properties node reads, so that
// a projected fetch still carries what a local predicate needs. A nil field list
// already selects everything and is returned unchanged.
func Widen(fields []string, node expr.Node) []string {
	if fields == nil {
		return nil
	}
	out := append([]string(nil), fields...)
	for _, f := range expr.Fields(node) {
		head, _, _ := strings.Cut(f, ".")
		if core.IsSystemField(head) {
			continue
		}
		out = appendDistinct(out, head)
	}
	return out
}

// String renders the compiled form for logs
func (c *Compiled) String() string {
	switch {
	case c.Predicate == nil:
		return "<all>"
	case c.Representable:
		return c.Filter
	default:
		return "<local> " + expr.String(c.Predicate)
	}
}

func compileServer(node expr.Node, opts Options) ([]core.Clause, bool) {
	switch n := node.(type) {
	case *expr.FieldNode:
		if !filterable(opts, n.Name) {
			return nil, false
		}
		return []core.Clause{{Field: n.Name, Op: "=", Value: true}}, true
	case *expr.BinaryNode:
		if n.Op == expr.OpAnd {
			left, ok := compileServer(n.Left, opts)
			if !ok {
				return nil, false
			}
			right, ok := compileServer(n.Right, opts)
			if !ok {
				return nil, false
			}
			return append(left, right...), true
		}
		clause, ok := serverLeaf(n, opts)
		if !ok {
			return nil, false
		}
		return []core.Clause{clause}, true
	default:
		return nil, false
	}
}

var serverOps = map[expr.Op]string{
	expr.OpEq: "=",
	expr.OpGt: ">",
	expr.OpGe: ">=",
	expr.OpLt: "<",
	expr.OpLe: "<=",
}

func serverLeaf(n *expr.BinaryNode, opts Options) (core.Clause, bool) {
	field, op, value, ok := leaf(n)
	if !ok {
		return core.Clause{}, false
	}
	token, ok := serverOps[op]
	if !ok || !filterable(opts, field) || !renderable(value) {
		return core.Clause{}, false
	}
	return core.Clause{Field: field, Op: token, Value: value}, true
}

// leaf decomposes a comparison between a direct field access and a foldable operand.
// A literal on the left flips the operator.
func leaf(n *expr.BinaryNode) (field string, op expr.Op, value any, ok bool) {
	if !n.Op.IsComparison() {
		return "", 0, nil, false
	}
	f, isField := n.Left.(*expr.FieldNode)
	other, op := n.Right, n.Op
	if !isField {
		f, isField = n.Right.(*expr.FieldNode)
		other, op = n.Left, n.Op.Flip()
	}
	if !isField || expr.DependsOnParam(other) {
		return "", 0, nil, false
	}
	v, err := expr.Fold(other)
	if err != nil {
		return "", 0, nil, false
	}
	return f.Name, op, v, true
}

func keyEquality(node expr.Node) (field, value string, ok bool) {
	b, isBinary := node.(*expr.BinaryNode)
	if !isBinary {
		return "", "", false
	}
	f, op, v, ok := leaf(b)
	if !ok || op != expr.OpEq {
		return "", "", false
	}
	s, isString := v.(string)
	if !isString {
		return "", "", false
	}
	return f, s, true
}

func filterable(opts Options, field string) bool {
	if strings.Contains(field, ".") {
		return false
	}
	return opts.Filterable == nil || opts.Filterable(field)
}

// keyLiterals collects distinct equality literals bound to slot anywhere in the tree
func keyLiterals(node expr.Node, slot string) []string {
	var out []string
	var walk func(expr.Node)
	walk = func(node expr.Node) {
		switch n := node.(type) {
		case *expr.BinaryNode:
			if f, v, ok := keyEquality(n); ok {
				if f == slot {
					out = appendDistinct(out, v)
				}
				return
			}
			walk(n.Left)
			walk(n.Right)
		case *expr.NotNode:
			walk(n.Operand)
		}
	}
	walk(node)
	return out
}

// domainOf over-approximates the values slot can take when node holds:
// and intersects bounded domains, or unions them only when both sides are bounded.
func domainOf(node expr.Node, slot string) Domain {
	b, ok := node.(*expr.BinaryNode)
	if !ok {
		return Domain{}
	}
	switch b.Op {
	case expr.OpAnd:
		left, right := domainOf(b.Left, slot), domainOf(b.Right, slot)
		switch {
		case left.Bounded && right.Bounded:
			return Domain{Values: intersect(left.Values, right.Values), Bounded: true}
		case left.Bounded:
			return left
		default:
			return right
		}
	case expr.OpOr:
		left, right := domainOf(b.Left, slot), domainOf(b.Right, slot)
		if left.Bounded && right.Bounded {
			values := append([]string(nil), left.Values...)
			for _, v := range right.Values {
				values = appendDistinct(values, v)
			}
			return Domain{Values: values, Bounded: true}
		}
		return Domain{}
	default:
		if f, v, ok := keyEquality(b); ok && f == slot {
			return Domain{Values: []string{v}, Bounded: true}
		}
		return Domain{}
	}
}

func appendDistinct(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

func intersect(a, b []string) []string {
	out := []string{}
	for _, v := range a {
		for _, w := range b {
			if v == w {
				out = append(out, v)
				break
			}
		}
	}
	return out
}
