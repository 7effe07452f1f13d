// Package expr provides the predicate and projection AST used by tablequery.
//
// Expressions are built with combinators rather than host-language reflection:
//
//	pred := expr.And(
//	    expr.Eq(expr.Field("PartitionKey"), "root"),
//	    expr.Gt(expr.Field("N"), expr.Capture(cfg, "Threshold")),
//	)
//
// Every Field node refers to the single entity parameter of the expression. Values
// from the surrounding scope enter either as literals (Value) or as explicit captures
// (Capture) that are resolved eagerly when the expression is compiled.
package expr

// Op identifies a binary operator.
type Op int

// Binary operators.
const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

var opSymbols = map[Op]string{
	OpEq:  "==",
	OpNe:  "!=",
	OpGt:  ">",
	OpGe:  ">=",
	OpLt:  "<",
	OpLe:  "<=",
	OpAnd: "&&",
	OpOr:  "||",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
}

// String returns the operator symbol.
func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return "?"
}

// IsComparison reports whether the operator compares two operands.
func (o Op) IsComparison() bool {
	return o >= OpEq && o <= OpLe
}

// IsLogical reports whether the operator joins two boolean operands.
func (o Op) IsLogical() bool {
	return o == OpAnd || o == OpOr
}

// IsArithmetic reports whether the operator computes a value.
func (o Op) IsArithmetic() bool {
	return o >= OpAdd && o <= OpDiv
}

// Flip returns the operator with its operands swapped (a < b == b > a).
func (o Op) Flip() Op {
	switch o {
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	default:
		return o
	}
}

// Node is an expression tree node.
type Node interface {
	node()
}

// FieldNode is a member access on the entity parameter.
type FieldNode struct {
	Name string
}

// ValueNode is a literal.
type ValueNode struct {
	Value any
}

// CaptureNode is a member path on an explicitly captured outer value.
type CaptureNode struct {
	Root any
	Path string
}

// CallNode is a call to a pure Go function.
type CallNode struct {
	Fn   any
	Name string
	Args []Node
}

// BinaryNode applies Op to two operands.
type BinaryNode struct {
	Left  Node
	Right Node
	Op    Op
}

// NotNode negates a boolean operand.
type NotNode struct {
	Operand Node
}

// Assignment is one member of an object construction.
type Assignment struct {
	Value Node
	Field string
}

// ObjectNode constructs a sparse entity: only the assigned fields are set.
type ObjectNode struct {
	Assignments []Assignment
}

func (*FieldNode) node()   {}
func (*ValueNode) node()   {}
func (*CaptureNode) node() {}
func (*CallNode) node()    {}
func (*BinaryNode) node()  {}
func (*NotNode) node()     {}
func (*ObjectNode) node()  {}

// Field references a member of the entity parameter.
func Field(name string) Node {
	return &FieldNode{Name: name}
}

// Value wraps a literal.
func Value(v any) Node {
	return &ValueNode{Value: v}
}

// Capture references path (dot separated fields, map keys or zero-argument methods)
// on root, an outer-scope value captured explicitly by the caller.
func Capture(root any, path string) Node {
	return &CaptureNode{Root: root, Path: path}
}

// Call invokes fn with the evaluated args. fn must return one value, or a value and an error.
func Call(name string, fn any, args ...any) Node {
	nodes := make([]Node, len(args))
	for i, a := range args {
		nodes[i] = toNode(a)
	}
	return &CallNode{Name: name, Fn: fn, Args: nodes}
}

func toNode(v any) Node {
	if n, ok := v.(Node); ok {
		return n
	}
	return Value(v)
}

func binary(op Op, left, right any) Node {
	return &BinaryNode{Op: op, Left: toNode(left), Right: toNode(right)}
}

// Eq builds left == right. Operands that are not nodes become literals.
func Eq(left, right any) Node { return binary(OpEq, left, right) }

// Ne builds left != right.
func Ne(left, right any) Node { return binary(OpNe, left, right) }

// Gt builds left > right.
func Gt(left, right any) Node { return binary(OpGt, left, right) }

// Ge builds left >= right.
func Ge(left, right any) Node { return binary(OpGe, left, right) }

// Lt builds left < right.
func Lt(left, right any) Node { return binary(OpLt, left, right) }

// Le builds left <= right.
func Le(left, right any) Node { return binary(OpLe, left, right) }

// Add builds left + right (numeric addition or string concatenation).
func Add(left, right any) Node { return binary(OpAdd, left, right) }

// Sub builds left - right.
func Sub(left, right any) Node { return binary(OpSub, left, right) }

// Mul builds left * right.
func Mul(left, right any) Node { return binary(OpMul, left, right) }

// Div builds left / right.
func Div(left, right any) Node { return binary(OpDiv, left, right) }

// Not negates operand.
func Not(operand Node) Node {
	return &NotNode{Operand: operand}
}

// And joins the non-nil nodes left to right. It returns nil when no node is given.
func And(nodes ...Node) Node {
	return join(OpAnd, nodes)
}

// Or joins the non-nil nodes left to right. It returns nil when no node is given.
func Or(nodes ...Node) Node {
	return join(OpOr, nodes)
}

func join(op Op, nodes []Node) Node {
	var out Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if out == nil {
			out = n
			continue
		}
		out = &BinaryNode{Op: op, Left: out, Right: n}
	}
	return out
}

// In matches entities whose field equals any of values. An empty value list matches nothing.
func In(field string, values ...any) Node {
	if len(values) == 0 {
		return Value(false)
	}
	nodes := make([]Node, len(values))
	for i, v := range values {
		nodes[i] = Eq(Field(field), v)
	}
	return Or(nodes...)
}

// NotIn matches entities whose field equals none of values. An empty value list returns nil.
func NotIn(field string, values ...any) Node {
	nodes := make([]Node, len(values))
	for i, v := range values {
		nodes[i] = Ne(Field(field), v)
	}
	return And(nodes...)
}

// Set assigns value to field inside an object construction.
func Set(field string, value any) Assignment {
	return Assignment{Field: field, Value: toNode(value)}
}

// Object builds an object construction from assignments.
func Object(assignments ...Assignment) *ObjectNode {
	return &ObjectNode{Assignments: assignments}
}
