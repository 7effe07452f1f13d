package expr

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/theory-cloud/tablequery/pkg/errors"
)

// RewriteMembers returns a copy of node with every entity field renamed by rename.
// Assignment targets inside object constructions are renamed too. Subtrees without a
// renamed field are shared with the input.
func RewriteMembers(node Node, rename func(string) string) Node {
	if node == nil || rename == nil {
		return node
	}

	switch n := node.(type) {
	case *FieldNode:
		if to := rename(n.Name); to != n.Name {
			return &FieldNode{Name: to}
		}
		return n
	case *BinaryNode:
		left := RewriteMembers(n.Left, rename)
		right := RewriteMembers(n.Right, rename)
		if left == n.Left && right == n.Right {
			return n
		}
		return &BinaryNode{Op: n.Op, Left: left, Right: right}
	case *NotNode:
		operand := RewriteMembers(n.Operand, rename)
		if operand == n.Operand {
			return n
		}
		return &NotNode{Operand: operand}
	case *CallNode:
		args := make([]Node, len(n.Args))
		changed := false
		for i, a := range n.Args {
			args[i] = RewriteMembers(a, rename)
			changed = changed || args[i] != a
		}
		if !changed {
			return n
		}
		return &CallNode{Name: n.Name, Fn: n.Fn, Args: args}
	case *ObjectNode:
		return RewriteObject(n, rename)
	default:
		return node
	}
}

// RewriteObject is RewriteMembers for object constructions.
func RewriteObject(obj *ObjectNode, rename func(string) string) *ObjectNode {
	if obj == nil || rename == nil {
		return obj
	}
	out := &ObjectNode{Assignments: make([]Assignment, len(obj.Assignments))}
	for i, a := range obj.Assignments {
		out.Assignments[i] = Assignment{Field: rename(a.Field), Value: RewriteMembers(a.Value, rename)}
	}
	return out
}

// DependsOnParam reports whether node references the entity parameter.
func DependsOnParam(node Node) bool {
	switch n := node.(type) {
	case nil:
		return false
	case *FieldNode:
		return true
	case *BinaryNode:
		return DependsOnParam(n.Left) || DependsOnParam(n.Right)
	case *NotNode:
		return DependsOnParam(n.Operand)
	case *CallNode:
		for _, a := range n.Args {
			if DependsOnParam(a) {
				return true
			}
		}
		return false
	case *ObjectNode:
		for _, a := range n.Assignments {
			if DependsOnParam(a.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Fold evaluates a parameter-free node to a normalized literal. Nodes that reference the
// entity parameter, unreachable capture paths and failing calls yield ErrUnrepresentable.
func Fold(node Node) (any, error) {
	if node == nil {
		return nil, errors.Unrepresentable("empty expression")
	}
	if DependsOnParam(node) {
		return nil, errors.Unrepresentable("expression depends on the entity parameter")
	}
	v, err := Eval(node, nil)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Fields returns the distinct entity fields referenced by node in first-seen order.
func Fields(node Node) []string {
	var out []string
	seen := make(map[string]struct{})
	var walk func(Node)
	walk = func(node Node) {
		switch n := node.(type) {
		case *FieldNode:
			if _, ok := seen[n.Name]; !ok {
				seen[n.Name] = struct{}{}
				out = append(out, n.Name)
			}
		case *BinaryNode:
			walk(n.Left)
			walk(n.Right)
		case *NotNode:
			walk(n.Operand)
		case *CallNode:
			for _, a := range n.Args {
				walk(a)
			}
		case *ObjectNode:
			for _, a := range n.Assignments {
				walk(a.Value)
			}
		}
	}
	walk(node)
	return out
}

// Conjuncts flattens a tree of && nodes into its operands.
func Conjuncts(node Node) []Node {
	if node == nil {
		return nil
	}
	if b, ok := node.(*BinaryNode); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Node{node}
}

// Normalize collapses named and sized types to their canonical kind: signed integers
// become int64, unsigned integers uint64, floats float64, named strings string and
// named bools bool. Pointers are dereferenced; nil pointers become nil.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string, bool, int64, uint64, float64, time.Time, []byte:
		return t
	case time.Duration:
		return int64(t)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes()
		}
	}
	return rv.Interface()
}

// String renders node for diagnostics.
func String(node Node) string {
	var sb strings.Builder
	writeNode(&sb, node)
	return sb.String()
}

func writeNode(sb *strings.Builder, node Node) {
	switch n := node.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *FieldNode:
		sb.WriteString("x.")
		sb.WriteString(n.Name)
	case *ValueNode:
		writeLiteral(sb, n.Value)
	case *CaptureNode:
		fmt.Fprintf(sb, "capture(%T)", n.Root)
		if n.Path != "" {
			sb.WriteString(".")
			sb.WriteString(n.Path)
		}
	case *CallNode:
		name := n.Name
		if name == "" {
			name = "call"
		}
		sb.WriteString(name)
		sb.WriteString("(")
		for i, a := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeNode(sb, a)
		}
		sb.WriteString(")")
	case *BinaryNode:
		sb.WriteString("(")
		writeNode(sb, n.Left)
		sb.WriteString(" ")
		sb.WriteString(n.Op.String())
		sb.WriteString(" ")
		writeNode(sb, n.Right)
		sb.WriteString(")")
	case *NotNode:
		sb.WriteString("!")
		writeNode(sb, n.Operand)
	case *ObjectNode:
		sb.WriteString("{")
		for i, a := range n.Assignments {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.Field)
			sb.WriteString(": ")
			writeNode(sb, a.Value)
		}
		sb.WriteString("}")
	}
}

func writeLiteral(sb *strings.Builder, v any) {
	switch t := Normalize(v).(type) {
	case nil:
		sb.WriteString("nil")
	case string:
		fmt.Fprintf(sb, "%q", t)
	case time.Time:
		sb.WriteString(t.Format(time.RFC3339Nano))
	default:
		fmt.Fprintf(sb, "%v", t)
	}
}
