package expr

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/theory-cloud/tablequery/pkg/errors"
)

// Env resolves entity fields during in-process evaluation.
type Env interface {
	// Lookup returns the field value and whether the entity carries the field.
	Lookup(field string) (any, bool)
}

// MapEnv is an Env backed by a plain map.
type MapEnv map[string]any

// Lookup implements Env.
func (m MapEnv) Lookup(field string) (any, bool) {
	v, ok := m[field]
	return v, ok
}

// Matches evaluates a boolean predicate against env. A nil predicate matches everything.
func Matches(node Node, env Env) (bool, error) {
	if node == nil {
		return true, nil
	}
	v, err := Eval(node, env)
	if err != nil {
		return false, err
	}
	return asBool(v)
}

// Eval evaluates node against env. env may be nil for parameter-free nodes.
// Absent fields evaluate to nil.
func Eval(node Node, env Env) (any, error) {
	switch n := node.(type) {
	case nil:
		return nil, nil
	case *FieldNode:
		if env == nil {
			return nil, errors.Unrepresentable("field %s referenced without an entity", n.Name)
		}
		v, _ := env.Lookup(n.Name)
		return Normalize(v), nil
	case *ValueNode:
		return Normalize(n.Value), nil
	case *CaptureNode:
		return ResolvePath(n.Root, n.Path)
	case *CallNode:
		return evalCall(n, env)
	case *NotNode:
		v, err := Eval(n.Operand, env)
		if err != nil {
			return nil, err
		}
		b, err := asBool(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case *BinaryNode:
		return evalBinary(n, env)
	case *ObjectNode:
		out := make(map[string]any, len(n.Assignments))
		for _, a := range n.Assignments {
			v, err := Eval(a.Value, env)
			if err != nil {
				return nil, err
			}
			out[a.Field] = v
		}
		return out, nil
	default:
		return nil, errors.Unrepresentable("unknown node %T", node)
	}
}

func evalBinary(n *BinaryNode, env Env) (any, error) {
	if n.Op.IsLogical() {
		lv, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		lb, err := asBool(lv)
		if err != nil {
			return nil, err
		}
		if n.Op == OpAnd && !lb {
			return false, nil
		}
		if n.Op == OpOr && lb {
			return true, nil
		}
		rv, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return asBool(rv)
	}

	lv, err := Eval(n.Left, env)
	if err != nil {
		return nil, err
	}
	rv, err := Eval(n.Right, env)
	if err != nil {
		return nil, err
	}

	if n.Op.IsArithmetic() {
		return arith(n.Op, lv, rv)
	}
	return CompareOp(n.Op, lv, rv), nil
}

// TimeLayout is the fixed-width UTC form of times in filter strings, tags and stored
// attributes. Strings in this form sort in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeLayout
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// CompareOp applies a comparison operator to two normalized values. Values that cannot be
// ordered against each other compare unequal and never satisfy an ordering operator.
func CompareOp(op Op, a, b any) bool {
	c, ok := Compare(a, b)
	switch op {
	case OpEq:
		return ok && c == 0
	case OpNe:
		return !ok || c != 0
	case OpGt:
		return ok && c > 0
	case OpGe:
		return ok && c >= 0
	case OpLt:
		return ok && c < 0
	case OpLe:
		return ok && c <= 0
	default:
		return false
	}
}

// Compare orders a and b. ok is false when the values are not comparable.
// Numbers compare across widths; a numeric string compares as a number against a number.
func Compare(a, b any) (c int, ok bool) {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}

	if isNumber(a) || isNumber(b) {
		return compareNumbers(a, b)
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
		if _, ok := b.(time.Time); ok {
			c, ok := Compare(b, a)
			return -c, ok
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
		if bs, ok := b.(string); ok {
			if bv, err := cast.ToTimeE(bs); err == nil {
				return av.Compare(bv), true
			}
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv), true
		}
	}

	if reflect.DeepEqual(a, b) {
		return 0, true
	}
	return 0, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, uint64, float64:
		return true
	}
	return false
}

func compareNumbers(a, b any) (int, bool) {
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			return cmp3(ai, bi), true
		}
	}
	if au, ok := a.(uint64); ok {
		if bu, ok := b.(uint64); ok {
			return cmp3(au, bu), true
		}
	}
	af, err := toFloat(a)
	if err != nil {
		return 0, false
	}
	bf, err := toFloat(b)
	if err != nil {
		return 0, false
	}
	return cmp3(af, bf), true
}

func toFloat(v any) (float64, error) {
	if _, isBool := v.(bool); isBool {
		return 0, fmt.Errorf("bool is not a number")
	}
	return cast.ToFloat64E(v)
}

func cmp3[N int64 | uint64 | float64](a, b N) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func arith(op Op, a, b any) (any, error) {
	if as, ok := a.(string); ok && op == OpAdd {
		if bs, ok := b.(string); ok {
			return as + bs, nil
		}
	}

	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case OpAdd:
			return ai + bi, nil
		case OpSub:
			return ai - bi, nil
		case OpMul:
			return ai * bi, nil
		case OpDiv:
			if bi == 0 {
				return nil, errors.Unrepresentable("integer division by zero")
			}
			return ai / bi, nil
		}
	}

	if !isNumber(a) || !isNumber(b) {
		return nil, errors.Unrepresentable("operator %s needs numeric operands, got %T and %T", op, a, b)
	}
	af, _ := toFloat(a)
	bf, _ := toFloat(b)
	switch op {
	case OpAdd:
		return af + bf, nil
	case OpSub:
		return af - bf, nil
	case OpMul:
		return af * bf, nil
	case OpDiv:
		return af / bf, nil
	}
	return nil, errors.Unrepresentable("operator %s is not arithmetic", op)
}

func asBool(v any) (bool, error) {
	switch t := Normalize(v).(type) {
	case bool:
		return t, nil
	case nil:
		return false, nil
	default:
		return false, errors.Unrepresentable("predicate evaluated to %T, want bool", v)
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// ResolvePath walks a dot separated member chain on root. Each segment is an exported
// struct field, a string map key or a method without arguments.
func ResolvePath(root any, path string) (any, error) {
	cur := reflect.ValueOf(root)
	if path == "" {
		return Normalize(root), nil
	}

	for _, seg := range strings.Split(path, ".") {
		if !cur.IsValid() {
			return nil, errors.Unrepresentable("capture path %q reaches nil before %s", path, seg)
		}

		if m := cur.MethodByName(seg); m.IsValid() {
			v, err := callMethod(m, seg)
			if err != nil {
				return nil, err
			}
			cur = v
			continue
		}

		for cur.Kind() == reflect.Pointer || cur.Kind() == reflect.Interface {
			if cur.IsNil() {
				return nil, errors.Unrepresentable("capture path %q reaches nil before %s", path, seg)
			}
			cur = cur.Elem()
			if m := cur.MethodByName(seg); m.IsValid() {
				break
			}
		}

		switch {
		case cur.MethodByName(seg).IsValid():
			v, err := callMethod(cur.MethodByName(seg), seg)
			if err != nil {
				return nil, err
			}
			cur = v
		case cur.Kind() == reflect.Struct:
			sf, ok := cur.Type().FieldByName(seg)
			if !ok || !sf.IsExported() {
				return nil, errors.Unrepresentable("capture path %q: %s has no exported member %s", path, cur.Type(), seg)
			}
			cur = cur.FieldByIndex(sf.Index)
		case cur.Kind() == reflect.Map && cur.Type().Key().Kind() == reflect.String:
			cur = cur.MapIndex(reflect.ValueOf(seg).Convert(cur.Type().Key()))
		default:
			return nil, errors.Unrepresentable("capture path %q: cannot select %s on %s", path, seg, cur.Type())
		}
	}

	if !cur.IsValid() {
		return nil, nil
	}
	return Normalize(cur.Interface()), nil
}

func callMethod(m reflect.Value, name string) (reflect.Value, error) {
	mt := m.Type()
	if mt.NumIn() != 0 || mt.NumOut() == 0 || mt.NumOut() > 2 {
		return reflect.Value{}, errors.Unrepresentable("method %s must take no arguments and return a value", name)
	}
	out := m.Call(nil)
	if len(out) == 2 && mt.Out(1).Implements(errorType) && !out[1].IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: method %s: %v", errors.ErrUnrepresentable, name, out[1].Interface())
	}
	return out[0], nil
}

func evalCall(n *CallNode, env Env) (result any, err error) {
	fn := reflect.ValueOf(n.Fn)
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, errors.Unrepresentable("call %s: not a function", n.Name)
	}
	ft := fn.Type()
	if ft.IsVariadic() || ft.NumIn() != len(n.Args) {
		return nil, errors.Unrepresentable("call %s: want %d arguments, got %d", n.Name, ft.NumIn(), len(n.Args))
	}
	if ft.NumOut() == 0 || ft.NumOut() > 2 || (ft.NumOut() == 2 && !ft.Out(1).Implements(errorType)) {
		return nil, errors.Unrepresentable("call %s: must return a value, optionally with an error", n.Name)
	}

	args := make([]reflect.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		arg, err := convertArg(v, ft.In(i))
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", n.Name, err)
		}
		args[i] = arg
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Unrepresentable("call %s panicked: %v", n.Name, r)
		}
	}()

	out := fn.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, fmt.Errorf("%w: call %s: %v", errors.ErrUnrepresentable, n.Name, out[1].Interface())
	}
	return Normalize(out[0].Interface()), nil
}

func convertArg(v any, target reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(target), nil
	}
	av := reflect.ValueOf(v)
	if av.Type().AssignableTo(target) {
		return av, nil
	}
	if target.Kind() == reflect.String && av.Kind() != reflect.String {
		return reflect.Value{}, errors.Unrepresentable("cannot pass %T as %s", v, target)
	}
	if av.Type().ConvertibleTo(target) {
		return av.Convert(target), nil
	}
	return reflect.Value{}, errors.Unrepresentable("cannot pass %T as %s", v, target)
}
