// Package merge compiles object constructions into partial-update patches.
//
// Members that do not read the entity are folded to literals when the patch is
// compiled. Members that do read it are kept as expressions; such a patch can only be
// applied per entity, after the entity has been fetched.
package merge

import (
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
)

// Use names the call site a patch is validated for
type Use int

const (
	// UseStatic sends the same literal patch to every target
	UseStatic Use = iota
	// UseAddressable sends a literal patch whose keys address the target
	UseAddressable
	// UsePerEntity evaluates the patch against each fetched entity
	UsePerEntity
)

// Options configures compilation
type Options struct {
	// Rename maps user field names to store names
	Rename func(string) string
	// Known reports whether a store name belongs to the entity. nil accepts every name.
	Known func(field string) bool
	// PartitionKey and RowKey name the key slots; they default to the canonical names.
	PartitionKey string
	RowKey       string
}

// Patch is a sparse set of field assignments
type Patch struct {
	// Values holds the folded literal members
	Values map[string]any
	// Nodes holds the entity-dependent members
	Nodes map[string]expr.Node
	// Simple and Complex list member names in assignment order
	Simple  []string
	Complex []string

	partitionKey string
	rowKey       string
}

// Compile compiles obj into a patch. Folding errors surface as ErrUnrepresentable;
// unknown, reserved or repeated members as ErrInvalidUsage.
func Compile(obj *expr.ObjectNode, opts Options) (*Patch, error) {
	if obj == nil {
		return nil, errors.Usage("merge patch is nil")
	}

	p := &Patch{
		Values:       make(map[string]any),
		Nodes:        make(map[string]expr.Node),
		partitionKey: opts.PartitionKey,
		rowKey:       opts.RowKey,
	}
	if p.partitionKey == "" {
		p.partitionKey = core.FieldPartitionKey
	}
	if p.rowKey == "" {
		p.rowKey = core.FieldRowKey
	}

	seen := make(map[string]struct{}, len(obj.Assignments))
	for _, a := range expr.RewriteObject(obj, opts.Rename).Assignments {
		field := a.Field
		if _, dup := seen[field]; dup {
			return nil, errors.Usage("merge patch assigns %s twice", field)
		}
		seen[field] = struct{}{}

		if field == core.FieldETag || field == core.FieldTimestamp {
			return nil, errors.Usage("merge patch cannot assign %s", field)
		}
		if opts.Known != nil && !opts.Known(field) {
			return nil, errors.Usage("merge patch assigns unknown field %s", field)
		}

		if expr.DependsOnParam(a.Value) {
			p.Nodes[field] = a.Value
			p.Complex = append(p.Complex, field)
			continue
		}

		v, err := expr.Fold(a.Value)
		if err != nil {
			return nil, err
		}
		p.Values[field] = v
		p.Simple = append(p.Simple, field)
	}
	return p, nil
}

// Empty reports whether the patch assigns nothing
func (p *Patch) Empty() bool {
	return len(p.Simple) == 0 && len(p.Complex) == 0
}

// Validate checks the patch against a use site
func (p *Patch) Validate(use Use) error {
	if p.Empty() {
		return errors.Usage("merge patch is empty")
	}

	switch use {
	case UseStatic, UseAddressable:
		if len(p.Complex) > 0 {
			return errors.Unrepresentable("member %s depends on the entity and cannot be sent as a static patch", p.Complex[0])
		}
	case UsePerEntity:
		for _, key := range []string{p.partitionKey, p.rowKey} {
			if p.assigns(key) {
				return errors.Usage("merge patch cannot reassign %s of fetched entities", key)
			}
		}
	}

	if use == UseAddressable {
		for _, key := range []string{p.partitionKey, p.rowKey} {
			if _, ok := p.Values[key].(string); !ok {
				return errors.Usage("addressable merge patch needs a literal %s", key)
			}
		}
	}
	return nil
}

func (p *Patch) assigns(field string) bool {
	if _, ok := p.Values[field]; ok {
		return true
	}
	_, ok := p.Nodes[field]
	return ok
}

// Keys returns the literal key members
func (p *Patch) Keys() (partitionKey, rowKey string, ok bool) {
	partitionKey, pkOK := p.Values[p.partitionKey].(string)
	rowKey, rkOK := p.Values[p.rowKey].(string)
	return partitionKey, rowKey, pkOK && rkOK
}

// Evaluate resolves every member against env. Literal members are returned as compiled.
func (p *Patch) Evaluate(env expr.Env) (map[string]any, error) {
	out := make(map[string]any, len(p.Values)+len(p.Nodes))
	for k, v := range p.Values {
		out[k] = v
	}
	for _, field := range p.Complex {
		v, err := expr.Eval(p.Nodes[field], env)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

// Record builds a merge record from evaluated values. Key members populate the record
// keys; every other member becomes a property.
func (p *Patch) Record(values map[string]any) *core.Record {
	rec := &core.Record{Properties: make(map[string]any, len(values))}
	for k, v := range values {
		switch k {
		case p.partitionKey:
			rec.PartitionKey, _ = v.(string)
		case p.rowKey:
			rec.RowKey, _ = v.(string)
		default:
			rec.Properties[k] = v
		}
	}
	return rec
}
