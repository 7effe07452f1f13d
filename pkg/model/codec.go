package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/theory-cloud/tablequery/internal/reflectutil"
	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
)

// Canonical maps a Go field name (including key proxies) to its store name.
// Dotted paths map their first segment. Unknown names are returned unchanged.
func (m *Metadata) Canonical(name string) string {
	if f, ok := m.Fields[name]; ok {
		return f.StoreName
	}
	if head, rest, ok := strings.Cut(name, "."); ok {
		if f, ok := m.Fields[head]; ok {
			return f.StoreName + "." + rest
		}
	}
	return name
}

// Known reports whether a store name belongs to the entity
func (m *Metadata) Known(storeName string) bool {
	head, _, _ := strings.Cut(storeName, ".")
	_, ok := m.FieldsByStore[head]
	return ok
}

// Tagged reports whether a store name is indexed as a blob tag. Keys are always tagged.
func (m *Metadata) Tagged(storeName string) bool {
	f, ok := m.FieldsByStore[storeName]
	return ok && (f.IsPK || f.IsRK || f.IsTag)
}

// ProxyBindings returns proxy field name to key slot mappings
func (m *Metadata) ProxyBindings() map[string]string {
	out := make(map[string]string)
	for _, f := range []*FieldMetadata{m.PartitionKey, m.RowKey} {
		if f != nil && f.IsProxy() {
			out[f.Name] = f.StoreName
		}
	}
	return out
}

// PropertyNames maps field names to the store names of non-system properties.
// Unknown and system names are dropped; the result keeps the input order without duplicates.
func (m *Metadata) PropertyNames(fields []string) []string {
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, name := range fields {
		store := m.Canonical(name)
		head, _, _ := strings.Cut(store, ".")
		f, ok := m.FieldsByStore[head]
		if !ok || f.IsSystem() {
			continue
		}
		if _, dup := seen[head]; dup {
			continue
		}
		seen[head] = struct{}{}
		out = append(out, head)
	}
	return out
}

// Encode converts an entity (value or pointer) into a record
func (m *Metadata) Encode(entity any) (*core.Record, error) {
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: nil entity", errors.ErrInvalidModel)
		}
		rv = rv.Elem()
	}
	if rv.Type() != m.Type {
		return nil, fmt.Errorf("%w: expected %s, got %s", errors.ErrInvalidModel, m.Type, rv.Type())
	}

	rec := &core.Record{Properties: make(map[string]any, len(m.Ordered))}
	for _, f := range m.Ordered {
		fv := rv.FieldByIndex(f.IndexPath)
		switch {
		case f.IsPK:
			rec.PartitionKey = fv.String()
		case f.IsRK:
			rec.RowKey = fv.String()
		case f.IsETag:
			rec.ETag = fv.String()
		case f.IsTimestamp:
			rec.Timestamp = fv.Interface().(time.Time)
		default:
			if f.OmitEmpty && reflectutil.IsEmpty(fv) {
				continue
			}
			v := expr.Normalize(fv.Interface())
			if v == nil {
				continue
			}
			rec.Properties[f.StoreName] = v
		}
	}
	return rec, nil
}

// Decode populates dst (a pointer to the entity type) from rec. Properties absent from
// the record leave their fields at the zero value already held by dst.
func (m *Metadata) Decode(rec *core.Record, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != m.Type {
		return fmt.Errorf("%w: decode target must be *%s", errors.ErrInvalidModel, m.Type)
	}
	rv = rv.Elem()

	for _, f := range m.Ordered {
		fv := rv.FieldByIndex(f.IndexPath)
		var v any
		switch {
		case f.IsPK:
			v = rec.PartitionKey
		case f.IsRK:
			v = rec.RowKey
		case f.IsETag:
			v = rec.ETag
		case f.IsTimestamp:
			v = rec.Timestamp
		default:
			pv, ok := rec.Properties[f.StoreName]
			if !ok || pv == nil {
				continue
			}
			v = pv
		}
		if err := assignValue(fv, v); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

// Tags returns the blob tag set of rec: both keys plus every tagged property
func (m *Metadata) Tags(rec *core.Record) (map[string]string, error) {
	tags := map[string]string{
		core.FieldPartitionKey: rec.PartitionKey,
		core.FieldRowKey:       rec.RowKey,
	}
	for _, f := range m.Ordered {
		if !f.IsTag {
			continue
		}
		v, ok := rec.Properties[f.StoreName]
		if !ok {
			continue
		}
		s, err := TagValue(v)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", f.StoreName, err)
		}
		tags[f.StoreName] = s
	}
	return tags, nil
}

// TagValue renders a scalar as a tag string
func TagValue(v any) (string, error) {
	switch t := expr.Normalize(v).(type) {
	case time.Time:
		return expr.FormatTime(t), nil
	case nil:
		return "", nil
	default:
		s, err := cast.ToStringE(t)
		if err != nil {
			return "", fmt.Errorf("%w: %T cannot be a tag", errors.ErrUnsupportedType, v)
		}
		return s, nil
	}
}

var timeType = reflect.TypeOf(time.Time{})

func assignValue(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := assignValue(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	if dst.Type() == timeType {
		t, err := cast.ToTimeE(v)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrUnsupportedType, err)
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(v)
		if err != nil || dst.OverflowInt(n) {
			return fmt.Errorf("%w: cannot store %T in %s", errors.ErrUnsupportedType, v, dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(v)
		if err != nil || dst.OverflowUint(n) {
			return fmt.Errorf("%w: cannot store %T in %s", errors.ErrUnsupportedType, v, dst.Type())
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return fmt.Errorf("%w: cannot store %T in %s", errors.ErrUnsupportedType, v, dst.Type())
		}
		dst.SetFloat(n)
	case reflect.String:
		s, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Errorf("%w: cannot store %T in %s", errors.ErrUnsupportedType, v, dst.Type())
		}
		dst.SetString(s)
	case reflect.Bool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("%w: cannot store %T in %s", errors.ErrUnsupportedType, v, dst.Type())
		}
		dst.SetBool(b)
	default:
		if src.Type().ConvertibleTo(dst.Type()) && src.Kind() == dst.Kind() {
			dst.Set(src.Convert(dst.Type()))
			return nil
		}
		// nested shapes arrive as generic maps and slices from the stores
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrUnsupportedType, err)
		}
		if err := json.Unmarshal(data, dst.Addr().Interface()); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrUnsupportedType, err)
		}
	}
	return nil
}

// SetETag writes etag into the ETag field of dst, a pointer to the entity type.
// Entities without an ETag field are left unchanged.
func (m *Metadata) SetETag(dst any, etag string) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != m.Type {
		return fmt.Errorf("%w: target must be *%s", errors.ErrInvalidModel, m.Type)
	}
	if m.ETagField == nil {
		return nil
	}
	rv.Elem().FieldByIndex(m.ETagField.IndexPath).SetString(etag)
	return nil
}
