// Package types converts record property values to and from DynamoDB AttributeValues
package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
)

// Converter handles conversion between property values and DynamoDB AttributeValues.
// Decoding yields the natural Go shapes: string, int64 or float64, bool, []byte,
// []any and map[string]any.
type Converter struct {
	// customConverters allows registration of custom type converters
	customConverters map[reflect.Type]CustomConverter
	mu               sync.RWMutex
}

var timeType = reflect.TypeOf(time.Time{})

// CustomConverter encodes values of one registered type
type CustomConverter interface {
	ToAttributeValue(value any) (types.AttributeValue, error)
}

// ConverterFunc adapts a function to CustomConverter
type ConverterFunc func(value any) (types.AttributeValue, error)

// ToAttributeValue implements CustomConverter
func (f ConverterFunc) ToAttributeValue(value any) (types.AttributeValue, error) {
	return f(value)
}

// NewConverter creates a new type converter
func NewConverter() *Converter {
	return &Converter{
		customConverters: make(map[reflect.Type]CustomConverter),
	}
}

// RegisterConverter registers a custom converter for a specific type
func (c *Converter) RegisterConverter(typ reflect.Type, converter CustomConverter) {
	if typ == nil || converter == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customConverters[typ] = converter
}

// HasCustomConverter returns true if a custom converter exists for the given type.
func (c *Converter) HasCustomConverter(typ reflect.Type) bool {
	_, ok := c.lookupConverter(typ)
	return ok
}

// lookupConverter walks pointer indirections until a registered type is found
func (c *Converter) lookupConverter(typ reflect.Type) (CustomConverter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for typ != nil {
		if converter, ok := c.customConverters[typ]; ok {
			return converter, true
		}
		if typ.Kind() != reflect.Ptr {
			break
		}
		typ = typ.Elem()
	}
	return nil, false
}

// ToItem converts a property map into a DynamoDB item
func (c *Converter) ToItem(props map[string]any) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(props))
	for name, v := range props {
		av, err := c.ToAttributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

// ToAttributeValue converts a Go value to DynamoDB AttributeValue
func (c *Converter) ToAttributeValue(value any) (types.AttributeValue, error) {
	if value == nil {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	if av, ok := value.(types.AttributeValue); ok {
		return av, nil
	}
	return c.toAttributeValue(reflect.ValueOf(value))
}

func (c *Converter) toAttributeValue(v reflect.Value) (types.AttributeValue, error) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		v = v.Elem()
	}

	if converter, ok := c.lookupConverter(v.Type()); ok {
		return converter.ToAttributeValue(v.Interface())
	}

	if v.Type() == timeType {
		t, _ := v.Interface().(time.Time)
		return &types.AttributeValueMemberS{Value: expr.FormatTime(t)}, nil
	}

	switch v.Kind() {
	case reflect.String:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v.Int(), 10)}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(v.Uint(), 10)}, nil
	case reflect.Float32, reflect.Float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v.Float(), 'f', -1, 64)}, nil
	case reflect.Bool:
		return &types.AttributeValueMemberBOOL{Value: v.Bool()}, nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return &types.AttributeValueMemberB{Value: v.Bytes()}, nil
		}
		return c.sliceToList(v)
	case reflect.Map:
		return c.mapToAttributeValueMap(v)
	case reflect.Struct:
		return c.structToMap(v)
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedType, v.Type())
	}
}

func (c *Converter) sliceToList(v reflect.Value) (types.AttributeValue, error) {
	list := make([]types.AttributeValue, v.Len())
	for i := 0; i < v.Len(); i++ {
		av, err := c.toAttributeValue(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		list[i] = av
	}
	return &types.AttributeValueMemberL{Value: list}, nil
}

func (c *Converter) mapToAttributeValueMap(v reflect.Value) (types.AttributeValue, error) {
	if v.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("%w: map keys must be strings", errors.ErrUnsupportedType)
	}
	m := make(map[string]types.AttributeValue, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		av, err := c.toAttributeValue(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		m[key] = av
	}
	return &types.AttributeValueMemberM{Value: m}, nil
}

// structToMap stores nested structs in their JSON shape, the same shape the entity
// codec decodes nested properties from.
func (c *Converter) structToMap(v reflect.Value) (types.AttributeValue, error) {
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnsupportedType, err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnsupportedType, err)
	}
	return c.ToAttributeValue(generic)
}

// FromItem converts a DynamoDB item into a property map
func (c *Converter) FromItem(item map[string]types.AttributeValue) (map[string]any, error) {
	props := make(map[string]any, len(item))
	for name, av := range item {
		v, err := c.FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		props[name] = v
	}
	return props, nil
}

// FromAttributeValue converts a DynamoDB AttributeValue to its natural Go value.
// Numbers become int64 when integral and in range, float64 otherwise.
func (c *Converter) FromAttributeValue(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return parseNumber(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberL:
		list := make([]any, len(v.Value))
		for i, item := range v.Value {
			x, err := c.FromAttributeValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = x
		}
		return list, nil
	case *types.AttributeValueMemberM:
		m, err := c.FromItem(v.Value)
		if err != nil {
			return nil, err
		}
		return m, nil
	case *types.AttributeValueMemberSS:
		return append([]string(nil), v.Value...), nil
	case *types.AttributeValueMemberNS:
		set := make([]any, len(v.Value))
		for i, s := range v.Value {
			n, err := parseNumber(s)
			if err != nil {
				return nil, err
			}
			set[i] = n
		}
		return set, nil
	case *types.AttributeValueMemberBS:
		return append([][]byte(nil), v.Value...), nil
	default:
		return nil, fmt.Errorf("%w: attribute value %T", errors.ErrUnsupportedType, av)
	}
}

func parseNumber(s string) (any, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid number %q", errors.ErrUnsupportedType, s)
	}
	return f, nil
}

// ConvertToSet encodes a slice of strings, numbers or byte slices as a DynamoDB set
func (c *Converter) ConvertToSet(slice any) (types.AttributeValue, error) {
	v := reflect.ValueOf(slice)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: set requires a slice", errors.ErrUnsupportedType)
	}
	if v.Len() == 0 {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}

	elemType := v.Type().Elem()
	switch elemType.Kind() {
	case reflect.String:
		set := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			set[i] = v.Index(i).String()
		}
		return &types.AttributeValueMemberSS{Value: set}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		set := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			av, err := c.toAttributeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			n, ok := av.(*types.AttributeValueMemberN)
			if !ok {
				return nil, fmt.Errorf("%w: expected number type for set", errors.ErrUnsupportedType)
			}
			set[i] = n.Value
		}
		return &types.AttributeValueMemberNS{Value: set}, nil
	case reflect.Slice:
		if elemType.Elem().Kind() == reflect.Uint8 {
			set := make([][]byte, v.Len())
			for i := 0; i < v.Len(); i++ {
				set[i] = v.Index(i).Bytes()
			}
			return &types.AttributeValueMemberBS{Value: set}, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported set element type %s", errors.ErrUnsupportedType, elemType)
}
