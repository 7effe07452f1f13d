// Package model provides entity registration and metadata management for tablequery
package model

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/validation"
)

const tagName = "tq"

// Registry manages registered entity types and their metadata
type Registry struct {
	models map[reflect.Type]*Metadata
	mu     sync.RWMutex
}

// NewRegistry creates a new model registry
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[reflect.Type]*Metadata),
	}
}

var defaultRegistry = NewRegistry()

// For returns the metadata of T from the process-wide registry, registering it on first use
func For[T any]() (*Metadata, error) {
	var zero T
	return defaultRegistry.Register(&zero)
}

// Register parses and caches the metadata of model. Registering a type twice returns the cached metadata.
func (r *Registry) Register(model any) (*Metadata, error) {
	modelType := reflect.TypeOf(model)
	if modelType == nil {
		return nil, fmt.Errorf("%w: model must not be nil", errors.ErrInvalidModel)
	}
	if modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: model must be a struct", errors.ErrInvalidModel)
	}

	r.mu.RLock()
	metadata, exists := r.models[modelType]
	r.mu.RUnlock()
	if exists {
		return metadata, nil
	}

	metadata, err := parseMetadata(modelType)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.models[modelType]; ok {
		return existing, nil
	}
	r.models[modelType] = metadata
	return metadata, nil
}

// GetMetadata retrieves metadata for a registered model
func (r *Registry) GetMetadata(model any) (*Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modelType := reflect.TypeOf(model)
	if modelType != nil && modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}

	metadata, exists := r.models[modelType]
	if !exists {
		return nil, fmt.Errorf("%w: model not registered: %v", errors.ErrInvalidModel, modelType)
	}
	return metadata, nil
}

// Metadata holds all metadata for an entity type
type Metadata struct {
	Type           reflect.Type
	PartitionKey   *FieldMetadata
	RowKey         *FieldMetadata
	ETagField      *FieldMetadata
	TimestampField *FieldMetadata
	Fields         map[string]*FieldMetadata
	FieldsByStore  map[string]*FieldMetadata
	Ordered        []*FieldMetadata
}

// FieldMetadata holds metadata for a single field
type FieldMetadata struct {
	Type        reflect.Type
	Name        string
	StoreName   string
	IndexPath   []int
	IsPK        bool
	IsRK        bool
	IsETag      bool
	IsTimestamp bool
	IsTag       bool
	OmitEmpty   bool
}

// IsSystem reports whether the field maps onto a key slot or a system property
func (f *FieldMetadata) IsSystem() bool {
	return f.IsPK || f.IsRK || f.IsETag || f.IsTimestamp
}

// IsProxy reports whether the field is a renamed binding of a key slot
func (f *FieldMetadata) IsProxy() bool {
	return (f.IsPK || f.IsRK) && f.Name != f.StoreName
}

// parseMetadata parses entity metadata from struct tags
func parseMetadata(modelType reflect.Type) (*Metadata, error) {
	metadata := &Metadata{
		Type:          modelType,
		Fields:        make(map[string]*FieldMetadata),
		FieldsByStore: make(map[string]*FieldMetadata),
	}

	if err := parseFields(modelType, metadata, []int{}); err != nil {
		return nil, err
	}

	if metadata.PartitionKey == nil || metadata.RowKey == nil {
		return nil, fmt.Errorf("%w: %s needs both a partition key and a row key", errors.ErrMissingPrimaryKey, modelType.Name())
	}

	return metadata, nil
}

// parseFields recursively parses fields including embedded structs
func parseFields(modelType reflect.Type, metadata *Metadata, indexPath []int) error {
	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)
		currentPath := appendIndexPath(indexPath, i)

		if err := parseField(field, currentPath, metadata); err != nil {
			return err
		}
	}
	return nil
}

func appendIndexPath(indexPath []int, index int) []int {
	currentPath := make([]int, len(indexPath)+1)
	copy(currentPath, indexPath)
	currentPath[len(indexPath)] = index
	return currentPath
}

func parseField(field reflect.StructField, indexPath []int, metadata *Metadata) error {
	if !field.IsExported() {
		return nil
	}

	if field.Anonymous && field.Type.Kind() == reflect.Struct && field.Tag.Get(tagName) == "" {
		return parseFields(field.Type, metadata, indexPath)
	}

	fieldMeta, err := parseFieldMetadata(field, indexPath)
	if err != nil {
		return fmt.Errorf("field %s: %w", field.Name, err)
	}
	if fieldMeta == nil {
		return nil
	}

	if err := bindSlots(metadata, fieldMeta); err != nil {
		return err
	}

	if _, dup := metadata.FieldsByStore[fieldMeta.StoreName]; dup {
		return fmt.Errorf("%w: store name %s is used twice", errors.ErrInvalidTag, fieldMeta.StoreName)
	}
	metadata.Fields[fieldMeta.Name] = fieldMeta
	metadata.FieldsByStore[fieldMeta.StoreName] = fieldMeta
	metadata.Ordered = append(metadata.Ordered, fieldMeta)
	return nil
}

func bindSlots(metadata *Metadata, fieldMeta *FieldMetadata) error {
	bind := func(slot **FieldMetadata, name string) error {
		if *slot != nil {
			return fmt.Errorf("%w: %s and %s both bind to %s", errors.ErrDuplicateProxy, (*slot).Name, fieldMeta.Name, name)
		}
		*slot = fieldMeta
		return nil
	}

	switch {
	case fieldMeta.IsPK:
		return bind(&metadata.PartitionKey, core.FieldPartitionKey)
	case fieldMeta.IsRK:
		return bind(&metadata.RowKey, core.FieldRowKey)
	case fieldMeta.IsETag:
		return bind(&metadata.ETagField, core.FieldETag)
	case fieldMeta.IsTimestamp:
		return bind(&metadata.TimestampField, core.FieldTimestamp)
	}
	return nil
}

// parseFieldMetadata parses metadata for a single field
func parseFieldMetadata(field reflect.StructField, indexPath []int) (*FieldMetadata, error) {
	meta := &FieldMetadata{
		Name:      field.Name,
		Type:      field.Type,
		StoreName: field.Name,
		IndexPath: indexPath,
	}

	applyImplicitSlots(meta)

	tag := field.Tag.Get(tagName)
	if tag == "-" {
		if meta.IsSystem() {
			return nil, fmt.Errorf("%w: key and system fields cannot be skipped", errors.ErrInvalidTag)
		}
		return nil, nil
	}
	if err := parseTag(meta, tag); err != nil {
		return nil, err
	}

	switch {
	case meta.IsPK:
		meta.StoreName = core.FieldPartitionKey
	case meta.IsRK:
		meta.StoreName = core.FieldRowKey
	case meta.IsETag:
		meta.StoreName = core.FieldETag
	case meta.IsTimestamp:
		meta.StoreName = core.FieldTimestamp
	case core.IsSystemField(meta.StoreName):
		return nil, fmt.Errorf("%w: %s is reserved", errors.ErrInvalidTag, meta.StoreName)
	}

	if err := validateFieldType(meta); err != nil {
		return nil, err
	}
	if err := validation.ValidateFieldName(meta.StoreName); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidTag, err)
	}
	return meta, nil
}

// applyImplicitSlots binds fields named after a slot without requiring a tag
func applyImplicitSlots(meta *FieldMetadata) {
	switch meta.Name {
	case core.FieldPartitionKey:
		meta.IsPK = true
	case core.FieldRowKey:
		meta.IsRK = true
	case core.FieldETag:
		meta.IsETag = true
	case core.FieldTimestamp:
		meta.IsTimestamp = isTimeField(meta.Type)
	}
}

func isTimeField(fieldType reflect.Type) bool {
	return fieldType == reflect.TypeOf(time.Time{})
}

func parseTag(meta *FieldMetadata, tag string) error {
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, value, ok := strings.Cut(part, ":"); ok {
			if key != "attr" || strings.TrimSpace(value) == "" {
				return fmt.Errorf("%w: unknown tag '%s'", errors.ErrInvalidTag, part)
			}
			meta.StoreName = strings.TrimSpace(value)
			continue
		}
		if err := applySimpleTag(meta, part); err != nil {
			return err
		}
	}
	return nil
}

func applySimpleTag(meta *FieldMetadata, tag string) error {
	switch tag {
	case "pk":
		meta.IsPK = true
	case "rk":
		meta.IsRK = true
	case "etag":
		meta.IsETag = true
	case "timestamp":
		meta.IsTimestamp = true
	case "tag":
		meta.IsTag = true
	case "omitempty":
		meta.OmitEmpty = true
	default:
		return fmt.Errorf("%w: unknown tag '%s'", errors.ErrInvalidTag, tag)
	}
	return nil
}

// validateFieldType validates field type against tag requirements
func validateFieldType(meta *FieldMetadata) error {
	roles := 0
	for _, set := range []bool{meta.IsPK, meta.IsRK, meta.IsETag, meta.IsTimestamp} {
		if set {
			roles++
		}
	}
	if roles > 1 {
		return fmt.Errorf("%w: a field binds to at most one slot", errors.ErrInvalidTag)
	}

	if (meta.IsPK || meta.IsRK || meta.IsETag) && meta.Type.Kind() != reflect.String {
		return fmt.Errorf("%w: key and etag fields must be strings", errors.ErrUnsupportedType)
	}
	if meta.IsTimestamp && !isTimeField(meta.Type) {
		return fmt.Errorf("%w: timestamp field must be time.Time", errors.ErrUnsupportedType)
	}
	if meta.IsTag && meta.IsSystem() {
		return fmt.Errorf("%w: key fields are always tagged", errors.ErrInvalidTag)
	}
	switch meta.Type.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Errorf("%w: %s", errors.ErrUnsupportedType, meta.Type)
	}
	return nil
}
