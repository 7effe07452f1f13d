package core

import (
	"encoding/json"
	"maps"
	"strings"
	"time"

	"github.com/theory-cloud/tablequery/pkg/expr"
)

// Canonical field names of the key slots and system properties
const (
	FieldPartitionKey = "PartitionKey"
	FieldRowKey       = "RowKey"
	FieldETag         = "ETag"
	FieldTimestamp    = "Timestamp"
)

// IsSystemField reports whether name is one of the canonical key or system fields
func IsSystemField(name string) bool {
	switch name {
	case FieldPartitionKey, FieldRowKey, FieldETag, FieldTimestamp:
		return true
	}
	return false
}

// Record is the store-level shape of an entity
type Record struct {
	Timestamp    time.Time
	Properties   map[string]any
	PartitionKey string
	RowKey       string
	ETag         string
}

// Lookup resolves a canonical field name. Dotted names select into nested properties.
func (r *Record) Lookup(field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	switch field {
	case FieldPartitionKey:
		return r.PartitionKey, true
	case FieldRowKey:
		return r.RowKey, true
	case FieldETag:
		return r.ETag, r.ETag != ""
	case FieldTimestamp:
		return r.Timestamp, !r.Timestamp.IsZero()
	}

	if v, ok := r.Properties[field]; ok {
		return v, true
	}

	head, rest, nested := strings.Cut(field, ".")
	if !nested {
		return nil, false
	}
	root, ok := r.Properties[head]
	if !ok {
		return nil, false
	}
	v, err := expr.ResolvePath(root, rest)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a copy with its own property map
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Properties = maps.Clone(r.Properties)
	if out.Properties == nil {
		out.Properties = make(map[string]any)
	}
	return &out
}

// Project returns a copy carrying only the listed properties. Keys and system fields are kept.
// A nil field list keeps everything.
func (r *Record) Project(fields []string) *Record {
	if r == nil || fields == nil {
		return r.Clone()
	}
	out := *r
	out.Properties = make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := r.Properties[f]; ok {
			out.Properties[f] = v
		}
	}
	return &out
}

// Key returns the partition and row key
func (r *Record) Key() (string, string) {
	return r.PartitionKey, r.RowKey
}

// JSONSerializer is the default Serializer
type JSONSerializer struct{}

// Marshal implements Serializer
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Serializer
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
