// Package dynamoexpr builds DynamoDB expression strings together with their attribute
// name and value placeholders.
package dynamoexpr

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/validation"
)

// ValueConverter turns Go values into AttributeValues
type ValueConverter interface {
	ToAttributeValue(value any) (types.AttributeValue, error)
}

// Builder accumulates the parts of one DynamoDB request. It is not safe for concurrent use.
type Builder struct {
	converter ValueConverter

	names   map[string]string
	aliases map[string]string
	values  map[string]types.AttributeValue

	keyConditions []string
	filters       []string
	conditions    []string
	projection    []string
	sets          []string
	removes       []string

	nameCounter  int
	valueCounter int
}

// Expressions is the output of Build. Empty strings and nil maps are omitted from requests.
type Expressions struct {
	Names        map[string]string
	Values       map[string]types.AttributeValue
	KeyCondition string
	Filter       string
	Projection   string
	Update       string
	Condition    string
}

// NewBuilder returns an empty builder that converts values with converter
func NewBuilder(converter ValueConverter) *Builder {
	return &Builder{
		converter: converter,
		names:     make(map[string]string),
		aliases:   make(map[string]string),
		values:    make(map[string]types.AttributeValue),
	}
}

// KeyCondition adds field op value to the key condition
func (b *Builder) KeyCondition(field, op string, value any) error {
	cond, err := b.compare(field, op, value)
	if err != nil {
		return err
	}
	b.keyConditions = append(b.keyConditions, cond)
	return nil
}

// KeyBetween adds "field BETWEEN lo AND hi" to the key condition
func (b *Builder) KeyBetween(field string, lo, hi any) error {
	name, err := b.Name(field)
	if err != nil {
		return err
	}
	loPlaceholder, err := b.Value(lo)
	if err != nil {
		return err
	}
	hiPlaceholder, err := b.Value(hi)
	if err != nil {
		return err
	}
	b.keyConditions = append(b.keyConditions, fmt.Sprintf("%s BETWEEN %s AND %s", name, loPlaceholder, hiPlaceholder))
	return nil
}

// Filter adds field op value to the filter expression
func (b *Builder) Filter(field, op string, value any) error {
	cond, err := b.compare(field, op, value)
	if err != nil {
		return err
	}
	b.filters = append(b.filters, cond)
	return nil
}

// Condition adds field op value to the condition expression
func (b *Builder) Condition(field, op string, value any) error {
	cond, err := b.compare(field, op, value)
	if err != nil {
		return err
	}
	b.conditions = append(b.conditions, cond)
	return nil
}

// ConditionExists requires field to be present
func (b *Builder) ConditionExists(field string) error {
	name, err := b.Name(field)
	if err != nil {
		return err
	}
	b.conditions = append(b.conditions, fmt.Sprintf("attribute_exists(%s)", name))
	return nil
}

// ConditionNotExists requires field to be absent
func (b *Builder) ConditionNotExists(field string) error {
	name, err := b.Name(field)
	if err != nil {
		return err
	}
	b.conditions = append(b.conditions, fmt.Sprintf("attribute_not_exists(%s)", name))
	return nil
}

// ConditionAbsentOrEqual passes when absentField is missing or field equals value
func (b *Builder) ConditionAbsentOrEqual(absentField, field string, value any) error {
	absent, err := b.Name(absentField)
	if err != nil {
		return err
	}
	cond, err := b.compare(field, "=", value)
	if err != nil {
		return err
	}
	b.conditions = append(b.conditions, fmt.Sprintf("(attribute_not_exists(%s) OR %s)", absent, cond))
	return nil
}

// Project adds fields to the projection expression
func (b *Builder) Project(fields ...string) error {
	for _, f := range fields {
		name, err := b.Name(f)
		if err != nil {
			return err
		}
		b.projection = append(b.projection, name)
	}
	return nil
}

// Set adds "field = value" to the update expression
func (b *Builder) Set(field string, value any) error {
	name, err := b.Name(field)
	if err != nil {
		return err
	}
	placeholder, err := b.Value(value)
	if err != nil {
		return err
	}
	b.sets = append(b.sets, fmt.Sprintf("%s = %s", name, placeholder))
	return nil
}

// Remove adds field to the REMOVE clause of the update expression
func (b *Builder) Remove(field string) error {
	name, err := b.Name(field)
	if err != nil {
		return err
	}
	b.removes = append(b.removes, name)
	return nil
}

// Build assembles the expressions added so far
func (b *Builder) Build() Expressions {
	out := Expressions{
		KeyCondition: strings.Join(b.keyConditions, " AND "),
		Filter:       strings.Join(b.filters, " AND "),
		Condition:    strings.Join(b.conditions, " AND "),
		Projection:   strings.Join(b.projection, ", "),
	}

	var update []string
	if len(b.sets) > 0 {
		update = append(update, "SET "+strings.Join(b.sets, ", "))
	}
	if len(b.removes) > 0 {
		update = append(update, "REMOVE "+strings.Join(b.removes, ", "))
	}
	out.Update = strings.Join(update, " ")

	if len(b.names) > 0 {
		out.Names = make(map[string]string, len(b.names))
		for k, v := range b.names {
			out.Names[k] = v
		}
	}
	if len(b.values) > 0 {
		out.Values = make(map[string]types.AttributeValue, len(b.values))
		for k, v := range b.values {
			out.Values[k] = v
		}
	}
	return out
}

var operators = map[string]string{
	"=":  "=",
	"<>": "<>",
	"!=": "<>",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
}

func (b *Builder) compare(field, op string, value any) (string, error) {
	sym, ok := operators[op]
	if !ok {
		return "", fmt.Errorf("%w: %s", errors.ErrInvalidOperator, op)
	}
	name, err := b.Name(field)
	if err != nil {
		return "", err
	}
	placeholder, err := b.Value(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", name, sym, placeholder), nil
}

// Name returns the expression form of a dotted attribute path. Plain segments are
// written as is; reserved words and other segments get a name placeholder.
func (b *Builder) Name(path string) (string, error) {
	if err := validation.ValidateFieldName(path); err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidUsage, err)
	}
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		if isPlain(seg) && !isReserved(seg) {
			continue
		}
		segments[i] = b.alias(seg)
	}
	return strings.Join(segments, "."), nil
}

func (b *Builder) alias(name string) string {
	if placeholder, ok := b.aliases[name]; ok {
		return placeholder
	}
	var placeholder string
	if isPlain(name) {
		placeholder = "#" + name
	} else {
		b.nameCounter++
		placeholder = fmt.Sprintf("#n%d", b.nameCounter)
	}
	b.aliases[name] = placeholder
	b.names[placeholder] = name
	return placeholder
}

// Value registers value and returns its placeholder
func (b *Builder) Value(value any) (string, error) {
	av, err := b.converter.ToAttributeValue(value)
	if err != nil {
		return "", err
	}
	b.valueCounter++
	placeholder := fmt.Sprintf(":v%d", b.valueCounter)
	b.values[placeholder] = av
	return placeholder, nil
}

// isPlain reports whether name can appear unescaped: a letter followed by letters,
// digits or underscores.
func isPlain(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// Optional returns nil for an empty expression and a pointer to s otherwise
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
