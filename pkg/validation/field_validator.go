package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// SecurityError represents a security validation error
type SecurityError struct {
	Type   string
	Field  string
	Detail string
}

func (e *SecurityError) Error() string {
	// SECURITY: Don't expose user-generated field names or content in error messages
	// Only return the error type for secure logging
	return fmt.Sprintf("security validation failed: %s", e.Type)
}

// Validation limits
const (
	MaxFieldNameLength  = 255
	MaxNestedDepth      = 32
	MaxKeyLength        = 1024
	MaxFilterLength     = 4096
	MaxTableNameLength  = 255
	MinTableNameLength  = 3
	MaxContainerNameLen = 63
)

// Injection patterns that never appear in a legitimate field name
var dangerousPatterns = []string{
	"'", "\"", ";", "--", "/*", "*/",
	"<script", "</script", "eval(", "expression(", "import(", "require(",
}

var (
	fieldPartPattern     = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	tableNamePattern     = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	containerNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)
)

// Server filter operators
var allowedOperators = map[string]bool{
	"=":  true,
	">":  true,
	">=": true,
	"<":  true,
	"<=": true,
}

// ValidateFieldName validates an entity property name or a dotted path into nested properties
func ValidateFieldName(field string) error {
	if field == "" {
		return &SecurityError{Type: "InvalidField", Detail: "field name cannot be empty"}
	}
	if len(field) > MaxFieldNameLength {
		return &SecurityError{Type: "InvalidField", Detail: "field name exceeds maximum length"}
	}

	if containsAnySubstring(strings.ToLower(field), dangerousPatterns) {
		return &SecurityError{Type: "InjectionAttempt", Detail: "field name contains dangerous pattern"}
	}
	if containsControlCharacters(field) {
		return &SecurityError{Type: "InvalidField", Detail: "field name contains control characters"}
	}

	parts := strings.Split(field, ".")
	if len(parts) > MaxNestedDepth {
		return &SecurityError{Type: "InvalidField", Detail: "nested field depth exceeds maximum"}
	}
	for _, part := range parts {
		if !fieldPartPattern.MatchString(part) {
			return &SecurityError{Type: "InvalidField", Detail: "invalid field part"}
		}
	}
	return nil
}

// ValidateOperator validates a server filter operator
func ValidateOperator(op string) error {
	if !allowedOperators[strings.TrimSpace(op)] {
		return &SecurityError{Type: "InvalidOperator", Detail: "operator not allowed"}
	}
	return nil
}

// ValidateKey validates a partition or row key value. Blob names join the keys with a
// slash, so keys addressed through a blob container must not contain one.
func ValidateKey(key string, blobName bool) error {
	if len(key) > MaxKeyLength {
		return &SecurityError{Type: "InvalidKey", Detail: "key exceeds maximum length"}
	}
	if containsControlCharacters(key) {
		return &SecurityError{Type: "InvalidKey", Detail: "key contains control characters"}
	}
	if blobName && strings.Contains(key, "/") {
		return &SecurityError{Type: "InvalidKey", Detail: "key contains a path separator"}
	}
	return nil
}

// ValidateFilter validates a raw server filter string
func ValidateFilter(filter string) error {
	if len(filter) > MaxFilterLength {
		return &SecurityError{Type: "InvalidExpression", Detail: "filter exceeds maximum length"}
	}
	if containsControlCharacters(filter) {
		return &SecurityError{Type: "InvalidExpression", Detail: "filter contains control characters"}
	}
	return nil
}

// ValidateTableName validates a table name
func ValidateTableName(name string) error {
	if len(name) < MinTableNameLength || len(name) > MaxTableNameLength {
		return &SecurityError{Type: "InvalidTableName", Detail: "table name length invalid"}
	}
	if !tableNamePattern.MatchString(name) {
		return &SecurityError{Type: "InvalidTableName", Detail: "table name contains invalid characters"}
	}
	return nil
}

// ValidateContainerName validates a blob container (bucket) name
func ValidateContainerName(name string) error {
	if len(name) < MinTableNameLength || len(name) > MaxContainerNameLen {
		return &SecurityError{Type: "InvalidContainerName", Detail: "container name length invalid"}
	}
	if !containerNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return &SecurityError{Type: "InvalidContainerName", Detail: "container name contains invalid characters"}
	}
	return nil
}

func containsAnySubstring(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func containsControlCharacters(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
