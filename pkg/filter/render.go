package filter

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cast"

	"github.com/theory-cloud/tablequery/pkg/core"
	"github.com/theory-cloud/tablequery/pkg/errors"
	"github.com/theory-cloud/tablequery/pkg/expr"
	"github.com/theory-cloud/tablequery/pkg/validation"
)

// Render joins clauses into a filter string
func Render(clauses []core.Clause) string {
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = c.Field + " " + c.Op + " " + FormatLiteral(c.Value)
	}
	return strings.Join(parts, " and ")
}

// FormatLiteral renders a literal in filter syntax. Strings are single-quoted with
// embedded quotes doubled; times are quoted in expr.TimeLayout; byte slices are quoted base64.
func FormatLiteral(v any) string {
	switch t := expr.Normalize(v).(type) {
	case string:
		return quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return quote(expr.FormatTime(t))
	case []byte:
		return quote(base64.StdEncoding.EncodeToString(t))
	default:
		return quote(fmt.Sprint(t))
	}
}

func renderable(v any) bool {
	switch expr.Normalize(v).(type) {
	case string, bool, int64, uint64, float64, time.Time, []byte:
		return true
	}
	return false
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Parse reads a filter string back into clauses. Quoted literals parse as strings,
// true and false as bools, and numbers as int64 or float64.
func Parse(filter string) ([]core.Clause, error) {
	if err := validation.ValidateFilter(filter); err != nil {
		return nil, errors.Usage("filter: %v", err)
	}
	p := &parser{input: filter}
	p.skipSpace()
	if p.done() {
		return nil, nil
	}

	var clauses []core.Clause
	for {
		clause, err := p.clause()
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)

		p.skipSpace()
		if p.done() {
			return clauses, nil
		}
		if !p.keyword("and") {
			return nil, errors.Usage("filter: expected 'and' at offset %d", p.pos)
		}
	}
}

type parser struct {
	input string
	pos   int
}

func (p *parser) done() bool {
	return p.pos >= len(p.input)
}

func (p *parser) skipSpace() {
	for !p.done() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *parser) keyword(word string) bool {
	end := p.pos + len(word)
	if end > len(p.input) || !strings.EqualFold(p.input[p.pos:end], word) {
		return false
	}
	if end < len(p.input) && !unicode.IsSpace(rune(p.input[end])) {
		return false
	}
	p.pos = end
	return true
}

func (p *parser) clause() (core.Clause, error) {
	p.skipSpace()
	start := p.pos
	for !p.done() && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	field := p.input[start:p.pos]
	if err := validation.ValidateFieldName(field); err != nil {
		return core.Clause{}, errors.Usage("filter: invalid field at offset %d", start)
	}

	p.skipSpace()
	op := p.operator()
	if err := validation.ValidateOperator(op); err != nil {
		return core.Clause{}, errors.Usage("filter: invalid operator at offset %d", p.pos)
	}

	p.skipSpace()
	value, err := p.literal()
	if err != nil {
		return core.Clause{}, err
	}
	return core.Clause{Field: field, Op: op, Value: value}, nil
}

func (p *parser) operator() string {
	start := p.pos
	for !p.done() && strings.IndexByte("=<>!", p.input[p.pos]) >= 0 {
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) literal() (any, error) {
	if p.done() {
		return nil, errors.Usage("filter: missing literal at end of input")
	}
	if p.input[p.pos] == '\'' {
		return p.quoted()
	}

	start := p.pos
	for !p.done() && !unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
	token := p.input[start:p.pos]
	switch strings.ToLower(token) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return f, nil
	}
	return nil, errors.Usage("filter: invalid literal at offset %d", start)
}

func (p *parser) quoted() (string, error) {
	start := p.pos
	p.pos++
	var sb strings.Builder
	for !p.done() {
		ch := p.input[p.pos]
		p.pos++
		if ch != '\'' {
			sb.WriteByte(ch)
			continue
		}
		if !p.done() && p.input[p.pos] == '\'' {
			sb.WriteByte('\'')
			p.pos++
			continue
		}
		return sb.String(), nil
	}
	return "", errors.Usage("filter: unterminated string at offset %d", start)
}

func isIdentChar(ch byte) bool {
	return ch == '_' || ch == '.' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

var tokenOps = map[string]expr.Op{
	"=":  expr.OpEq,
	">":  expr.OpGt,
	">=": expr.OpGe,
	"<":  expr.OpLt,
	"<=": expr.OpLe,
}

// MatchClauses reports whether env satisfies every clause. A clause over an absent
// field never matches.
func MatchClauses(clauses []core.Clause, env expr.Env) bool {
	for _, c := range clauses {
		op, ok := tokenOps[c.Op]
		if !ok {
			return false
		}
		v, ok := env.Lookup(c.Field)
		if !ok || !expr.CompareOp(op, v, c.Value) {
			return false
		}
	}
	return true
}

// MatchTags reports whether a blob's tags satisfy every clause. Tags are strings, so
// each tag is read as the type of the literal it is compared with: bool literals match
// "true" and "false", numeric literals match numeric tags in numeric order.
func MatchTags(clauses []core.Clause, tags map[string]string) bool {
	for _, c := range clauses {
		op, ok := tokenOps[c.Op]
		if !ok {
			return false
		}
		v, ok := tags[c.Field]
		if !ok || !expr.CompareOp(op, tagAs(v, c.Value), c.Value) {
			return false
		}
	}
	return true
}

func tagAs(tag string, literal any) any {
	switch literal.(type) {
	case bool:
		if b, err := cast.ToBoolE(tag); err == nil {
			return b
		}
	case int64, uint64:
		if n, err := cast.ToInt64E(tag); err == nil {
			return n
		}
		if f, err := cast.ToFloat64E(tag); err == nil {
			return f
		}
	case float64:
		if f, err := cast.ToFloat64E(tag); err == nil {
			return f
		}
	}
	return tag
}
