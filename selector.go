package nats_exchange_flow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"
)

const (
	selectorAnd          = " AND "
	xpathSelectorPrefix  = "xpath:"
	escapedEqualsInXPath = "@_equals_@"
)

// MessageSelector picks messages out of a Queue.
type MessageSelector interface {
	Accept(msg *Message) bool
}

// SelectorFunc adapts a plain function to MessageSelector.
type SelectorFunc func(msg *Message) bool

func (f SelectorFunc) Accept(msg *Message) bool {
	return f(msg)
}

// AcceptAll matches every message.
var AcceptAll MessageSelector = SelectorFunc(func(*Message) bool { return true })

type selectorClause struct {
	key   string
	value string
	path  etree.Path
	xpath bool
}

// ExpressionSelector evaluates an AND joined list of key = 'value' clauses.
// Keys prefixed with "xpath:" are evaluated against the XML payload, any other
// key is compared to the header value.
type ExpressionSelector struct {
	expression string
	clauses    []selectorClause
}

func NewSelector(expression string) (*ExpressionSelector, error) {
	sel := &ExpressionSelector{expression: strings.TrimSpace(expression)}
	if sel.expression == "" {
		return sel, nil
	}

	kv, err := ToKeyValueMap(sel.expression)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		clause := selectorClause{key: k, value: kv[k]}
		if strings.HasPrefix(k, xpathSelectorPrefix) {
			clause.xpath = true
			clause.path, err = etree.CompilePath(strings.TrimPrefix(k, xpathSelectorPrefix))
			if err != nil {
				return nil, fmt.Errorf("%w: bad xpath in %q: %w", ErrInvalidSelector, k, err)
			}
		}
		sel.clauses = append(sel.clauses, clause)
	}
	return sel, nil
}

// NewSelectorFromMap is a shortcut for NewSelector(FromKeyValueMap(values)).
func NewSelectorFromMap(values map[string]string) (*ExpressionSelector, error) {
	return NewSelector(FromKeyValueMap(values))
}

func (s *ExpressionSelector) Expression() string {
	return s.expression
}

func (s *ExpressionSelector) Accept(msg *Message) bool {
	if msg == nil {
		return false
	}
	var doc *etree.Document
	for _, clause := range s.clauses {
		if !clause.xpath {
			v, ok := msg.Header(clause.key)
			if !ok || headerString(v) != clause.value {
				return false
			}
			continue
		}

		if doc == nil {
			doc = etree.NewDocument()
			if err := doc.ReadFromString(msg.PayloadString()); err != nil {
				return false
			}
		}
		el := doc.FindElementPath(clause.path)
		if el == nil || strings.TrimSpace(el.Text()) != clause.value {
			return false
		}
	}
	return true
}

func (s *ExpressionSelector) String() string {
	return s.expression
}

// BuildSelector returns the literal expression with variables replaced when
// one is given, else the expression built from the map with dynamic values
// resolved, else an empty expression.
func BuildSelector(expression string, values map[string]string, tctx *TestContext) (string, error) {
	if strings.TrimSpace(expression) != "" {
		if tctx == nil {
			return expression, nil
		}
		return tctx.ReplaceDynamicContent(expression)
	}
	if len(values) == 0 {
		return "", nil
	}

	resolved := make(map[string]string, len(values))
	for k, v := range values {
		if tctx != nil {
			var err error
			if v, err = tctx.ResolveDynamicValue(v); err != nil {
				return "", err
			}
		}
		resolved[k] = v
	}
	return FromKeyValueMap(resolved), nil
}

// FromKeyValueMap joins key = 'value' clauses with " AND " in key order.
func FromKeyValueMap(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, k+" = '"+values[k]+"'")
	}
	return strings.Join(clauses, selectorAnd)
}

// ToKeyValueMap is the inverse of FromKeyValueMap. Equals signs inside [...]
// belong to xpath predicates and never split a clause.
func ToKeyValueMap(expression string) (map[string]string, error) {
	out := make(map[string]string)
	escaped := escapeBracketEquals(expression)
	for _, clause := range strings.Split(escaped, selectorAnd) {
		key, value, ok := strings.Cut(clause, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelector, unescapeBracketEquals(clause))
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
			value = value[1 : len(value)-1]
		}
		out[unescapeBracketEquals(key)] = unescapeBracketEquals(value)
	}
	return out, nil
}

func escapeBracketEquals(expression string) string {
	var b strings.Builder
	depth := 0
	for _, r := range expression {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case r == '=' && depth > 0:
			b.WriteString(escapedEqualsInXPath)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unescapeBracketEquals(s string) string {
	return strings.ReplaceAll(s, escapedEqualsInXPath, "=")
}

// SelectorFor combines BuildSelector and NewSelector.
func SelectorFor(tctx *TestContext, expression string, values map[string]string) (MessageSelector, error) {
	built, err := BuildSelector(expression, values, tctx)
	if err != nil {
		return nil, err
	}
	return NewSelector(built)
}
