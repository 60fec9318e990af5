package odootest

import (
	"encoding/json"
	"fmt"
	"strings"
)

type expr interface {
	match(rec map[string]any) bool
}

type andExpr struct{ left, right expr }
type orExpr struct{ left, right expr }
type notExpr struct{ inner expr }
type trueExpr struct{}
type condExpr struct {
	field string
	op    string
	value any
}

func (e andExpr) match(r map[string]any) bool { return e.left.match(r) && e.right.match(r) }
func (e orExpr) match(r map[string]any) bool  { return e.left.match(r) || e.right.match(r) }
func (e notExpr) match(r map[string]any) bool { return !e.inner.match(r) }
func (trueExpr) match(map[string]any) bool    { return true }

// parseDomain builds an expression from prefix notation with implicit AND.
func parseDomain(domain []any) (expr, error) {
	var exprs []expr
	pos := 0
	for pos < len(domain) {
		e, next, err := parseExpr(domain, pos)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		pos = next
	}
	if len(exprs) == 0 {
		return trueExpr{}, nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = andExpr{out, e}
	}
	return out, nil
}

func parseExpr(domain []any, pos int) (expr, int, error) {
	if pos >= len(domain) {
		return nil, pos, fmt.Errorf("unexpected end of domain")
	}
	switch term := domain[pos].(type) {
	case string:
		switch term {
		case "&", "|":
			left, next, err := parseExpr(domain, pos+1)
			if err != nil {
				return nil, next, err
			}
			right, next, err := parseExpr(domain, next)
			if err != nil {
				return nil, next, err
			}
			if term == "&" {
				return andExpr{left, right}, next, nil
			}
			return orExpr{left, right}, next, nil
		case "!":
			inner, next, err := parseExpr(domain, pos+1)
			return notExpr{inner}, next, err
		}
		return nil, pos, fmt.Errorf("unknown operator %q", term)
	case []any:
		if len(term) != 3 {
			return nil, pos, fmt.Errorf("malformed term %v", term)
		}
		field, _ := term[0].(string)
		op, _ := term[1].(string)
		return condExpr{field: field, op: op, value: term[2]}, pos + 1, nil
	}
	return nil, pos, fmt.Errorf("malformed domain element %v", domain[pos])
}

func domainMentions(domain []any, field string) bool {
	for _, t := range domain {
		if term, ok := t.([]any); ok && len(term) == 3 && term[0] == field {
			return true
		}
	}
	return false
}

func (c condExpr) match(rec map[string]any) bool {
	actual, ok := rec[c.field]
	if !ok && c.field == "active" {
		// records are active unless archived
		actual = true
	}
	switch c.op {
	case "=", "==":
		return equal(actual, c.value)
	case "!=", "<>":
		return !equal(actual, c.value)
	case "in":
		return inList(actual, c.value)
	case "not in":
		return !inList(actual, c.value)
	case "like":
		return strings.Contains(str(actual), str(c.value))
	case "ilike":
		return strings.Contains(strings.ToLower(str(actual)), strings.ToLower(str(c.value)))
	case "=ilike":
		return strings.EqualFold(str(actual), str(c.value))
	case ">", ">=", "<", "<=":
		return compare(actual, c.value, c.op)
	case "child_of", "parent_of":
		return equal(actual, c.value)
	}
	return false
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	}
	return false
}

func num(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case []any:
		// many2one pair compares by id
		if len(x) == 2 {
			return num(x[0])
		}
	}
	return 0, false
}

func str(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil, bool:
		return ""
	}
	return fmt.Sprint(v)
}

func equal(a, b any) bool {
	if isFalsy(b) {
		if bb, ok := b.(bool); ok && !bb {
			return isFalsy(a)
		}
	}
	if fa, ok := num(a); ok {
		if fb, ok := num(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ba == bb
		}
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return str(a) == str(b)
}

func toSlice(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	}
	return []any{v}
}

func inList(actual, list any) bool {
	for _, item := range toSlice(list) {
		if equal(actual, item) {
			return true
		}
	}
	return false
}

func compare(a, b any, op string) bool {
	fa, okA := num(a)
	fb, okB := num(b)
	var cmp int
	if okA && okB {
		switch {
		case fa < fb:
			cmp = -1
		case fa > fb:
			cmp = 1
		}
	} else {
		if a == nil || a == false {
			return false
		}
		cmp = strings.Compare(str(a), str(b))
	}
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	default:
		return cmp <= 0
	}
}
