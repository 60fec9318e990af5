package odoo

// Domain is a search filter in the server's prefix notation. Each term is
// either a [field, operator, value] triple or one of the "&", "|", "!"
// operators. Consecutive terms without an operator are AND-ed.
type Domain []any

// Where starts a domain with a single condition.
func Where(field, op string, value any) Domain {
	return Domain{[]any{field, op, value}}
}

// And appends a condition that must also hold.
func (d Domain) And(field, op string, value any) Domain {
	out := make(Domain, 0, len(d)+1)
	out = append(out, d...)
	return append(out, []any{field, op, value})
}

// AndDomain appends every expression of other, so both must hold.
func (d Domain) AndDomain(other Domain) Domain {
	out := make(Domain, 0, len(d)+len(other))
	out = append(out, d...)
	return append(out, other...)
}

// Or combines two domains so that either may match.
func Or(a, b Domain) Domain {
	out := make(Domain, 0, len(a)+len(b)+3)
	out = append(out, "|")
	out = append(out, group(a)...)
	return append(out, group(b)...)
}

// group makes a multi-expression domain a single operand by spelling out
// the implicit ANDs.
func group(d Domain) Domain {
	n := 0
	for i := 0; i < len(d); i = skipExpr(d, i) {
		n++
	}
	if n <= 1 {
		return d
	}
	out := make(Domain, 0, len(d)+n-1)
	for i := 1; i < n; i++ {
		out = append(out, "&")
	}
	return append(out, d...)
}

// skipExpr returns the index after the expression starting at i.
func skipExpr(d Domain, i int) int {
	if i >= len(d) {
		return i
	}
	switch d[i] {
	case "&", "|":
		return skipExpr(d, skipExpr(d, i+1))
	case "!":
		return skipExpr(d, i+1)
	}
	return i + 1
}

// Values are the field values of a create or write call.
type Values map[string]any

// Merge returns a copy of v with other applied on top.
func (v Values) Merge(other Values) Values {
	out := make(Values, len(v)+len(other))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range other {
		out[k] = val
	}
	return out
}
