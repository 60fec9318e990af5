package csvimport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldType is the value kind a column must parse as.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
	TypeBool    FieldType = "bool"
)

// FieldRule constrains one column of a row. Empty cells only fail Required.
type FieldRule struct {
	Column    string
	Type      FieldType
	Required  bool
	MaxLength int
	MinValue  *decimal.Decimal
	MaxValue  *decimal.Decimal
	Unique    bool
}

// FieldRuleBuilder builds a FieldRule
//
//	csvimport.Field("qty").Required().Decimal().MinValue(decimal.NewFromInt(1)).Build()
type FieldRuleBuilder struct{ rule FieldRule }

// Field starts a text rule for column
func Field(column string) *FieldRuleBuilder {
	return &FieldRuleBuilder{rule: FieldRule{Column: column, Type: TypeString}}
}

func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

func (b *FieldRuleBuilder) Int() *FieldRuleBuilder  { return b.typed(TypeInt) }
func (b *FieldRuleBuilder) Bool() *FieldRuleBuilder { return b.typed(TypeBool) }

// Decimal accepts a decimal comma as well as a dot; see ParseDecimal.
func (b *FieldRuleBuilder) Decimal() *FieldRuleBuilder { return b.typed(TypeDecimal) }

// Unique rejects a value already seen in the column earlier in the file
func (b *FieldRuleBuilder) Unique() *FieldRuleBuilder {
	b.rule.Unique = true
	return b
}

// MaxLength limits the value to n characters
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

func (b *FieldRuleBuilder) MinValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MinValue = &v
	return b
}

func (b *FieldRuleBuilder) MaxValue(v decimal.Decimal) *FieldRuleBuilder {
	b.rule.MaxValue = &v
	return b
}

func (b *FieldRuleBuilder) Build() FieldRule { return b.rule }

func (b *FieldRuleBuilder) typed(t FieldType) *FieldRuleBuilder {
	b.rule.Type = t
	return b
}

var validate = validator.New()

// FieldValidator checks rows against rules and collects what fails. Every
// rule of a row is checked so one pass reports all problems.
type FieldValidator struct {
	rules  []FieldRule
	seen   map[string]map[string]int
	errors *ErrorCollection
}

func NewFieldValidator(rules []FieldRule, maxErrors int) *FieldValidator {
	return &FieldValidator{
		rules:  rules,
		seen:   make(map[string]map[string]int),
		errors: NewErrorCollection(maxErrors),
	}
}

func (v *FieldValidator) Errors() *ErrorCollection { return v.errors }

// ValidateRow reports whether every rule passed for row
func (v *FieldValidator) ValidateRow(row *Row) bool {
	before := v.errors.TotalCount()
	for _, rule := range v.rules {
		v.check(row.LineNumber, rule, row.Get(rule.Column))
	}
	return v.errors.TotalCount() == before
}

func (v *FieldValidator) check(line int, rule FieldRule, value string) {
	fail := func(code, msg string) { v.errors.AddError(line, rule.Column, code, msg, value) }

	if value == "" {
		if rule.Required {
			v.errors.AddRequiredError(line, rule.Column)
		}
		return
	}
	if rule.MaxLength > 0 && validate.Var(value, "max="+strconv.Itoa(rule.MaxLength)) != nil {
		fail(ErrCodeInvalidLength, fmt.Sprintf("length must be at most %d", rule.MaxLength))
	}

	switch rule.Type {
	case TypeInt, TypeDecimal:
		n, err := parseNumber(rule.Type, value)
		switch {
		case err != nil:
			fail(ErrCodeInvalidType, "expected "+string(rule.Type))
		case rule.MinValue != nil && n.LessThan(*rule.MinValue):
			fail(ErrCodeInvalidRange, "value must be at least "+rule.MinValue.String())
		case rule.MaxValue != nil && n.GreaterThan(*rule.MaxValue):
			fail(ErrCodeInvalidRange, "value must be at most "+rule.MaxValue.String())
		}
	case TypeBool:
		if _, err := ParseBool(value); err != nil {
			fail(ErrCodeInvalidType, "expected bool")
		}
	}

	if rule.Unique {
		first, dup := v.seen[rule.Column][value]
		switch {
		case dup:
			fail(ErrCodeDuplicateInFile, fmt.Sprintf("duplicate value '%s' (first seen in row %d)", value, first))
		case v.seen[rule.Column] == nil:
			v.seen[rule.Column] = map[string]int{value: line}
		default:
			v.seen[rule.Column][value] = line
		}
	}
}

func parseNumber(t FieldType, value string) (decimal.Decimal, error) {
	if t == TypeDecimal {
		return ParseDecimal(value)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	return decimal.NewFromInt(n), err
}

// ParseDecimal parses a plain number. A single comma is read as the decimal
// separator when the value has no dot, so "1,5" is 1.5 and "1.000,5" fails.
func ParseDecimal(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}

// ParseBool accepts the English and German spellings found in ERP exports.
// An empty value is false.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "ja", "x":
		return true, nil
	case "false", "0", "no", "n", "nein", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", value)
}
