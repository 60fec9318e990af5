package csvimport

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(line int, data map[string]string) *Row {
	return &Row{LineNumber: line, Data: data}
}

func TestFieldValidator(t *testing.T) {
	rules := []FieldRule{
		Field("product_code").Required().Build(),
		Field("price").Required().Decimal().MinValue(decimal.RequireFromString("0.01")).Build(),
		Field("sequence").Int().MinValue(decimal.NewFromInt(1)).Build(),
		Field("name").MaxLength(5).Build(),
		Field("code").Unique().Build(),
	}

	tests := []struct {
		name     string
		data     map[string]string
		valid    bool
		wantCode string
	}{
		{name: "valid", data: map[string]string{"product_code": "A", "price": "1,50", "sequence": "10", "code": "c1"}, valid: true},
		{name: "missing required", data: map[string]string{"price": "1"}, wantCode: ErrCodeRequiredField},
		{name: "bad decimal", data: map[string]string{"product_code": "A", "price": "abc"}, wantCode: ErrCodeInvalidType},
		{name: "below min", data: map[string]string{"product_code": "A", "price": "0"}, wantCode: ErrCodeInvalidRange},
		{name: "bad int", data: map[string]string{"product_code": "A", "price": "1", "sequence": "1.5"}, wantCode: ErrCodeInvalidType},
		{name: "too long", data: map[string]string{"product_code": "A", "price": "1", "name": "Gehäuse"}, wantCode: ErrCodeInvalidLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewFieldValidator(rules, 10)
			assert.Equal(t, tt.valid, v.ValidateRow(row(2, tt.data)))
			if tt.wantCode != "" {
				require.NotEmpty(t, v.Errors().Errors())
				assert.Equal(t, tt.wantCode, v.Errors().Errors()[0].Code)
			}
		})
	}
}

func TestFieldValidator_Unique(t *testing.T) {
	v := NewFieldValidator([]FieldRule{Field("code").Unique().Build()}, 10)

	assert.True(t, v.ValidateRow(row(2, map[string]string{"code": "x"})))
	assert.False(t, v.ValidateRow(row(3, map[string]string{"code": "x"})))
	assert.Contains(t, v.Errors().Errors()[0].Message, "first seen in row 2")
}

func TestFieldValidator_ReportsEveryRule(t *testing.T) {
	v := NewFieldValidator([]FieldRule{
		Field("name").Required().Build(),
		Field("qty").Decimal().MaxValue(decimal.NewFromInt(10)).Build(),
		Field("active").Bool().Build(),
	}, 10)

	assert.False(t, v.ValidateRow(row(7, map[string]string{"qty": "11", "active": "vielleicht"})))
	assert.Equal(t, 3, v.Errors().TotalCount())
	assert.Equal(t, map[string]int{
		ErrCodeRequiredField: 1,
		ErrCodeInvalidRange:  1,
		ErrCodeInvalidType:   1,
	}, v.Errors().ErrorSummary())
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("2,5")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("2.5")))

	d, err = ParseDecimal(" 0.001 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.001")))

	_, err = ParseDecimal("1.000,5")
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"true", "1", "Ja", "x"} {
		b, err := ParseBool(s)
		require.NoError(t, err)
		assert.True(t, b, s)
	}
	b, err := ParseBool("")
	require.NoError(t, err)
	assert.False(t, b)

	_, err = ParseBool("maybe")
	assert.Error(t, err)
}
