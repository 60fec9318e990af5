package masterdata

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"german with currency", "1.234,56 EUR", "1234.56"},
		{"euro sign prefix", "€ 12,50", "12.50"},
		{"plain dot decimal", "12.50", "12.50"},
		{"dollar integer", "$3", "3.00"},
		{"english thousands", "1,234.56", "1234.56"},
		{"millions", "1.234.567,89", "1234567.89"},
		{"lower case currency", "7,99 eur", "7.99"},
		{"surrounding spaces", "   42  ", "42.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestParsePrice_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrPriceFormat},
		{"blank", "   ", ErrPriceFormat},
		{"no digits", "n/a", ErrPriceFormat},
		{"negative", "-5,00 EUR", ErrNegativePrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrice(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListPrice(t *testing.T) {
	assert.Equal(t, "12.50", ListPrice(decimal.RequireFromString("10")).StringFixed(2))
	assert.Equal(t, "1.25", ListPrice(decimal.RequireFromString("1.00")).StringFixed(2))
	assert.Equal(t, "0.01", ListPrice(decimal.RequireFromString("0.01")).StringFixed(2))
}
