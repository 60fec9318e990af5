// Package masterdata holds the rules the loaders apply to master data before
// it reaches the ERP: price parsing, article types, code fixes and partner
// validation.
package masterdata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrPriceFormat is returned when a price string contains no number
	ErrPriceFormat = errors.New("masterdata: no price pattern")
	// ErrNegativePrice is returned for prices below zero
	ErrNegativePrice = errors.New("masterdata: negative price")
)

// DefaultMarkup turns a cost price into a list price
var DefaultMarkup = decimal.RequireFromString("1.25")

// MinPrice is the smallest cost price a product is imported with
var MinPrice = decimal.RequireFromString("0.01")

var priceRegex = regexp.MustCompile(`(?i)(?:EUR|\$)?\s*([0-9]{1,3}(?:[.,][0-9]{3})*[.,][0-9]{2}|[0-9]+[.,][0-9]{2}|[0-9]+)(?:\s*(?:EUR|\$))?`)

// ParsePrice reads a price such as "1.234,56 EUR", "€ 12,50", "12.50", "$3"
// or "1,234.56" and returns it rounded to cents. The right-most separator
// followed by exactly two digits is the decimal point.
func ParsePrice(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty input", ErrPriceFormat)
	}
	loc := priceRegex.FindStringSubmatchIndex(s)
	if loc == nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrPriceFormat, raw)
	}
	number := s[loc[2]:loc[3]]
	if strings.Contains(s[:loc[2]], "-") {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNegativePrice, raw)
	}

	d, err := decimal.NewFromString(normalizeNumber(number))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrPriceFormat, raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNegativePrice, raw)
	}
	return d.Round(2), nil
}

// normalizeNumber removes thousands separators and turns the decimal
// separator into a dot.
func normalizeNumber(n string) string {
	lastDot := strings.LastIndex(n, ".")
	lastComma := strings.LastIndex(n, ",")
	decimalAt := -1
	if sep := max(lastDot, lastComma); sep >= 0 && len(n)-sep-1 == 2 {
		decimalAt = sep
	}
	var b strings.Builder
	for i, r := range n {
		switch {
		case r == '.' || r == ',':
			if i == decimalAt {
				b.WriteByte('.')
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ListPrice returns cost × DefaultMarkup rounded to cents
func ListPrice(cost decimal.Decimal) decimal.Decimal {
	return cost.Mul(DefaultMarkup).Round(2)
}
