package declarations

import (
	"strings"

	"github.com/shopspring/decimal"
)

// round2 rounds half away from zero at two fractional digits.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

var amountReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "")

// parseAmount coerces a raw cell into a decimal. Anything that is not a
// number reports false.
func parseAmount(raw string) (decimal.Decimal, bool) {
	s := amountReplacer.Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, false
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		v = v.Neg()
	}
	return v, true
}
