// Package money parses and formats the amounts users type into the chat.
package money

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotNumeric  = errors.New("el monto debe ser un número")
	ErrNotPositive = errors.New("el monto debe ser mayor que cero")
)

// Cents is the smallest unit the ledger accepts.
var Cents = decimal.New(1, -2)

var reAmount = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// Parse reads a user supplied amount. Both "." and "," are accepted as the decimal
// separator. The result is rounded to cents and is always > 0.
func Parse(input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(s)
	if !reAmount.MatchString(s) || reAmount.FindString(s) != s {
		return decimal.Zero, ErrNotNumeric
	}
	s = strings.Replace(s, ",", ".", 1)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrNotNumeric
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	return d, nil
}

// ParseGrouped reads an amount written with thousands separators, such as
// "1,234.56" or "1.234,56". The last separator is the decimal point when one
// or two digits follow it; every other separator is grouping.
func ParseGrouped(input string) (decimal.Decimal, error) {
	s := strings.TrimPrefix(strings.TrimSpace(input), "$")
	if s == "" || strings.Trim(s, "0123456789.,") != "" {
		return decimal.Zero, ErrNotNumeric
	}
	intPart, frac := s, ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 && len(s)-i-1 <= 2 {
		intPart, frac = s[:i], s[i+1:]
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}
	if frac != "" {
		intPart += "." + frac
	}
	d, err := decimal.NewFromString(intPart)
	if err != nil {
		return decimal.Zero, ErrNotNumeric
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	return d, nil
}

// Format renders an amount the way the bot shows it: "$1234.50".
func Format(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// FromFloat converts a ledger JSON number into a cent-rounded decimal.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
