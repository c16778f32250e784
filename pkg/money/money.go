// Package money converts between decimal ledger amounts and the integer
// minor units that payment gateways operate on.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const defaultExponent int32 = 2

// exponents lists currencies whose minor unit differs from hundredths.
var exponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0, "KRW": 0,
	"PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0, "XOF": 0, "XPF": 0,
	// settled in whole rupiah by the regional processor
	"IDR": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

var half = decimal.New(5, -1)

// Exponent returns the number of minor-unit digits for an ISO 4217 code.
func Exponent(currency string) int32 {
	if exp, ok := exponents[strings.ToUpper(currency)]; ok {
		return exp
	}
	return defaultExponent
}

// ValidCurrency reports whether code looks like an ISO 4217 alphabetic code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Round rounds amount half-up to the currency's minor-unit precision.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	exp := Exponent(currency)
	return amount.Shift(exp).Add(half).Floor().Shift(-exp)
}

// ToMinor converts a decimal amount to integer minor units, rounding half-up.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(Exponent(currency)).Add(half).Floor().IntPart()
}

// FromMinor converts integer minor units back to a decimal amount.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}

// FormatMinor renders minor units as a fixed-precision decimal string ("12.50").
func FormatMinor(minor int64, currency string) string {
	return FromMinor(minor, currency).StringFixed(Exponent(currency))
}

// ParseMajor parses a gateway decimal string ("12.50") into a rounded amount.
func ParseMajor(value, currency string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return Round(d, currency), nil
}
