package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minor unit exponents that differ from the ISO default of 2
var currencyExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

func CurrencyExponent(currency string) int32 {
	if e, ok := currencyExponent[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// ToMinorUnits converts a provider amount in major units ("100", "100.50")
// to an integer count of minor units. Fractions below the minor unit are rejected.
func ToMinorUnits(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	minor := d.Shift(CurrencyExponent(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has more precision than %s allows", amount, currency)
	}
	return minor.IntPart(), nil
}

// FormatMajor renders minor units as a fixed-point major unit string.
func FormatMajor(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}
