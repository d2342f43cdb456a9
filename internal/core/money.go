// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and formatting decimals for display.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal string to a decimal amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. NaN, infinities and exponent forms are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("-50")    -> -50, nil
//	ParseAmount("NaN")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")

	body := strings.TrimLeft(s, "+-")
	if len(s)-len(body) > 1 || body == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	dots := 0
	for _, r := range body {
		switch {
		case r == '.':
			dots++
		case r < '0' || r > '9':
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if dots > 1 || body == "." {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustParseAmount panics on an invalid amount. Use only in tests and seeds.
func MustParseAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatEuros formats an amount as a Euro currency string (e.g., "€12,34").
func FormatEuros(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := strings.Replace(d.Abs().StringFixed(2), ".", ",", 1)
	if neg {
		return "-€" + s
	}
	return "€" + s
}

// FormatPercent renders a percentage with one decimal, e.g. "25.0%".
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(1) + "%"
}

// Percent returns part/whole*100, or false when whole is zero.
func Percent(part, whole decimal.Decimal) (decimal.Decimal, bool) {
	if whole.IsZero() {
		return decimal.Zero, false
	}
	return part.Div(whole).Mul(hundred), true
}
