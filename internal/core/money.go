// Package core provides the expense domain model: records, validation,
// money handling, cost splitting and summary aggregation.
//
// This file contains money parsing and formatting. Amounts are held as
// integer cents to keep arithmetic exact; decimal strings are parsed with
// half-up rounding on the third decimal place.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in the currency's minor unit.
type Money struct {
	Cents int64
}

// ParseCents converts a decimal string to cents with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading minus. Zero and negative values parse successfully so
// the validator can report them as business-rule violations.
//
// Examples:
//
//	ParseCents("12.34")  -> 1234, nil
//	ParseCents("12,34")  -> 1234, nil
//	ParseCents("12.345") -> 1235, nil (rounds up)
//	ParseCents("-1")     -> -100, nil
func ParseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errInvalidDecimal
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, errInvalidDecimal
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	if intPart == "0" && fracPart == "" && len(parts) == 2 {
		return 0, errInvalidDecimal
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, errInvalidDecimal
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, errInvalidDecimal
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, errInvalidDecimal
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, errInvalidDecimal
	}
	// Take first two fractional digits; half-up rounding on the third
	var fracCents int64
	if len(fracPart) > 0 {
		fracCents = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			fracCents += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if neg {
		cents = -cents
	}
	return cents, nil
}

var errInvalidDecimal = &ValidationError{Violations: []string{"Amount must be positive."}}

// String renders the amount as a plain decimal, e.g. "33.33" or "45".
func (m Money) String() string {
	cents := m.Cents
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100
	var s string
	switch {
	case frac == 0:
		s = strconv.FormatInt(whole, 10)
	case frac%10 == 0:
		s = strconv.FormatInt(whole, 10) + "." + strconv.FormatInt(frac/10, 10)
	default:
		s = strconv.FormatInt(whole, 10) + "." + pad2(frac)
	}
	if neg {
		return "-" + s
	}
	return s
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// MarshalJSON emits the amount as a JSON decimal number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		m.Cents = 0
		return nil
	}
	cents, err := ParseCents(s)
	if err != nil {
		// Leave the zero value for the validator to flag.
		m.Cents = 0
		return nil
	}
	m.Cents = cents
	return nil
}
