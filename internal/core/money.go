// Package core holds the budget ledger model.
//
// This file contains amount coercion and display formatting. Amounts are
// kept as decimals in major units; user input never fails to parse, it
// coerces to zero instead.
package core

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = money.GBP

// ParseAmount coerces free-form input into a non-negative amount.
//
// The longest leading numeric prefix is used, so "12.5kg" is 12.5 and
// "abc" is 0. Negative values clamp to 0.
//
//	ParseAmount("42")     -> 42
//	ParseAmount(" 3.50")  -> 3.5
//	ParseAmount("1e3")    -> 1000
//	ParseAmount("-7")     -> 0
//	ParseAmount("")       -> 0
func ParseAmount(s string) decimal.Decimal {
	prefix := numericPrefix(strings.TrimSpace(s))
	if prefix == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return decimal.Zero
	}
	return ClampAmount(d)
}

// ClampAmount enforces the non-negative amount invariant.
func ClampAmount(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// numericPrefix returns the longest prefix of s that reads as a decimal
// number with optional sign, fraction and exponent.
func numericPrefix(s string) string {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return ""
	}
	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		exp := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			exp++
		}
		if exp > 0 && exp <= 4 {
			end = j
		}
	}
	out := strings.TrimPrefix(s[:end], "+")
	// decimal.NewFromString rejects a trailing dot ("5.")
	if strings.HasSuffix(out, ".") {
		out = strings.TrimSuffix(out, ".")
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// FormatAmount renders an amount in the given ISO currency, e.g. "£1,234.50".
// Unknown currency codes fall back to DefaultCurrency.
func FormatAmount(d decimal.Decimal, currency string) string {
	if money.GetCurrency(currency) == nil {
		currency = DefaultCurrency
	}
	cur := *money.New(0, currency).Currency()
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

// Sum adds the amounts of all entries.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

