// Package normalize holds the pure conversions shared by every network
// adapter: currency, status vocabularies, coupon-vs-link classification,
// dates and amounts.
package normalize

import (
	"math"
	"strings"
)

type pair struct{ from, to string }

// Fixed divisors, amount_in_target = amount / rate.
var fxDivisors = map[pair]float64{
	{"AED", "USD"}: 3.67,
	{"AED", "SAR"}: 3.75,
}

// Money is an amount after optional conversion.
type Money struct {
	Amount      float64
	Currency    string
	ConvertedTo string
}

// Convert applies a documented FX rate when one is known for from->to.
// Unknown pairs pass the amount through unchanged. Currency always keeps
// the original code.
func Convert(amount float64, from, to string) Money {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	m := Money{Amount: Round2(amount), Currency: from}
	if from == "" || to == "" || from == to {
		return m
	}
	if rate, ok := fxDivisors[pair{from, to}]; ok {
		m.Amount = Round2(amount / rate)
		m.ConvertedTo = to
	}
	return m
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
