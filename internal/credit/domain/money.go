package domain

import "github.com/shopspring/decimal"

// FourPlaces is the storage scale for every monetary value in the ledger.
const FourPlaces = 4

// Epsilon is the tolerated rounding drift for system-wide aggregate checks.
// Differences below it are reported as tolerated rather than failed; it is
// deliberately small relative to the 4-decimal storage scale.
var Epsilon = decimal.RequireFromString("0.001")

// Quantize rounds a value to 4 decimal places with ties going away from
// zero, matching how all stored amounts are produced. Every comparison of
// monetary values must go through this first; unquantized arithmetic can
// differ by less than 1e-4 while being semantically equal.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(FourPlaces)
}

// WithinEpsilon reports whether d is close enough to zero to be treated as
// rounding drift.
func WithinEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThan(Epsilon)
}
