// Package fixedpoint implements the SCALAR_7/SCALAR_9 fixed-point arithmetic
// shared by the evaluator and auction manager. All protocol quantities are
// integers scaled by a fixed power of ten; this package centralizes the
// scale constants and the explicit rounding rules spec.md calls for (floor
// for raw values and bids, ceil for liabilities and required bids).
package fixedpoint

import "math/big"

const (
	// Scalar7 is the fixed-point scale for prices, factors, and most
	// protocol-level values ("SCALAR_7 = 10^7").
	Scalar7 int64 = 1_0000000
	// Scalar9 is the fixed-point scale for b_rate/d_rate ("SCALAR_9 = 10^9").
	Scalar9 int64 = 1_000_000_000
)

var (
	bigScalar7 = big.NewInt(Scalar7)
	bigScalar9 = big.NewInt(Scalar9)
)

// Scalar7Big returns SCALAR_7 as a *big.Int.
func Scalar7Big() *big.Int { return new(big.Int).Set(bigScalar7) }

// Scalar9Big returns SCALAR_9 as a *big.Int.
func Scalar9Big() *big.Int { return new(big.Int).Set(bigScalar9) }

// MulDivFloor computes floor(a * b / d). d must be non-zero.
func MulDivFloor(a, b, d *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, _ := new(big.Int).QuoRem(num, d, new(big.Int))
	return q
}

// MulDivCeil computes ceil(a * b / d). d must be non-zero and positive.
func MulDivCeil(a, b, d *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// DivFloor computes floor(a / d).
func DivFloor(a, d *big.Int) *big.Int {
	q, _ := new(big.Int).QuoRem(a, d, new(big.Int))
	return q
}

// DivCeil computes ceil(a / d). a and d are assumed non-negative, d non-zero.
func DivCeil(a, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// ToScaled7 converts an int64 literal already expressed in 7-decimal units
// (e.g. 100 for 1.0000000) into a *big.Int, a convenience used heavily in
// tests and seed scenarios.
func ToScaled7(v int64) *big.Int { return big.NewInt(v) }
