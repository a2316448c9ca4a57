package amortization

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// precision is the number of significant digits kept by intermediate results.
const precision = 28

var (
	one         = decimal.NewFromInt(1)
	twelve      = decimal.NewFromInt(12)
	daysPerYear = decimal.NewFromInt(365)
)

// cents rounds half to even at two places.
func cents(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// sig rounds d to n significant digits.
func sig(d decimal.Decimal, n int) decimal.Decimal {
	if d.IsZero() {
		return d
	}
	coefficient := new(big.Int).Abs(d.Coefficient())
	intDigits := len(coefficient.String()) + int(d.Exponent())
	return d.RoundBank(int32(n - intDigits))
}

// div divides keeping precision significant digits.
func div(a, b decimal.Decimal) decimal.Decimal {
	return sig(a.DivRound(b, 2*precision), precision)
}

// mul multiplies keeping precision significant digits.
func mul(a, b decimal.Decimal) decimal.Decimal {
	return sig(a.Mul(b), precision)
}

// pow raises base to a non-negative integer power by repeated squaring,
// rounding every step so the coefficient does not grow without bound.
func pow(base decimal.Decimal, n int) decimal.Decimal {
	result := one
	for n > 0 {
		if n&1 == 1 {
			result = sig(result.Mul(base), precision+6)
		}
		base = sig(base.Mul(base), precision+6)
		n >>= 1
	}
	return sig(result, precision)
}
