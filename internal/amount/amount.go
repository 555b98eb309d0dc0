// Package amount provides exact fixed-point arithmetic for monetary values.
//
// An Amount is a non-negative int64 scaled by 1e6 (six decimal places).
// All arithmetic is overflow-checked and returns typed errors instead of
// wrapping. Products are computed through a 128-bit intermediate so that
// pool-reserve math never loses precision. Floating point never touches
// the pricing path; shopspring/decimal is used only to parse and format
// decimal strings at the API boundary.
package amount

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Scale is the number of base units per whole token: 1e6.
const Scale int64 = 1_000_000

// decimals is the number of fractional digits implied by Scale.
const decimals int32 = 6

// One is 1.0 in fixed-point representation. Odds are expressed as
// fractions of One.
const One Amount = Amount(Scale)

var (
	// ErrOverflow is returned when a result does not fit in an Amount.
	ErrOverflow = errors.New("amount: arithmetic overflow")

	// ErrUnderflow is returned when a subtraction would go negative.
	ErrUnderflow = errors.New("amount: arithmetic underflow")

	// ErrDivideByZero is returned by MulDiv when the divisor is zero.
	ErrDivideByZero = errors.New("amount: divide by zero")

	// ErrInvalid is returned when a string cannot be parsed into an
	// Amount (negative, malformed, or more than six decimal places).
	ErrInvalid = errors.New("amount: invalid amount")
)

// Amount is a monetary quantity in base units (1e-6 tokens).
// The zero value is zero tokens. Amounts are always >= 0.
type Amount int64

// Add returns a+b, failing with ErrOverflow if the sum exceeds the range.
func (a Amount) Add(b Amount) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrUnderflow
	}
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, failing with ErrUnderflow if the result would be negative.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a < b {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// MulDiv returns a*b/c rounded down, computing the product through a
// 128-bit intermediate so a*b may exceed 64 bits as long as the final
// quotient fits.
func MulDiv(a, b, c Amount) (Amount, error) {
	return mulDiv(a, b, c, false)
}

// MulDivCeil returns a*b/c rounded up. Used where rounding must favor
// the pool (fee deduction on claims).
func MulDivCeil(a, b, c Amount) (Amount, error) {
	return mulDiv(a, b, c, true)
}

func mulDiv(a, b, c Amount, ceil bool) (Amount, error) {
	if a < 0 || b < 0 {
		return 0, ErrUnderflow
	}
	if c <= 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(c) {
		return 0, ErrOverflow
	}
	quo, rem := bits.Div64(hi, lo, uint64(c))
	if ceil && rem > 0 {
		quo++
	}
	if quo > math.MaxInt64 {
		return 0, ErrOverflow
	}
	return Amount(quo), nil
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive reports whether the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// Parse converts a decimal string ("50", "82.83") into an Amount.
// Negative values, malformed input, and precision beyond six decimal
// places all fail with ErrInvalid.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalid, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalid, s, decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, ErrOverflow
	}
	return Amount(bi.Int64()), nil
}

// String formats the amount as a plain decimal string without a
// currency symbol, e.g. Amount(82830000) → "82.83".
func (a Amount) String() string {
	return decimal.New(int64(a), -decimals).String()
}

// Decimal returns the amount as a shopspring decimal for callers that
// need display-layer formatting.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -decimals)
}

// MarshalJSON encodes the amount as a quoted decimal string. Amounts
// are never transmitted as JSON numbers.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: expected decimal string, got %s", ErrInvalid, data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
