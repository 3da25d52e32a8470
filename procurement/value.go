/*
Package procurement provides the workflow engine for fuel purchase plans.

PURPOSE:
  Enforces the approval, fulfillment, payment and stock invariants of the
  procurement workflow on top of an external ledger. The engine keeps no
  durable state of its own: it reads a record, checks preconditions, and
  submits the transition as a compare-and-set on the record version.

KEY CONCEPTS IN THIS FILE (value.go):
  - Value: scaled integer (value × 100) used for money, rates and volumes

PRECISION:
  All arithmetic stays in integers. Rate application goes through
  decimal.Decimal so that net × rate cannot overflow int64 before the
  division, and rounds half-up exactly once. Products and sums that leave
  the representable range fail with ErrInvalidValue rather than wrap.

SEE ALSO:
  - tax.go: Gross total computation using ApplyRate
  - ledger.go: External ledger boundary
*/
package procurement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VALUE - Fixed point quantity with two implied decimal digits
// =============================================================================

// Value is a decimal quantity multiplied by 100. 116000000 is 1,160,000.00
// and a rate of 1100 is 11.00%.
type Value int64

// Scale is the multiplier between a Value and the number it represents.
const Scale = 100

var (
	hundred     = decimal.NewFromInt(Scale)
	tenThousand = decimal.NewFromInt(Scale * Scale)
)

// NewValue builds a Value from whole units and hundredths: NewValue(12, 50) is 12.50.
func NewValue(units, hundredths int64) Value {
	if units < 0 {
		return Value(units*Scale - hundredths)
	}
	return Value(units*Scale + hundredths)
}

// ParseValue parses a plain decimal string with at most two fractional digits.
func ParseValue(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	scaled := d.Shift(2)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrInvalidValue, s)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(maxValue)) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidValue, s)
	}
	return Value(scaled.IntPart()), nil
}

// MustParseValue is ParseValue for constants and tests.
func MustParseValue(s string) Value {
	v, err := ParseValue(s)
	if err != nil {
		panic(err)
	}
	return v
}

const maxValue = int64(1) << 62

func (v Value) Decimal() decimal.Decimal { return decimal.New(int64(v), -2) }
func (v Value) String() string           { return v.Decimal().StringFixed(2) }

func (v Value) Add(o Value) Value        { return v + o }
func (v Value) Sub(o Value) Value        { return v - o }
func (v Value) Neg() Value               { return -v }
func (v Value) IsZero() bool             { return v == 0 }
func (v Value) IsPositive() bool         { return v > 0 }
func (v Value) IsNegative() bool         { return v < 0 }
func (v Value) GreaterThan(o Value) bool { return v > o }
func (v Value) LessThan(o Value) bool    { return v < o }

// Max returns the larger of v and o.
func (v Value) Max(o Value) Value {
	if v > o {
		return v
	}
	return o
}

// Min returns the smaller of v and o.
func (v Value) Min(o Value) Value {
	if v < o {
		return v
	}
	return o
}

// Cmp returns -1, 0 or +1.
func (v Value) Cmp(o Value) int {
	switch {
	case v < o:
		return -1
	case v > o:
		return 1
	}
	return 0
}

// ApplyRate returns round(v * rate / 10000), rounding half away from zero.
// The rate is itself scaled, so 500 applies 5.00%. A result outside the
// representable range is ErrInvalidValue.
func (v Value) ApplyRate(rate Value) (Value, error) {
	d := decimal.NewFromInt(int64(v)).Mul(decimal.NewFromInt(int64(rate))).Div(tenThousand)
	return fromScaled(d.Round(0))
}

// MulQuantity returns the extended amount of a unit price over a scaled
// quantity: round(price * qty / 100).
func (v Value) MulQuantity(qty Value) (Value, error) {
	d := decimal.NewFromInt(int64(v)).Mul(decimal.NewFromInt(int64(qty))).Div(hundred)
	return fromScaled(d.Round(0))
}

// Sum adds a list of values, failing with ErrInvalidValue instead of wrapping.
func Sum(vs ...Value) (Value, error) {
	total := decimal.Zero
	for _, v := range vs {
		total = total.Add(decimal.NewFromInt(int64(v)))
	}
	return fromScaled(total)
}

func fromScaled(d decimal.Decimal) (Value, error) {
	if d.Abs().GreaterThan(decimal.NewFromInt(maxValue)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidValue, d.Shift(-2).StringFixed(2))
	}
	return Value(d.IntPart()), nil
}
