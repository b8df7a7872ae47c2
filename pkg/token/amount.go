package token

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Amount is a signed fixed-point value with exactly two decimal places,
// stored as hundredths. Balances never touch floating point on the write
// path, so repeated application cannot drift.
type Amount int64

// amountPattern matches valid wire-format decimal strings.
var amountPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]{1,2})?$`)

// ParseAmount parses a decimal string with at most two fractional digits.
func ParseAmount(s string) (Amount, error) {
	if !amountPattern.MatchString(s) {
		return 0, fmt.Errorf("token: invalid amount %q (must match ^[+-]?[0-9]+(\\.[0-9]{1,2})?$)", s)
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "+"), "-")

	intPart := s
	fracPart := "00"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
		for len(fracPart) < 2 {
			fracPart += "0"
		}
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token: amount %q out of range: %w", s, err)
	}
	frac, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("token: amount %q out of range: %w", s, err)
	}

	v := whole*100 + frac
	if neg {
		v = -v
	}
	return Amount(v), nil
}

// FromFloat converts a float to an Amount, rounding half away from zero
// at the second decimal place.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * 100))
}

// FromInt converts whole units to an Amount.
func FromInt(n int64) Amount { return Amount(n * 100) }

// Float64 returns the floating-point value. Read-side only.
func (a Amount) Float64() float64 { return float64(a) / 100 }

// String formats the amount with exactly two decimal places.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MulFloat scales the amount by f, rounding half away from zero at the
// hundredth. Used by the classifier for intent/polarity scaling.
func (a Amount) MulFloat(f float64) Amount {
	return Amount(math.Round(float64(a) * f))
}

// ScaleRat computes a*num/den in exact integer arithmetic, rounding the
// hundredth half away from zero. Inheritance fractions use this so the
// result is deterministic regardless of platform float behavior.
func (a Amount) ScaleRat(num, den int64) Amount {
	if den == 0 {
		return 0
	}
	// Normalize sign so den > 0.
	if den < 0 {
		num, den = -num, -den
	}
	p := int64(a) * num
	q, r := p/den, p%den
	if r < 0 {
		r = -r
	}
	if 2*r >= den {
		if p < 0 {
			q--
		} else {
			q++
		}
	}
	return Amount(q)
}
