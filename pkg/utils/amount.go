package utils

import (
	"math/big"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var atomicAmountRe = regexp.MustCompile(`^[0-9]+$`)

// IsAtomicAmount reports whether s is a non-empty string of decimal digits.
func IsAtomicAmount(s string) bool {
	return atomicAmountRe.MatchString(s)
}

// ParseAtomic parses a digit-only atomic amount. The second return value is false
// when s is not a digit string.
func ParseAtomic(s string) (decimal.Decimal, bool) {
	if !IsAtomicAmount(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// AtomicFromUint64 converts a raw on-chain amount into a decimal.
func AtomicFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// FormatAtomic renders amount (atomic units) as a fixed-point string with the
// given decimals, truncated (not rounded) to precision places.
func FormatAtomic(amount decimal.Decimal, decimals, precision int) string {
	d := ClampInt(decimals, 0, 18)
	p := ClampInt(precision, 0, 18)
	if d == 0 {
		return amount.Truncate(0).String()
	}
	return amount.Shift(int32(-d)).Truncate(int32(p)).StringFixed(int32(p))
}

// FormatAtomicString is FormatAtomic for string-encoded amounts. Unparsable input
// is returned unchanged.
func FormatAtomicString(amount string, decimals, precision int) string {
	v, ok := ParseAtomic(amount)
	if !ok {
		return amount
	}
	return FormatAtomic(v, decimals, precision)
}

func ClampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// UTCDate returns the YYYY-MM-DD calendar date of t in UTC.
func UTCDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
