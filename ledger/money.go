package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMoney is returned by ParseMoney for strings that are not a two-decimal amount.
var ErrInvalidMoney = errors.New("ledger: invalid money amount")

// Money is an amount in minor units (cents). The stored monetary type has two decimals.
type Money int64

// MoneyFromUnits converts whole currency units into Money.
func MoneyFromUnits(units int64) Money {
	return Money(units * 100)
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 {
	return int64(m)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m == 0
}

// String renders the amount with two decimals, e.g. "5.00" or "-0.50".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}

	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney parses a decimal amount with at most two fractional digits ("5", "5.5", "5.00").
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidMoney
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasFrac := strings.Cut(s, ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 2)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, errors.Join(ErrInvalidMoney, err)
	}

	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}

		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, errors.Join(ErrInvalidMoney, err)
		}
	}

	total := units*100 + cents
	if negative {
		total = -total
	}

	return Money(total), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
