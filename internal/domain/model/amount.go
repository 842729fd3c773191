package model

import (
	"fmt"
	"math/big"
)

// Chain-native amounts stay arbitrary-precision from decode through storage.
// The store carries them as decimal strings; these helpers are the only
// sanctioned conversion points.

// ParseAmount parses a decimal-string amount. Empty string is zero.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return v, nil
}

// SumAmounts adds a list of decimal-string amounts.
func SumAmounts(amounts []string) (*big.Int, error) {
	total := new(big.Int)
	for _, a := range amounts {
		v, err := ParseAmount(a)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// SplitFlow splits a signed flow into its (usdcIn, usdcOut) sides. Exactly
// one side is non-zero (both zero for a zero flow) and usdcIn - usdcOut
// equals the input.
func SplitFlow(v *big.Int) (usdcIn, usdcOut string) {
	switch v.Sign() {
	case 1:
		return v.String(), "0"
	case -1:
		return "0", new(big.Int).Neg(v).String()
	default:
		return "0", "0"
	}
}

// ClampNonNegative returns v, or zero if v is negative. Used for outstanding
// boost, which never goes below zero even when unlocks exceed sponsored cost.
func ClampNonNegative(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return v
}
