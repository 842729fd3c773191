package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), v.Int64())

	v, err = ParseAmount("")
	require.NoError(t, err)
	assert.Zero(t, v.Sign())

	_, err = ParseAmount("1.5")
	assert.Error(t, err)

	_, err = ParseAmount("0x10")
	assert.Error(t, err)
}

func TestParseAmount_RoundTripsBeyondFloatPrecision(t *testing.T) {
	// 2^53 + 1 is the first integer a float64 silently corrupts.
	cases := []string{
		"9007199254740993",
		new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil).String(),
	}
	for _, s := range cases {
		v, err := ParseAmount(s)
		require.NoError(t, err)
		assert.Equal(t, s, v.String())
	}
}

func TestSumAmounts(t *testing.T) {
	total, err := SumAmounts([]string{"100", "200", "300"})
	require.NoError(t, err)
	assert.Equal(t, "600", total.String())

	total, err = SumAmounts(nil)
	require.NoError(t, err)
	assert.Zero(t, total.Sign())

	_, err = SumAmounts([]string{"100", "bad"})
	assert.Error(t, err)
}

func TestSplitFlow(t *testing.T) {
	tests := []struct {
		name    string
		flow    *big.Int
		wantIn  string
		wantOut string
	}{
		{"positive flow is usdc in", big.NewInt(25_000_000), "25000000", "0"},
		{"negative flow is usdc out", big.NewInt(-50_000_000), "0", "50000000"},
		{"zero flow", big.NewInt(0), "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usdcIn, usdcOut := SplitFlow(tt.flow)
			assert.Equal(t, tt.wantIn, usdcIn)
			assert.Equal(t, tt.wantOut, usdcOut)
		})
	}
}

func TestSplitFlow_Conservation(t *testing.T) {
	// usdcIn - usdcOut must equal the input for any signed flow.
	for _, flow := range []int64{-1_000_000, -1, 0, 1, 7_500_000} {
		usdcIn, usdcOut := SplitFlow(big.NewInt(flow))
		in, err := ParseAmount(usdcIn)
		require.NoError(t, err)
		out, err := ParseAmount(usdcOut)
		require.NoError(t, err)
		assert.Equal(t, flow, new(big.Int).Sub(in, out).Int64())
		// Exactly one side non-zero, except the zero flow.
		if flow != 0 {
			assert.True(t, (in.Sign() == 0) != (out.Sign() == 0))
		}
	}
}

func TestClampNonNegative(t *testing.T) {
	assert.Equal(t, "600000", ClampNonNegative(big.NewInt(600_000)).String())
	assert.Equal(t, "0", ClampNonNegative(big.NewInt(-400_000)).String())
	assert.Equal(t, "0", ClampNonNegative(big.NewInt(0)).String())
}
