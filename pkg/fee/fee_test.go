package fee

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"

	"renft/pkg/types"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		amount   math.Int
		rate     uint16
		expected math.Int
	}{
		{name: "zero rate", amount: math.NewInt(1_000_000), rate: 0, expected: math.ZeroInt()},
		{name: "one percent", amount: math.NewInt(1_000_000), rate: 100, expected: math.NewInt(10_000)},
		{name: "truncates", amount: math.NewInt(999), rate: 1, expected: math.ZeroInt()},
		{name: "full rate", amount: math.NewInt(12345), rate: 10_000, expected: math.NewInt(12345)},
		{name: "zero amount", amount: math.ZeroInt(), rate: 500, expected: math.ZeroInt()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(Compute(tt.amount, tt.rate)), "got %s", Compute(tt.amount, tt.rate))
		})
	}
}

func TestSplitReconstructsAmount(t *testing.T) {
	huge, ok := math.NewIntFromString("1500000000000000000")
	assert.True(t, ok)
	amounts := []math.Int{math.ZeroInt(), math.OneInt(), math.NewInt(7), math.NewInt(9999), math.NewInt(10_001), huge}
	for _, amount := range amounts {
		for _, rate := range []uint16{0, 1, 33, 250, 9999, 10_000} {
			fee, rest := Split(amount, rate)
			assert.True(t, fee.Add(rest).Equal(amount), "amount %s rate %d", amount, rate)
			assert.False(t, rest.IsNegative())
		}
	}
}

func TestValidateRate(t *testing.T) {
	assert.NoError(t, ValidateRate(0))
	assert.NoError(t, ValidateRate(10_000))
	err := ValidateRate(10_001)
	assert.True(t, types.ErrInvalidInput.Is(err))
}
