// Package fee computes the platform cut taken out of rental payments.
package fee

import (
	"cosmossdk.io/errors"
	"cosmossdk.io/math"

	"renft/pkg/types"
)

// Compute returns amount*rateBps/10000, truncated toward zero.
func Compute(amount math.Int, rateBps uint16) math.Int {
	if amount.IsNil() || amount.IsZero() || rateBps == 0 {
		return math.ZeroInt()
	}
	return amount.MulRaw(int64(rateBps)).QuoRaw(types.FeeDenominator)
}

// Split divides amount into the platform fee and the remainder owed to the
// principal recipient. fee + remainder == amount.
func Split(amount math.Int, rateBps uint16) (fee, remainder math.Int) {
	fee = Compute(amount, rateBps)
	if amount.IsNil() {
		return fee, math.ZeroInt()
	}
	return fee, amount.Sub(fee)
}

func ValidateRate(rateBps uint16) error {
	if rateBps > types.FeeDenominator {
		return errors.Wrapf(types.ErrInvalidInput, "fee rate %d exceeds %d basis points", rateBps, types.FeeDenominator)
	}
	return nil
}
