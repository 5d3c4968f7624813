package types

import "math/big"

// ValidTokenID reports whether id is a canonical decimal uint256.
func ValidTokenID(id string) bool {
	v, ok := new(big.Int).SetString(id, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return false
	}
	return v.String() == id
}
