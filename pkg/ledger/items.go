package ledger

import (
	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"

	"renft/pkg/price"
	"renft/pkg/types"
)

// LendItem lists one asset.
type LendItem struct {
	AssetContract   common.Address
	TokenID         string
	MaxRentDuration uint8
	DailyRentPrice  price.Packed
	CollateralPrice price.Packed
	PaymentTokenID  uint8
}

// RentItem rents one listed asset for RentDuration days.
type RentItem struct {
	AssetContract common.Address
	TokenID       string
	LendingID     uint64
	RentDuration  uint8
}

// RefItem names an existing lending for returnIt, stopLending and
// claimCollateral.
type RefItem struct {
	AssetContract common.Address
	TokenID       string
	LendingID     uint64
}

// NewLendItems zips the parallel arrays of a lend call.
func NewLendItems(assets []common.Address, tokenIDs []string, maxRentDurations []uint8,
	dailyRentPrices, collateralPrices []price.Packed, paymentTokenIDs []uint8) ([]LendItem, error) {
	n := len(assets)
	if err := sameLength(n, len(tokenIDs), len(maxRentDurations), len(dailyRentPrices),
		len(collateralPrices), len(paymentTokenIDs)); err != nil {
		return nil, err
	}
	items := make([]LendItem, n)
	for i := range items {
		items[i] = LendItem{
			AssetContract:   assets[i],
			TokenID:         tokenIDs[i],
			MaxRentDuration: maxRentDurations[i],
			DailyRentPrice:  dailyRentPrices[i],
			CollateralPrice: collateralPrices[i],
			PaymentTokenID:  paymentTokenIDs[i],
		}
	}
	return items, nil
}

func NewRentItems(assets []common.Address, tokenIDs []string, lendingIDs []uint64, rentDurations []uint8) ([]RentItem, error) {
	n := len(assets)
	if err := sameLength(n, len(tokenIDs), len(lendingIDs), len(rentDurations)); err != nil {
		return nil, err
	}
	items := make([]RentItem, n)
	for i := range items {
		items[i] = RentItem{AssetContract: assets[i], TokenID: tokenIDs[i], LendingID: lendingIDs[i], RentDuration: rentDurations[i]}
	}
	return items, nil
}

func NewRefItems(assets []common.Address, tokenIDs []string, lendingIDs []uint64) ([]RefItem, error) {
	n := len(assets)
	if err := sameLength(n, len(tokenIDs), len(lendingIDs)); err != nil {
		return nil, err
	}
	items := make([]RefItem, n)
	for i := range items {
		items[i] = RefItem{AssetContract: assets[i], TokenID: tokenIDs[i], LendingID: lendingIDs[i]}
	}
	return items, nil
}

func sameLength(n int, others ...int) error {
	for _, m := range others {
		if m != n {
			return errors.Wrapf(types.ErrInvalidInput, "batch arrays differ in length (%d != %d)", m, n)
		}
	}
	return nil
}
