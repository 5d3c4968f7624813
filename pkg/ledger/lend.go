package ledger

import (
	"context"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"renft/pkg/models"
	"renft/pkg/registry"
	"renft/pkg/types"
)

// Lend moves each asset into escrow and lists it. The returned ids follow
// the item order.
func (l *Ledger) Lend(ctx context.Context, caller common.Address, items []LendItem) ([]uint64, error) {
	if err := l.checkBatch(len(items)); err != nil {
		return nil, err
	}
	var ids []uint64
	err := l.execute(ctx, "lend", caller, len(items), func(c *call) error {
		ids = ids[:0]
		params, err := loadParams(c.tx)
		if err != nil {
			return err
		}
		if params.Paused {
			return errors.Wrap(types.ErrInvalidState, "ledger is paused")
		}
		for i, item := range items {
			id, err := l.lendOne(c, params, caller, item)
			if err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
			ids = append(ids, id)
		}
		return c.tx.Model(params).Update("next_lending_id", params.NextLendingID).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Ledger) lendOne(c *call, params *models.Params, caller common.Address, item LendItem) (uint64, error) {
	if !types.ValidTokenID(item.TokenID) {
		return 0, errors.Wrapf(types.ErrInvalidInput, "malformed token id %q", item.TokenID)
	}
	active, err := activeLending(c.tx, item.AssetContract, item.TokenID)
	if err != nil {
		return 0, err
	}
	if active != nil {
		return 0, errors.Wrapf(types.ErrInvalidState, "asset already lent as lending %d", active.ID)
	}
	if item.MaxRentDuration == 0 {
		return 0, errors.Wrap(types.ErrInvalidInput, "maxRentDuration must be positive")
	}
	if item.DailyRentPrice.IsZero() || item.CollateralPrice.IsZero() {
		return 0, errors.Wrap(types.ErrInvalidInput, "prices must be positive")
	}
	if err := item.DailyRentPrice.Validate(); err != nil {
		return 0, err
	}
	if err := item.CollateralPrice.Validate(); err != nil {
		return 0, err
	}
	if _, err := registry.Resolve(c.ctx, c.tx, item.PaymentTokenID); err != nil {
		return 0, err
	}
	ok, err := c.settle.CanTake(c.ctx, item.AssetContract, item.TokenID, caller)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(types.ErrNotAuthorized, "%s does not own or has not approved %s/%s",
			caller.Hex(), item.AssetContract.Hex(), item.TokenID)
	}

	lending := models.Lending{
		ID:              params.NextLendingID,
		LenderAddress:   caller.Hex(),
		AssetContract:   item.AssetContract.Hex(),
		TokenID:         item.TokenID,
		MaxRentDuration: item.MaxRentDuration,
		DailyRentPrice:  uint32(item.DailyRentPrice),
		CollateralPrice: uint32(item.CollateralPrice),
		PaymentTokenID:  item.PaymentTokenID,
		State:           models.LendingListed,
		CreatedAt:       c.now,
		UpdatedAt:       c.now,
	}
	if err := c.tx.Create(&lending).Error; err != nil {
		return 0, err
	}
	params.NextLendingID++

	if err := c.settle.TakeCustody(c.ctx, item.AssetContract, item.TokenID, caller); err != nil {
		return 0, err
	}
	err = c.emit(&Lent{
		LendingID:       lending.ID,
		LenderAddress:   caller,
		AssetContract:   item.AssetContract,
		TokenID:         item.TokenID,
		MaxRentDuration: item.MaxRentDuration,
		DailyRentPrice:  item.DailyRentPrice,
		CollateralPrice: item.CollateralPrice,
		PaymentTokenID:  item.PaymentTokenID,
	})
	return lending.ID, err
}

// StopLending withdraws listings that were never rented and hands the assets
// back to their lenders.
func (l *Ledger) StopLending(ctx context.Context, caller common.Address, items []RefItem) error {
	if err := l.checkBatch(len(items)); err != nil {
		return err
	}
	return l.execute(ctx, "stopLending", caller, len(items), func(c *call) error {
		for i, item := range items {
			if err := l.stopOne(c, caller, item); err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
		}
		return nil
	})
}

func (l *Ledger) stopOne(c *call, caller common.Address, item RefItem) error {
	lending, err := loadRef(c.tx, item)
	if err != nil {
		return err
	}
	if lending.State != models.LendingListed {
		return errors.Wrapf(types.ErrInvalidState, "lending %d is %s, not listed", lending.ID, lending.State)
	}
	if lending.LenderAddress != caller.Hex() {
		return errors.Wrapf(types.ErrNotAuthorized, "%s is not the lender of %d", caller.Hex(), lending.ID)
	}
	if err := closeLending(c, lending); err != nil {
		return err
	}
	if err := c.settle.ReleaseCustody(c.ctx, item.AssetContract, item.TokenID, caller); err != nil {
		return err
	}
	return c.emit(&LendingStopped{LendingID: lending.ID})
}

// activeLending returns the listed or rented lending of an asset, if any.
func activeLending(tx *gorm.DB, contract common.Address, tokenID string) (*models.Lending, error) {
	var lending models.Lending
	err := tx.Where("asset_contract = ? AND token_id = ? AND state IN ?", contract.Hex(), tokenID,
		[]string{models.LendingListed, models.LendingRented}).First(&lending).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lending, nil
}

// loadRef loads the lending an item names and checks it belongs to the
// item's asset.
func loadRef(tx *gorm.DB, item RefItem) (*models.Lending, error) {
	var lending models.Lending
	err := tx.First(&lending, item.LendingID).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(types.ErrInvalidState, "lending %d does not exist", item.LendingID)
	}
	if err != nil {
		return nil, err
	}
	if lending.AssetContract != item.AssetContract.Hex() || lending.TokenID != item.TokenID {
		return nil, errors.Wrapf(types.ErrInvalidInput, "lending %d is not for asset %s/%s",
			lending.ID, item.AssetContract.Hex(), item.TokenID)
	}
	return &lending, nil
}

func closeLending(c *call, lending *models.Lending) error {
	now := c.now
	lending.State = models.LendingClosed
	lending.ClosedAt = &now
	return c.tx.Model(lending).Updates(map[string]interface{}{
		"state":      models.LendingClosed,
		"closed_at":  now,
		"updated_at": now,
	}).Error
}
