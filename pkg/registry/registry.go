// Package registry maps small payment token ids to token contract
// addresses. Id 0 is the sentinel and is never mapped.
package registry

import (
	"context"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"renft/pkg/models"
	"renft/pkg/types"
)

type Entry struct {
	ID      uint8          `json:"id"`
	Address common.Address `json:"address"`
}

// Set maps id to addr. Only the controller recorded in params may change the
// registry; a zero addr removes the mapping.
func Set(ctx context.Context, tx *gorm.DB, caller common.Address, id uint8, addr common.Address) error {
	var params models.Params
	err := tx.WithContext(ctx).First(&params).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(types.ErrInvalidState, "ledger is not initialized")
	}
	if err != nil {
		return err
	}
	if params.Controller != caller.Hex() {
		return errors.Wrapf(types.ErrNotAuthorized, "%s is not the controller", caller.Hex())
	}
	if id == types.SentinelPaymentToken {
		return errors.Wrap(types.ErrInvalidInput, "payment token id 0 is reserved")
	}

	if addr == (common.Address{}) {
		return tx.WithContext(ctx).Delete(&models.PaymentToken{}, id).Error
	}
	var existing models.PaymentToken
	err = tx.WithContext(ctx).First(&existing, id).Error
	switch {
	case errors.IsOf(err, gorm.ErrRecordNotFound):
		return tx.WithContext(ctx).Create(&models.PaymentToken{ID: id, Address: addr.Hex()}).Error
	case err != nil:
		return err
	}
	return tx.WithContext(ctx).Model(&existing).Update("address", addr.Hex()).Error
}

// Get returns the address mapped to id, or the zero address.
func Get(ctx context.Context, db *gorm.DB, id uint8) (common.Address, error) {
	if id == types.SentinelPaymentToken {
		return common.Address{}, nil
	}
	var pt models.PaymentToken
	err := db.WithContext(ctx).First(&pt, id).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(pt.Address), nil
}

// Resolve is Get for settlement paths: an unmapped id is an error.
func Resolve(ctx context.Context, db *gorm.DB, id uint8) (common.Address, error) {
	addr, err := Get(ctx, db, id)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, errors.Wrapf(types.ErrUnresolvedPaymentToken, "payment token id %d", id)
	}
	return addr, nil
}

func List(ctx context.Context, db *gorm.DB) ([]Entry, error) {
	var rows []models.PaymentToken
	if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{ID: r.ID, Address: common.HexToAddress(r.Address)})
	}
	return entries, nil
}
