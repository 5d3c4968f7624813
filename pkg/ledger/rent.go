package ledger

import (
	"context"
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"renft/pkg/escrow"
	"renft/pkg/models"
	"renft/pkg/price"
	"renft/pkg/registry"
	"renft/pkg/types"
)

// Rent pulls rent and collateral from the caller into escrow and marks each
// lending rented until now + RentDuration days.
func (l *Ledger) Rent(ctx context.Context, caller common.Address, items []RentItem) error {
	if err := l.checkBatch(len(items)); err != nil {
		return err
	}
	return l.execute(ctx, "rent", caller, len(items), func(c *call) error {
		params, err := loadParams(c.tx)
		if err != nil {
			return err
		}
		if params.Paused {
			return errors.Wrap(types.ErrInvalidState, "ledger is paused")
		}
		for i, item := range items {
			if err := l.rentOne(c, caller, item); err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
		}
		return nil
	})
}

func (l *Ledger) rentOne(c *call, caller common.Address, item RentItem) error {
	lending, err := loadRef(c.tx, RefItem{AssetContract: item.AssetContract, TokenID: item.TokenID, LendingID: item.LendingID})
	if err != nil {
		return err
	}
	if lending.State != models.LendingListed {
		return errors.Wrapf(types.ErrInvalidState, "lending %d is %s, not listed", lending.ID, lending.State)
	}
	if lending.LenderAddress == caller.Hex() {
		return errors.Wrapf(types.ErrNotAuthorized, "lender cannot rent own lending %d", lending.ID)
	}
	q, err := quote(c.ctx, c.tx, c.settle, lending, item.RentDuration)
	if err != nil {
		return err
	}

	dueAt := c.now.Add(time.Duration(item.RentDuration) * types.Day)
	renting := models.Renting{
		LendingID:        lending.ID,
		RenterAddress:    caller.Hex(),
		RentDuration:     item.RentDuration,
		RentedAt:         c.now,
		DueAt:            dueAt,
		PaymentToken:     q.PaymentToken.Hex(),
		RentAmount:       q.RentAmount.String(),
		CollateralAmount: q.CollateralAmount.String(),
	}
	if err := c.tx.Create(&renting).Error; err != nil {
		return err
	}
	if err := c.tx.Model(lending).Updates(map[string]interface{}{"state": models.LendingRented, "updated_at": c.now}).Error; err != nil {
		return err
	}

	if err := c.settle.TransferIn(c.ctx, q.PaymentToken, caller, q.Total); err != nil {
		return err
	}
	return c.emit(&Rented{
		LendingID:        lending.ID,
		AssetContract:    item.AssetContract,
		TokenID:          item.TokenID,
		RenterAddress:    caller,
		RentDuration:     item.RentDuration,
		RentedAt:         c.now,
		DueAt:            dueAt,
		PaymentToken:     q.PaymentToken,
		RentAmount:       q.RentAmount,
		CollateralAmount: q.CollateralAmount,
	})
}

// ReturnIt ends rentals on time: the asset goes back to the lender, the
// collateral back to the renter and the rent, minus fee, to the lender.
// Returns after the due time are rejected; the lender claims the collateral
// instead.
func (l *Ledger) ReturnIt(ctx context.Context, caller common.Address, items []RefItem) error {
	if err := l.checkBatch(len(items)); err != nil {
		return err
	}
	return l.execute(ctx, "returnIt", caller, len(items), func(c *call) error {
		params, err := loadParams(c.tx)
		if err != nil {
			return err
		}
		for i, item := range items {
			if err := l.returnOne(c, params, caller, item); err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
		}
		return nil
	})
}

func (l *Ledger) returnOne(c *call, params *models.Params, caller common.Address, item RefItem) error {
	lending, renting, err := loadRented(c.tx, item)
	if err != nil {
		return err
	}
	if renting.RenterAddress != caller.Hex() {
		return errors.Wrapf(types.ErrNotAuthorized, "%s is not the renter of %d", caller.Hex(), lending.ID)
	}
	if c.now.After(renting.DueAt) {
		return errors.Wrapf(types.ErrInvalidState, "rental %d past due since %s", lending.ID, renting.DueAt.Format(time.RFC3339))
	}
	terms, err := termsOf(renting)
	if err != nil {
		return err
	}

	now := c.now
	if err := c.tx.Model(renting).Updates(map[string]interface{}{"returned_at": now, "updated_at": now}).Error; err != nil {
		return err
	}
	if err := closeLending(c, lending); err != nil {
		return err
	}

	lender := common.HexToAddress(lending.LenderAddress)
	if err := c.settle.ReleaseCustody(c.ctx, item.AssetContract, item.TokenID, lender); err != nil {
		return err
	}
	if err := c.settle.TransferOut(c.ctx, terms.token, caller, terms.collateral); err != nil {
		return errors.Wrap(err, "refund collateral")
	}
	paidFee, _, err := c.settle.SplitAndPay(c.ctx, terms.token, terms.rent, params.FeeRate,
		common.HexToAddress(params.Beneficiary), lender)
	if err != nil {
		return errors.Wrap(err, "settle rent")
	}
	return c.emit(&Returned{LendingID: lending.ID, ReturnedAt: now, PaymentToken: terms.token, Fee: paidFee})
}

// ClaimCollateral settles overdue rentals in the lender's favour: the asset,
// the collateral and the rent go to the lender, each payment minus fee.
func (l *Ledger) ClaimCollateral(ctx context.Context, caller common.Address, items []RefItem) error {
	if err := l.checkBatch(len(items)); err != nil {
		return err
	}
	return l.execute(ctx, "claimCollateral", caller, len(items), func(c *call) error {
		params, err := loadParams(c.tx)
		if err != nil {
			return err
		}
		for i, item := range items {
			if err := l.claimOne(c, params, caller, item); err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
		}
		return nil
	})
}

func (l *Ledger) claimOne(c *call, params *models.Params, caller common.Address, item RefItem) error {
	lending, renting, err := loadRented(c.tx, item)
	if err != nil {
		return err
	}
	if !c.now.After(renting.DueAt) {
		return errors.Wrapf(types.ErrNotYetDue, "rental %d is due at %s", lending.ID, renting.DueAt.Format(time.RFC3339))
	}
	if !l.openClaims && lending.LenderAddress != caller.Hex() {
		return errors.Wrapf(types.ErrNotAuthorized, "%s is not the lender of %d", caller.Hex(), lending.ID)
	}
	terms, err := termsOf(renting)
	if err != nil {
		return err
	}

	now := c.now
	if err := c.tx.Model(renting).Updates(map[string]interface{}{"claimed_at": now, "updated_at": now}).Error; err != nil {
		return err
	}
	if err := closeLending(c, lending); err != nil {
		return err
	}

	lender := common.HexToAddress(lending.LenderAddress)
	beneficiary := common.HexToAddress(params.Beneficiary)
	if err := c.settle.ReleaseCustody(c.ctx, item.AssetContract, item.TokenID, lender); err != nil {
		return err
	}
	collateralFee, _, err := c.settle.SplitAndPay(c.ctx, terms.token, terms.collateral, params.FeeRate, beneficiary, lender)
	if err != nil {
		return errors.Wrap(err, "settle collateral")
	}
	rentFee, _, err := c.settle.SplitAndPay(c.ctx, terms.token, terms.rent, params.FeeRate, beneficiary, lender)
	if err != nil {
		return errors.Wrap(err, "settle rent")
	}
	return c.emit(&CollateralClaimed{
		LendingID:    lending.ID,
		ClaimedAt:    now,
		PaymentToken: terms.token,
		Fee:          collateralFee.Add(rentFee),
	})
}

func loadRented(tx *gorm.DB, item RefItem) (*models.Lending, *models.Renting, error) {
	lending, err := loadRef(tx, item)
	if err != nil {
		return nil, nil, err
	}
	if lending.State != models.LendingRented {
		return nil, nil, errors.Wrapf(types.ErrInvalidState, "lending %d is %s, not rented", lending.ID, lending.State)
	}
	var renting models.Renting
	if err := tx.Where("lending_id = ?", lending.ID).First(&renting).Error; err != nil {
		return nil, nil, errors.Wrapf(err, "renting of lending %d", lending.ID)
	}
	return lending, &renting, nil
}

type terms struct {
	token      common.Address
	rent       math.Int
	collateral math.Int
}

// termsOf reads the amounts frozen when the rental started.
func termsOf(r *models.Renting) (terms, error) {
	rent, ok := math.NewIntFromString(r.RentAmount)
	if !ok {
		return terms{}, errors.Wrapf(types.ErrInvalidState, "corrupt rent amount %q", r.RentAmount)
	}
	collateral, ok := math.NewIntFromString(r.CollateralAmount)
	if !ok {
		return terms{}, errors.Wrapf(types.ErrInvalidState, "corrupt collateral amount %q", r.CollateralAmount)
	}
	return terms{token: common.HexToAddress(r.PaymentToken), rent: rent, collateral: collateral}, nil
}

// Quote is the amount a rent of RentDuration days pulls from the renter.
type Quote struct {
	LendingID        uint64         `json:"lendingId"`
	RentDuration     uint8          `json:"rentDuration"`
	PaymentToken     common.Address `json:"paymentToken"`
	RentAmount       math.Int       `json:"rentAmount"`
	CollateralAmount math.Int       `json:"collateralAmount"`
	Total            math.Int       `json:"total"`
}

func quote(ctx context.Context, db *gorm.DB, settle *escrow.Settlement, lending *models.Lending, days uint8) (*Quote, error) {
	if days == 0 {
		return nil, errors.Wrap(types.ErrInvalidInput, "rentDuration must be at least one day")
	}
	if days > lending.MaxRentDuration {
		return nil, errors.Wrapf(types.ErrDurationExceeded, "%d days exceeds max %d", days, lending.MaxRentDuration)
	}
	token, err := registry.Resolve(ctx, db, lending.PaymentTokenID)
	if err != nil {
		return nil, err
	}
	decimals, err := settle.Decimals(ctx, token)
	if err != nil {
		return nil, err
	}
	scale := price.Scale(decimals)
	daily, err := price.Packed(lending.DailyRentPrice).Unpack(scale)
	if err != nil {
		return nil, err
	}
	collateral, err := price.Packed(lending.CollateralPrice).Unpack(scale)
	if err != nil {
		return nil, err
	}
	rent := daily.MulRaw(int64(days))
	return &Quote{
		LendingID:        lending.ID,
		RentDuration:     days,
		PaymentToken:     token,
		RentAmount:       rent,
		CollateralAmount: collateral,
		Total:            rent.Add(collateral),
	}, nil
}
