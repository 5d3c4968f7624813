package chain

import (
	"context"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"renft/pkg/models"
	"renft/pkg/types"
)

// ERC20 is a fungible payment token ledger kept in the token_* tables.
type ERC20 struct {
	db *gorm.DB
}

func NewERC20(db *gorm.DB) *ERC20 {
	return &ERC20{db: db}
}

// Deploy registers a token contract at addr.
func (e *ERC20) Deploy(ctx context.Context, addr common.Address, symbol string, decimals uint8) error {
	if addr == (common.Address{}) {
		return errors.Wrap(types.ErrInvalidInput, "token address must not be zero")
	}
	if decimals > 36 {
		return errors.Wrapf(types.ErrInvalidInput, "decimals %d too large", decimals)
	}
	var count int64
	if err := withCtx(ctx, e.db).Model(&models.TokenContract{}).Where("address = ?", key(addr)).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.Wrapf(types.ErrInvalidState, "token %s already deployed", addr.Hex())
	}
	return withCtx(ctx, e.db).Create(&models.TokenContract{Address: key(addr), Symbol: symbol, Decimals: decimals}).Error
}

func (e *ERC20) contract(ctx context.Context, token common.Address) (*models.TokenContract, error) {
	var tc models.TokenContract
	err := withCtx(ctx, e.db).Where("address = ?", key(token)).First(&tc).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(types.ErrUnresolvedPaymentToken, "no token contract at %s", token.Hex())
	}
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

func (e *ERC20) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	tc, err := e.contract(ctx, token)
	if err != nil {
		return 0, err
	}
	return tc.Decimals, nil
}

func (e *ERC20) BalanceOf(ctx context.Context, token, holder common.Address) (math.Int, error) {
	if _, err := e.contract(ctx, token); err != nil {
		return math.Int{}, err
	}
	var bal models.TokenBalance
	err := withCtx(ctx, e.db).Where("token = ? AND holder = ?", key(token), key(holder)).First(&bal).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	return parseAmount(bal.Amount)
}

func (e *ERC20) Allowance(ctx context.Context, token, owner, spender common.Address) (math.Int, error) {
	if _, err := e.contract(ctx, token); err != nil {
		return math.Int{}, err
	}
	var al models.TokenAllowance
	err := withCtx(ctx, e.db).Where("token = ? AND owner = ? AND spender = ?", key(token), key(owner), key(spender)).
		First(&al).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return math.ZeroInt(), nil
	}
	if err != nil {
		return math.Int{}, err
	}
	return parseAmount(al.Amount)
}

// Approve sets spender's allowance over owner's balance to amount.
func (e *ERC20) Approve(ctx context.Context, token, owner, spender common.Address, amount math.Int) error {
	if err := requireNonNegative(amount); err != nil {
		return err
	}
	if _, err := e.contract(ctx, token); err != nil {
		return err
	}
	row := models.TokenAllowance{Token: key(token), Owner: key(owner), Spender: key(spender), Amount: amount.String()}
	return withCtx(ctx, e.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&row).Error
}

func (e *ERC20) Mint(ctx context.Context, token, to common.Address, amount math.Int) error {
	if err := requireNonNegative(amount); err != nil {
		return err
	}
	bal, err := e.BalanceOf(ctx, token, to)
	if err != nil {
		return err
	}
	return e.setBalance(ctx, token, to, bal.Add(amount))
}

// Faucet mints FaucetWholeTokens whole tokens to to.
func (e *ERC20) Faucet(ctx context.Context, token, to common.Address) (math.Int, error) {
	decimals, err := e.Decimals(ctx, token)
	if err != nil {
		return math.Int{}, err
	}
	amount := math.NewIntWithDecimal(FaucetWholeTokens, int(decimals))
	if err := e.Mint(ctx, token, to, amount); err != nil {
		return math.Int{}, err
	}
	return amount, nil
}

func (e *ERC20) Transfer(ctx context.Context, token, from, to common.Address, amount math.Int) error {
	if err := requireNonNegative(amount); err != nil {
		return err
	}
	fromBal, err := e.BalanceOf(ctx, token, from)
	if err != nil {
		return err
	}
	if fromBal.LT(amount) {
		return errors.Wrapf(types.ErrInsufficientFunds, "%s holds %s of %s", from.Hex(), fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := e.BalanceOf(ctx, token, to)
	if err != nil {
		return err
	}
	if err := e.setBalance(ctx, token, from, fromBal.Sub(amount)); err != nil {
		return err
	}
	return e.setBalance(ctx, token, to, toBal.Add(amount))
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// spender's allowance.
func (e *ERC20) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount math.Int) error {
	if err := requireNonNegative(amount); err != nil {
		return err
	}
	if spender != from {
		allowance, err := e.Allowance(ctx, token, from, spender)
		if err != nil {
			return err
		}
		if allowance.LT(amount) {
			return errors.Wrapf(types.ErrInsufficientFunds, "allowance %s below %s", allowance, amount)
		}
		if err := e.Approve(ctx, token, from, spender, allowance.Sub(amount)); err != nil {
			return err
		}
	}
	return e.Transfer(ctx, token, from, to, amount)
}

func (e *ERC20) setBalance(ctx context.Context, token, holder common.Address, amount math.Int) error {
	row := models.TokenBalance{Token: key(token), Holder: key(holder), Amount: amount.String()}
	return withCtx(ctx, e.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "holder"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&row).Error
}
