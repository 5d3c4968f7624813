// Package escrow moves asset custody and payment token amounts between the
// escrow account, lenders, renters and the fee beneficiary.
//
// Collaborator contracts are reached through the Assets and Tokens
// interfaces. Every fund movement is verified against the recipient's
// balance delta, so tokens that silently deliver less than requested fail the
// operation instead of leaving the ledger short.
package escrow

import (
	"context"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"renft/pkg/fee"
	"renft/pkg/types"
)

// Assets is the subset of a non-fungible asset contract the escrow needs.
type Assets interface {
	OwnerOf(ctx context.Context, contract common.Address, tokenID string) (common.Address, error)
	GetApproved(ctx context.Context, contract common.Address, tokenID string) (common.Address, error)
	IsApprovedForAll(ctx context.Context, contract, owner, operator common.Address) (bool, error)
	TransferFrom(ctx context.Context, operator, contract, from, to common.Address, tokenID string) error
}

// Tokens is the subset of a fungible payment token contract the escrow needs.
type Tokens interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	BalanceOf(ctx context.Context, token, holder common.Address) (math.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (math.Int, error)
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount math.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount math.Int) error
}

// Backend binds the collaborators to the transaction of the running call so
// their effects commit or roll back with the ledger.
type Backend interface {
	Bind(tx *gorm.DB) (Assets, Tokens)
}

type Settlement struct {
	assets Assets
	tokens Tokens
	self   common.Address
}

// NewSettlement returns a settlement acting as the escrow account self.
func NewSettlement(assets Assets, tokens Tokens, self common.Address) *Settlement {
	return &Settlement{assets: assets, tokens: tokens, self: self}
}

func (s *Settlement) Address() common.Address { return s.self }

func (s *Settlement) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return s.tokens.Decimals(ctx, token)
}

// CanTake reports whether the escrow is allowed to pull the asset from owner.
func (s *Settlement) CanTake(ctx context.Context, contract common.Address, tokenID string, owner common.Address) (bool, error) {
	current, err := s.assets.OwnerOf(ctx, contract, tokenID)
	if err != nil {
		return false, err
	}
	if current != owner {
		return false, nil
	}
	all, err := s.assets.IsApprovedForAll(ctx, contract, owner, s.self)
	if err != nil {
		return false, err
	}
	if all {
		return true, nil
	}
	approved, err := s.assets.GetApproved(ctx, contract, tokenID)
	if err != nil {
		return false, err
	}
	return approved == s.self, nil
}

// TakeCustody moves the asset from owner into the escrow.
func (s *Settlement) TakeCustody(ctx context.Context, contract common.Address, tokenID string, owner common.Address) error {
	if err := s.assets.TransferFrom(ctx, s.self, contract, owner, s.self, tokenID); err != nil {
		return err
	}
	return s.expectOwner(ctx, contract, tokenID, s.self)
}

// ReleaseCustody moves the asset out of the escrow to to.
func (s *Settlement) ReleaseCustody(ctx context.Context, contract common.Address, tokenID string, to common.Address) error {
	if err := s.assets.TransferFrom(ctx, s.self, contract, s.self, to, tokenID); err != nil {
		return err
	}
	return s.expectOwner(ctx, contract, tokenID, to)
}

func (s *Settlement) expectOwner(ctx context.Context, contract common.Address, tokenID string, want common.Address) error {
	owner, err := s.assets.OwnerOf(ctx, contract, tokenID)
	if err != nil {
		return err
	}
	if owner != want {
		return errors.Wrapf(types.ErrInvalidState, "asset %s/%s owned by %s after transfer, expected %s",
			contract.Hex(), tokenID, owner.Hex(), want.Hex())
	}
	return nil
}

// TransferIn pulls amount of token from from into the escrow.
func (s *Settlement) TransferIn(ctx context.Context, token, from common.Address, amount math.Int) error {
	if amount.IsZero() {
		return nil
	}
	allowance, err := s.tokens.Allowance(ctx, token, from, s.self)
	if err != nil {
		return err
	}
	if allowance.LT(amount) {
		return errors.Wrapf(types.ErrInsufficientFunds, "allowance %s below %s", allowance, amount)
	}
	balance, err := s.tokens.BalanceOf(ctx, token, from)
	if err != nil {
		return err
	}
	if balance.LT(amount) {
		return errors.Wrapf(types.ErrInsufficientFunds, "balance %s below %s", balance, amount)
	}
	return s.measured(ctx, token, s.self, amount, func() error {
		return s.tokens.TransferFrom(ctx, token, s.self, from, s.self, amount)
	})
}

// TransferOut pays amount of token from the escrow to to.
func (s *Settlement) TransferOut(ctx context.Context, token, to common.Address, amount math.Int) error {
	if amount.IsZero() {
		return nil
	}
	return s.measured(ctx, token, to, amount, func() error {
		return s.tokens.Transfer(ctx, token, s.self, to, amount)
	})
}

// SplitAndPay sends the fee share of total to feeRecipient and the rest to
// principalRecipient.
func (s *Settlement) SplitAndPay(ctx context.Context, token common.Address, total math.Int, rateBps uint16,
	feeRecipient, principalRecipient common.Address) (paidFee, principal math.Int, err error) {
	paidFee, principal = fee.Split(total, rateBps)
	if err := s.TransferOut(ctx, token, feeRecipient, paidFee); err != nil {
		return math.Int{}, math.Int{}, errors.Wrap(err, "pay fee")
	}
	if err := s.TransferOut(ctx, token, principalRecipient, principal); err != nil {
		return math.Int{}, math.Int{}, errors.Wrap(err, "pay principal")
	}
	return paidFee, principal, nil
}

func (s *Settlement) measured(ctx context.Context, token, recipient common.Address, amount math.Int, transfer func() error) error {
	before, err := s.tokens.BalanceOf(ctx, token, recipient)
	if err != nil {
		return err
	}
	if err := transfer(); err != nil {
		return err
	}
	after, err := s.tokens.BalanceOf(ctx, token, recipient)
	if err != nil {
		return err
	}
	if received := after.Sub(before); received.LT(amount) {
		return errors.Wrapf(types.ErrInsufficientFunds, "%s received %s of %s", recipient.Hex(), received, amount)
	}
	return nil
}
