package chain

import (
	"context"
	"math/big"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"renft/pkg/models"
	"renft/pkg/types"
)

// ERC721 is a non-fungible asset registry kept in the assets tables.
type ERC721 struct {
	db *gorm.DB
}

func NewERC721(db *gorm.DB) *ERC721 {
	return &ERC721{db: db}
}

func (n *ERC721) asset(ctx context.Context, contract common.Address, tokenID string) (*models.Asset, error) {
	var a models.Asset
	err := withCtx(ctx, n.db).Where("contract = ? AND token_id = ?", key(contract), tokenID).First(&a).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(types.ErrInvalidInput, "asset %s/%s does not exist", contract.Hex(), tokenID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Mint creates tokenID under contract owned by to.
func (n *ERC721) Mint(ctx context.Context, contract common.Address, tokenID string, to common.Address) error {
	if contract == (common.Address{}) || to == (common.Address{}) {
		return errors.Wrap(types.ErrInvalidInput, "contract and owner must not be zero")
	}
	if !types.ValidTokenID(tokenID) {
		return errors.Wrapf(types.ErrInvalidInput, "malformed token id %q", tokenID)
	}
	var count int64
	if err := withCtx(ctx, n.db).Model(&models.Asset{}).
		Where("contract = ? AND token_id = ?", key(contract), tokenID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.Wrapf(types.ErrInvalidState, "asset %s/%s already minted", contract.Hex(), tokenID)
	}
	return withCtx(ctx, n.db).Create(&models.Asset{Contract: key(contract), TokenID: tokenID, Owner: key(to)}).Error
}

// Award mints the next sequential token id of contract to to.
func (n *ERC721) Award(ctx context.Context, contract, to common.Address) (string, error) {
	var count int64
	if err := withCtx(ctx, n.db).Model(&models.Asset{}).Where("contract = ?", key(contract)).Count(&count).Error; err != nil {
		return "", err
	}
	id := big.NewInt(count + 1).String()
	if err := n.Mint(ctx, contract, id, to); err != nil {
		return "", err
	}
	return id, nil
}

func (n *ERC721) OwnerOf(ctx context.Context, contract common.Address, tokenID string) (common.Address, error) {
	a, err := n.asset(ctx, contract, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(a.Owner), nil
}

func (n *ERC721) GetApproved(ctx context.Context, contract common.Address, tokenID string) (common.Address, error) {
	a, err := n.asset(ctx, contract, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if a.Approved == "" {
		return common.Address{}, nil
	}
	return common.HexToAddress(a.Approved), nil
}

func (n *ERC721) IsApprovedForAll(ctx context.Context, contract, owner, operator common.Address) (bool, error) {
	var op models.AssetOperator
	err := withCtx(ctx, n.db).Where("contract = ? AND owner = ? AND operator = ?", key(contract), key(owner), key(operator)).
		First(&op).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return op.Approved, nil
}

// Approve lets spender transfer a single asset of owner.
func (n *ERC721) Approve(ctx context.Context, contract common.Address, tokenID string, owner, spender common.Address) error {
	a, err := n.asset(ctx, contract, tokenID)
	if err != nil {
		return err
	}
	if a.Owner != key(owner) {
		return errors.Wrapf(types.ErrNotAuthorized, "%s does not own %s/%s", owner.Hex(), contract.Hex(), tokenID)
	}
	approved := ""
	if spender != (common.Address{}) {
		approved = key(spender)
	}
	return withCtx(ctx, n.db).Model(a).Update("approved", approved).Error
}

func (n *ERC721) SetApprovalForAll(ctx context.Context, contract, owner, operator common.Address, approved bool) error {
	row := models.AssetOperator{Contract: key(contract), Owner: key(owner), Operator: key(operator), Approved: approved}
	return withCtx(ctx, n.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}, {Name: "owner"}, {Name: "operator"}},
		DoUpdates: clause.AssignmentColumns([]string{"approved"}),
	}).Create(&row).Error
}

// TransferFrom moves an asset from from to to. operator must be the owner,
// the single-asset approval or an approved-for-all operator.
func (n *ERC721) TransferFrom(ctx context.Context, operator, contract, from, to common.Address, tokenID string) error {
	if to == (common.Address{}) {
		return errors.Wrap(types.ErrInvalidInput, "transfer to the zero address")
	}
	a, err := n.asset(ctx, contract, tokenID)
	if err != nil {
		return err
	}
	if a.Owner != key(from) {
		return errors.Wrapf(types.ErrNotAuthorized, "%s does not own %s/%s", from.Hex(), contract.Hex(), tokenID)
	}
	if operator != from && a.Approved != key(operator) {
		all, err := n.IsApprovedForAll(ctx, contract, from, operator)
		if err != nil {
			return err
		}
		if !all {
			return errors.Wrapf(types.ErrNotAuthorized, "%s may not move %s/%s", operator.Hex(), contract.Hex(), tokenID)
		}
	}
	return withCtx(ctx, n.db).Model(a).Updates(map[string]interface{}{"owner": key(to), "approved": ""}).Error
}
