package chain

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"renft/pkg/database"
	"renft/pkg/types"
)

var (
	alice = common.HexToAddress("0xA11CE00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xB0B0000000000000000000000000000000000002")
	usdc  = common.HexToAddress("0xC0C0000000000000000000000000000000000003")
	e721  = common.HexToAddress("0xE7210000000000000000000000000000000000e7")
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestERC20TransferFrom(t *testing.T) {
	ctx := context.Background()
	tokens := NewERC20(setupTestDB(t))
	require.NoError(t, tokens.Deploy(ctx, usdc, "USDC", 6))

	minted, err := tokens.Faucet(ctx, usdc, alice)
	require.NoError(t, err)
	assert.Equal(t, "100000000000", minted.String())

	err = tokens.TransferFrom(ctx, usdc, bob, alice, bob, math.NewInt(10))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	require.NoError(t, tokens.Approve(ctx, usdc, alice, bob, math.NewInt(25)))
	require.NoError(t, tokens.TransferFrom(ctx, usdc, bob, alice, bob, math.NewInt(10)))

	bobBal, err := tokens.BalanceOf(ctx, usdc, bob)
	require.NoError(t, err)
	assert.Equal(t, "10", bobBal.String())
	allowance, err := tokens.Allowance(ctx, usdc, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, "15", allowance.String())
	aliceBal, err := tokens.BalanceOf(ctx, usdc, alice)
	require.NoError(t, err)
	assert.Equal(t, "99999999990", aliceBal.String())
}

func TestERC20Errors(t *testing.T) {
	ctx := context.Background()
	tokens := NewERC20(setupTestDB(t))

	_, err := tokens.Decimals(ctx, usdc)
	assert.ErrorIs(t, err, types.ErrUnresolvedPaymentToken)

	require.NoError(t, tokens.Deploy(ctx, usdc, "USDC", 6))
	assert.ErrorIs(t, tokens.Deploy(ctx, usdc, "USDC", 6), types.ErrInvalidState)

	err = tokens.Transfer(ctx, usdc, alice, bob, math.NewInt(1))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
	assert.ErrorIs(t, tokens.Mint(ctx, usdc, alice, math.NewInt(-1)), types.ErrInvalidInput)
}

func TestERC721Transfers(t *testing.T) {
	ctx := context.Background()
	assets := NewERC721(setupTestDB(t))

	id, err := assets.Award(ctx, e721, alice)
	require.NoError(t, err)
	assert.Equal(t, "1", id)
	id, err = assets.Award(ctx, e721, alice)
	require.NoError(t, err)
	assert.Equal(t, "2", id)

	err = assets.TransferFrom(ctx, bob, e721, alice, bob, "1")
	assert.ErrorIs(t, err, types.ErrNotAuthorized)

	require.NoError(t, assets.Approve(ctx, e721, "1", alice, bob))
	approved, err := assets.GetApproved(ctx, e721, "1")
	require.NoError(t, err)
	assert.Equal(t, bob, approved)
	require.NoError(t, assets.TransferFrom(ctx, bob, e721, alice, bob, "1"))

	owner, err := assets.OwnerOf(ctx, e721, "1")
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	approved, err = assets.GetApproved(ctx, e721, "1")
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, approved)

	require.NoError(t, assets.SetApprovalForAll(ctx, e721, alice, bob, true))
	ok, err := assets.IsApprovedForAll(ctx, e721, alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, assets.TransferFrom(ctx, bob, e721, alice, bob, "2"))

	require.NoError(t, assets.SetApprovalForAll(ctx, e721, alice, bob, false))
	ok, err = assets.IsApprovedForAll(ctx, e721, alice, bob)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = assets.OwnerOf(ctx, e721, "99")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.ErrorIs(t, assets.Mint(ctx, e721, "007", alice), types.ErrInvalidInput)
}

func TestBackendRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	require.NoError(t, NewERC20(db).Deploy(ctx, usdc, "USDC", 18))

	err := db.Transaction(func(tx *gorm.DB) error {
		_, tokens := Backend{}.Bind(tx)
		require.NoError(t, tokens.(*ERC20).Mint(ctx, usdc, alice, math.NewInt(5)))
		return types.ErrInvalidState
	})
	require.Error(t, err)

	bal, err := NewERC20(db).BalanceOf(ctx, usdc, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}
