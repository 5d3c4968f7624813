package registry

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"renft/pkg/database"
	"renft/pkg/models"
	"renft/pkg/types"
)

var (
	controller = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	stranger   = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	bnb        = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	usdc       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Params{ID: 1, Controller: controller.Hex(), Beneficiary: controller.Hex(), NextLendingID: 1}).Error)
	return db
}

func TestSetAndResolve(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, err := Resolve(ctx, db, 1)
	assert.ErrorIs(t, err, types.ErrUnresolvedPaymentToken)

	require.NoError(t, Set(ctx, db, controller, 1, bnb))
	require.NoError(t, Set(ctx, db, controller, 2, usdc))
	addr, err := Resolve(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, bnb, addr)

	require.NoError(t, Set(ctx, db, controller, 1, usdc))
	addr, err = Get(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, usdc, addr)

	entries, err := List(ctx, db)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, uint8(1), entries[0].ID)

	require.NoError(t, Set(ctx, db, controller, 1, common.Address{}))
	_, err = Resolve(ctx, db, 1)
	assert.ErrorIs(t, err, types.ErrUnresolvedPaymentToken)
}

func TestSetRejects(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	assert.ErrorIs(t, Set(ctx, db, stranger, 1, bnb), types.ErrNotAuthorized)
	assert.ErrorIs(t, Set(ctx, db, controller, types.SentinelPaymentToken, bnb), types.ErrInvalidInput)

	_, err := Resolve(ctx, db, types.SentinelPaymentToken)
	assert.ErrorIs(t, err, types.ErrUnresolvedPaymentToken)
}
