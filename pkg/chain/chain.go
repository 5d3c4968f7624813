// Package chain provides database-backed asset and payment token contracts.
// They implement the escrow collaborator interfaces on a gorm handle, so when
// bound to a ledger transaction their effects commit or roll back with it.
package chain

import (
	"context"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"renft/pkg/escrow"
	"renft/pkg/types"
)

// FaucetWholeTokens is how many whole tokens one faucet call mints.
const FaucetWholeTokens = 100_000

// Backend binds the simulated contracts to a transaction.
type Backend struct{}

func (Backend) Bind(tx *gorm.DB) (escrow.Assets, escrow.Tokens) {
	return NewERC721(tx), NewERC20(tx)
}

var _ escrow.Backend = Backend{}

func key(a common.Address) string { return a.Hex() }

func parseAmount(s string) (math.Int, error) {
	if s == "" {
		return math.ZeroInt(), nil
	}
	v, ok := math.NewIntFromString(s)
	if !ok {
		return math.Int{}, errors.Wrapf(types.ErrInvalidState, "corrupt stored amount %q", s)
	}
	return v, nil
}

func requireNonNegative(amount math.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return errors.Wrap(types.ErrInvalidInput, "amount must not be negative")
	}
	return nil
}

func withCtx(ctx context.Context, db *gorm.DB) *gorm.DB {
	if ctx == nil {
		return db
	}
	return db.WithContext(ctx)
}
