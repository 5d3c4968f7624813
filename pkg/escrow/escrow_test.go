package escrow

import (
	"context"
	"fmt"
	"testing"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renft/pkg/types"
)

var (
	self        = common.HexToAddress("0x00000000000000000000000000000000000e5c40")
	lender      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	renter      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	beneficiary = common.HexToAddress("0x3000000000000000000000000000000000000003")
	token       = common.HexToAddress("0x4000000000000000000000000000000000000004")
	nft         = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

type fakeTokens struct {
	balances   map[common.Address]math.Int
	allowances map[common.Address]math.Int
	// cap limits how much a single transfer actually delivers.
	cap math.Int
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{balances: map[common.Address]math.Int{}, allowances: map[common.Address]math.Int{}}
}

func (f *fakeTokens) balance(a common.Address) math.Int {
	if b, ok := f.balances[a]; ok {
		return b
	}
	return math.ZeroInt()
}

func (f *fakeTokens) Decimals(context.Context, common.Address) (uint8, error) { return 18, nil }

func (f *fakeTokens) BalanceOf(_ context.Context, _, holder common.Address) (math.Int, error) {
	return f.balance(holder), nil
}

func (f *fakeTokens) Allowance(_ context.Context, _, owner, _ common.Address) (math.Int, error) {
	if a, ok := f.allowances[owner]; ok {
		return a, nil
	}
	return math.ZeroInt(), nil
}

func (f *fakeTokens) TransferFrom(ctx context.Context, tok, _, from, to common.Address, amount math.Int) error {
	return f.Transfer(ctx, tok, from, to, amount)
}

func (f *fakeTokens) Transfer(_ context.Context, _, from, to common.Address, amount math.Int) error {
	if f.balance(from).LT(amount) {
		return errors.Wrap(types.ErrInsufficientFunds, "fake balance")
	}
	delivered := amount
	if !f.cap.IsNil() && delivered.GT(f.cap) {
		delivered = f.cap
	}
	f.balances[from] = f.balance(from).Sub(amount)
	f.balances[to] = f.balance(to).Add(delivered)
	return nil
}

type fakeAssets struct {
	owners   map[string]common.Address
	approved map[common.Address]bool
	// swallow makes transfers succeed without moving the asset.
	swallow bool
}

func (f *fakeAssets) OwnerOf(_ context.Context, _ common.Address, tokenID string) (common.Address, error) {
	owner, ok := f.owners[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("no token %s", tokenID)
	}
	return owner, nil
}

func (f *fakeAssets) GetApproved(context.Context, common.Address, string) (common.Address, error) {
	return common.Address{}, nil
}

func (f *fakeAssets) IsApprovedForAll(_ context.Context, _, owner, _ common.Address) (bool, error) {
	return f.approved[owner], nil
}

func (f *fakeAssets) TransferFrom(_ context.Context, _, _, from, to common.Address, tokenID string) error {
	if f.owners[tokenID] != from {
		return errors.Wrap(types.ErrNotAuthorized, "not owner")
	}
	if !f.swallow {
		f.owners[tokenID] = to
	}
	return nil
}

func TestTransferIn(t *testing.T) {
	ctx := context.Background()
	tokens := newFakeTokens()
	tokens.balances[renter] = math.NewInt(1000)
	tokens.allowances[renter] = math.NewInt(500)
	s := NewSettlement(&fakeAssets{}, tokens, self)

	require.NoError(t, s.TransferIn(ctx, token, renter, math.NewInt(400)))
	assert.True(t, math.NewInt(400).Equal(tokens.balance(self)))
	assert.True(t, math.NewInt(600).Equal(tokens.balance(renter)))

	err := s.TransferIn(ctx, token, renter, math.NewInt(501))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)

	tokens.allowances[renter] = math.NewInt(10_000)
	err = s.TransferIn(ctx, token, renter, math.NewInt(601))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
}

func TestTransferInShortfall(t *testing.T) {
	ctx := context.Background()
	tokens := newFakeTokens()
	tokens.balances[renter] = math.NewInt(1000)
	tokens.allowances[renter] = math.NewInt(1000)
	tokens.cap = math.NewInt(90)
	s := NewSettlement(&fakeAssets{}, tokens, self)

	err := s.TransferIn(ctx, token, renter, math.NewInt(100))
	assert.ErrorIs(t, err, types.ErrInsufficientFunds)
}

func TestSplitAndPay(t *testing.T) {
	ctx := context.Background()
	tokens := newFakeTokens()
	tokens.balances[self] = math.NewInt(1_500)
	s := NewSettlement(&fakeAssets{}, tokens, self)

	paidFee, principal, err := s.SplitAndPay(ctx, token, math.NewInt(1_500), 250, beneficiary, lender)
	require.NoError(t, err)
	assert.True(t, math.NewInt(37).Equal(paidFee), "fee %s", paidFee)
	assert.True(t, math.NewInt(1_463).Equal(principal), "principal %s", principal)
	assert.True(t, paidFee.Equal(tokens.balance(beneficiary)))
	assert.True(t, principal.Equal(tokens.balance(lender)))
	assert.True(t, tokens.balance(self).IsZero())
}

func TestSplitAndPayZeroFee(t *testing.T) {
	ctx := context.Background()
	tokens := newFakeTokens()
	tokens.balances[self] = math.NewInt(10)
	s := NewSettlement(&fakeAssets{}, tokens, self)

	paidFee, principal, err := s.SplitAndPay(ctx, token, math.NewInt(10), 0, beneficiary, lender)
	require.NoError(t, err)
	assert.True(t, paidFee.IsZero())
	assert.True(t, math.NewInt(10).Equal(principal))
	_, touched := tokens.balances[beneficiary]
	assert.False(t, touched)
}

func TestCustody(t *testing.T) {
	ctx := context.Background()
	assets := &fakeAssets{owners: map[string]common.Address{"1": lender}, approved: map[common.Address]bool{}}
	s := NewSettlement(assets, newFakeTokens(), self)

	ok, err := s.CanTake(ctx, nft, "1", lender)
	require.NoError(t, err)
	assert.False(t, ok)

	assets.approved[lender] = true
	ok, err = s.CanTake(ctx, nft, "1", lender)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.TakeCustody(ctx, nft, "1", lender))
	assert.Equal(t, self, assets.owners["1"])

	require.NoError(t, s.ReleaseCustody(ctx, nft, "1", lender))
	assert.Equal(t, lender, assets.owners["1"])
}

func TestCustodyNotDelivered(t *testing.T) {
	ctx := context.Background()
	assets := &fakeAssets{owners: map[string]common.Address{"1": lender}, swallow: true}
	s := NewSettlement(assets, newFakeTokens(), self)

	err := s.TakeCustody(ctx, nft, "1", lender)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}
