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

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Lending struct {
	ID              uint64         `json:"lendingId"`
	LenderAddress   common.Address `json:"lenderAddress"`
	AssetContract   common.Address `json:"assetContract"`
	TokenID         string         `json:"tokenId"`
	MaxRentDuration uint8          `json:"maxRentDuration"`
	DailyRentPrice  price.Packed   `json:"dailyRentPrice"`
	CollateralPrice price.Packed   `json:"collateralPrice"`
	PaymentTokenID  uint8          `json:"paymentTokenId"`
	State           string         `json:"state"`
	CreatedAt       time.Time      `json:"createdAt"`
	ClosedAt        *time.Time     `json:"closedAt,omitempty"`
	Renting         *Renting       `json:"renting,omitempty"`
}

type Renting struct {
	LendingID        uint64         `json:"lendingId"`
	RenterAddress    common.Address `json:"renterAddress"`
	RentDuration     uint8          `json:"rentDuration"`
	RentedAt         time.Time      `json:"rentedAt"`
	DueAt            time.Time      `json:"dueAt"`
	PaymentToken     common.Address `json:"paymentToken"`
	RentAmount       math.Int       `json:"rentAmount"`
	CollateralAmount math.Int       `json:"collateralAmount"`
	ReturnedAt       *time.Time     `json:"returnedAt,omitempty"`
	ClaimedAt        *time.Time     `json:"claimedAt,omitempty"`
	Finalized        bool           `json:"finalized"`
}

type Params struct {
	Controller    common.Address   `json:"controller"`
	Beneficiary   common.Address   `json:"beneficiary"`
	FeeRate       uint16           `json:"feeRate"`
	Paused        bool             `json:"paused"`
	NextLendingID uint64           `json:"nextLendingId"`
	Escrow        common.Address   `json:"escrow"`
	OpenClaims    bool             `json:"openClaims"`
	PaymentTokens []registry.Entry `json:"paymentTokens"`
}

// Filter narrows ListLendings. Zero fields match everything.
type Filter struct {
	Lender        common.Address
	Renter        common.Address
	AssetContract common.Address
	State         string
	Page          int
	Size          int
}

type Page struct {
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func toLending(m *models.Lending) (*Lending, error) {
	out := &Lending{
		ID:              m.ID,
		LenderAddress:   common.HexToAddress(m.LenderAddress),
		AssetContract:   common.HexToAddress(m.AssetContract),
		TokenID:         m.TokenID,
		MaxRentDuration: m.MaxRentDuration,
		DailyRentPrice:  price.Packed(m.DailyRentPrice),
		CollateralPrice: price.Packed(m.CollateralPrice),
		PaymentTokenID:  m.PaymentTokenID,
		State:           m.State,
		CreatedAt:       m.CreatedAt,
		ClosedAt:        m.ClosedAt,
	}
	if m.Renting != nil {
		r, err := toRenting(m.Renting)
		if err != nil {
			return nil, err
		}
		out.Renting = r
	}
	return out, nil
}

func toRenting(m *models.Renting) (*Renting, error) {
	t, err := termsOf(m)
	if err != nil {
		return nil, err
	}
	return &Renting{
		LendingID:        m.LendingID,
		RenterAddress:    common.HexToAddress(m.RenterAddress),
		RentDuration:     m.RentDuration,
		RentedAt:         m.RentedAt,
		DueAt:            m.DueAt,
		PaymentToken:     t.token,
		RentAmount:       t.rent,
		CollateralAmount: t.collateral,
		ReturnedAt:       m.ReturnedAt,
		ClaimedAt:        m.ClaimedAt,
		Finalized:        m.Finalized(),
	}, nil
}

func (l *Ledger) GetLending(ctx context.Context, id uint64) (*Lending, error) {
	var m models.Lending
	err := l.db.WithContext(ctx).Preload("Renting").First(&m, id).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(types.ErrNotFound, "lending %d", id)
	}
	if err != nil {
		return nil, err
	}
	return toLending(&m)
}

func (l *Ledger) ListLendings(ctx context.Context, f Filter) ([]*Lending, Page, error) {
	page, size := normalizePage(f.Page, f.Size)
	q := l.db.WithContext(ctx).Model(&models.Lending{})
	if f.Lender != (common.Address{}) {
		q = q.Where("lender_address = ?", f.Lender.Hex())
	}
	if f.AssetContract != (common.Address{}) {
		q = q.Where("asset_contract = ?", f.AssetContract.Hex())
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Renter != (common.Address{}) {
		q = q.Where("id IN (?)", l.db.WithContext(ctx).Model(&models.Renting{}).
			Select("lending_id").Where("renter_address = ?", f.Renter.Hex()))
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Page{}, err
	}
	var rows []models.Lending
	if err := q.Preload("Renting").Order("id").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, Page{}, err
	}
	out := make([]*Lending, 0, len(rows))
	for i := range rows {
		v, err := toLending(&rows[i])
		if err != nil {
			return nil, Page{}, err
		}
		out = append(out, v)
	}
	return out, Page{Page: page, Size: size, Total: total}, nil
}

func (l *Ledger) GetRenting(ctx context.Context, lendingID uint64) (*Renting, error) {
	var m models.Renting
	err := l.db.WithContext(ctx).Where("lending_id = ?", lendingID).First(&m).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(types.ErrNotFound, "renting of lending %d", lendingID)
	}
	if err != nil {
		return nil, err
	}
	return toRenting(&m)
}

// CurrentUser returns who may use the asset right now: the renter of an
// active, not yet overdue rental, otherwise the zero address.
func (l *Ledger) CurrentUser(ctx context.Context, contract common.Address, tokenID string) (common.Address, error) {
	active, err := activeLending(l.db.WithContext(ctx), contract, tokenID)
	if err != nil || active == nil || active.State != models.LendingRented {
		return common.Address{}, err
	}
	var r models.Renting
	if err := l.db.WithContext(ctx).Where("lending_id = ?", active.ID).First(&r).Error; err != nil {
		return common.Address{}, err
	}
	if l.now().After(r.DueAt) {
		return common.Address{}, nil
	}
	return common.HexToAddress(r.RenterAddress), nil
}

// Events lists persisted events, oldest first. A zero lendingID lists all.
func (l *Ledger) Events(ctx context.Context, lendingID uint64, page, size int) ([]Event, Page, error) {
	page, size = normalizePage(page, size)
	q := l.db.WithContext(ctx).Model(&models.Event{})
	if lendingID != 0 {
		q = q.Where("lending_id = ?", lendingID)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, Page{}, err
	}
	var rows []models.Event
	if err := q.Order("id").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, Page{}, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := decodeEvent(row)
		if err != nil {
			return nil, Page{}, err
		}
		out = append(out, ev)
	}
	return out, Page{Page: page, Size: size, Total: total}, nil
}

func (l *Ledger) Params(ctx context.Context) (*Params, error) {
	p, err := loadParams(l.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	tokens, err := registry.List(ctx, l.db)
	if err != nil {
		return nil, err
	}
	return &Params{
		Controller:    common.HexToAddress(p.Controller),
		Beneficiary:   common.HexToAddress(p.Beneficiary),
		FeeRate:       p.FeeRate,
		Paused:        p.Paused,
		NextLendingID: p.NextLendingID,
		Escrow:        l.escrow,
		OpenClaims:    l.openClaims,
		PaymentTokens: tokens,
	}, nil
}

// Quote prices a rent of days days on a listed lending without moving funds.
func (l *Ledger) Quote(ctx context.Context, lendingID uint64, days uint8) (*Quote, error) {
	db := l.db.WithContext(ctx)
	var m models.Lending
	err := db.First(&m, lendingID).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrapf(types.ErrNotFound, "lending %d", lendingID)
	}
	if err != nil {
		return nil, err
	}
	if m.State != models.LendingListed {
		return nil, errors.Wrapf(types.ErrInvalidState, "lending %d is %s, not listed", m.ID, m.State)
	}
	assets, tokens := l.backend.Bind(db)
	return quote(ctx, db, escrow.NewSettlement(assets, tokens, l.escrow), &m, days)
}

// ActiveRentals lists every rented lending with its renting, earliest due
// first. The keeper reloads its queue from it.
func (l *Ledger) ActiveRentals(ctx context.Context) ([]*Lending, error) {
	var rows []models.Lending
	err := l.db.WithContext(ctx).Select("lendings.*").Preload("Renting").
		Joins("JOIN rentings ON rentings.lending_id = lendings.id").
		Where("lendings.state = ?", models.LendingRented).
		Order("rentings.due_at").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*Lending, 0, len(rows))
	for i := range rows {
		v, err := toLending(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
