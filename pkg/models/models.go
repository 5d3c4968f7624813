package models

import (
	"time"
)

const (
	LendingListed = "LISTED"
	LendingRented = "RENTED"
	LendingClosed = "CLOSED"
)

type Lending struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement:false"`
	LenderAddress   string `gorm:"size:42;not null;index"`
	AssetContract   string `gorm:"size:42;not null;index:idx_lendings_asset"`
	TokenID         string `gorm:"size:78;not null;index:idx_lendings_asset"`
	MaxRentDuration uint8  `gorm:"not null"`
	DailyRentPrice  uint32 `gorm:"not null"`
	CollateralPrice uint32 `gorm:"not null"`
	PaymentTokenID  uint8  `gorm:"not null"`
	State           string `gorm:"size:20;not null;index"`
	ClosedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Renting *Renting `gorm:"foreignKey:LendingID"`
}

type Renting struct {
	ID            uint   `gorm:"primaryKey"`
	LendingID     uint64 `gorm:"uniqueIndex;not null"`
	RenterAddress string `gorm:"size:42;not null;index"`
	RentDuration  uint8  `gorm:"not null"`
	RentedAt      time.Time
	DueAt         time.Time `gorm:"index"`
	// Settlement terms frozen at rent time, amounts in token base units.
	PaymentToken     string `gorm:"size:42;not null"`
	RentAmount       string `gorm:"size:80;not null"`
	CollateralAmount string `gorm:"size:80;not null"`
	ReturnedAt       *time.Time
	ClaimedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Finalized reports whether the renting was ended by a return or a claim.
func (r *Renting) Finalized() bool {
	return r.ReturnedAt != nil || r.ClaimedAt != nil
}

// Params is the singleton row holding administrative state.
type Params struct {
	ID            uint   `gorm:"primaryKey"`
	Controller    string `gorm:"size:42;not null"`
	Beneficiary   string `gorm:"size:42;not null"`
	FeeRate       uint16 `gorm:"not null;default:0"`
	Paused        bool   `gorm:"not null;default:false"`
	NextLendingID uint64 `gorm:"not null;default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PaymentToken struct {
	ID        uint8  `gorm:"primaryKey;autoIncrement:false"`
	Address   string `gorm:"size:42;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Event struct {
	ID        uint   `gorm:"primaryKey"`
	EventUid  string `gorm:"type:uuid;uniqueIndex;not null"`
	Kind      string `gorm:"size:40;not null;index"`
	LendingID uint64 `gorm:"not null;index"`
	Payload   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

// Tables below back the in-process asset and payment token contracts.

type TokenContract struct {
	Address   string `gorm:"primaryKey;size:42"`
	Symbol    string `gorm:"size:20;not null"`
	Decimals  uint8  `gorm:"not null"`
	CreatedAt time.Time
}

type TokenBalance struct {
	ID     uint   `gorm:"primaryKey"`
	Token  string `gorm:"size:42;not null;uniqueIndex:idx_token_balance"`
	Holder string `gorm:"size:42;not null;uniqueIndex:idx_token_balance"`
	Amount string `gorm:"size:80;not null"`
}

type TokenAllowance struct {
	ID      uint   `gorm:"primaryKey"`
	Token   string `gorm:"size:42;not null;uniqueIndex:idx_token_allowance"`
	Owner   string `gorm:"size:42;not null;uniqueIndex:idx_token_allowance"`
	Spender string `gorm:"size:42;not null;uniqueIndex:idx_token_allowance"`
	Amount  string `gorm:"size:80;not null"`
}

type Asset struct {
	ID        uint   `gorm:"primaryKey"`
	Contract  string `gorm:"size:42;not null;uniqueIndex:idx_asset"`
	TokenID   string `gorm:"size:78;not null;uniqueIndex:idx_asset"`
	Owner     string `gorm:"size:42;not null;index"`
	Approved  string `gorm:"size:42"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AssetOperator struct {
	ID       uint   `gorm:"primaryKey"`
	Contract string `gorm:"size:42;not null;uniqueIndex:idx_asset_operator"`
	Owner    string `gorm:"size:42;not null;uniqueIndex:idx_asset_operator"`
	Operator string `gorm:"size:42;not null;uniqueIndex:idx_asset_operator"`
	Approved bool   `gorm:"not null"`
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{
		&Params{}, &PaymentToken{}, &Lending{}, &Renting{}, &Event{},
		&TokenContract{}, &TokenBalance{}, &TokenAllowance{}, &Asset{}, &AssetOperator{},
	}
}
