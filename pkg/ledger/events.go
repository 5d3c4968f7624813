package ledger

import (
	"time"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"renft/pkg/models"
	"renft/pkg/price"
	"renft/pkg/types"
)

const (
	KindLent              = "Lent"
	KindRented            = "Rented"
	KindReturned          = "Returned"
	KindCollateralClaimed = "CollateralClaimed"
	KindLendingStopped    = "LendingStopped"
)

// Event is one persisted ledger event. Data holds the payload struct matching
// Kind.
type Event struct {
	UID       string      `json:"uid"`
	Kind      string      `json:"kind"`
	LendingID uint64      `json:"lendingId"`
	Data      interface{} `json:"data"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Lent struct {
	LendingID       uint64         `json:"lendingId"`
	LenderAddress   common.Address `json:"lenderAddress"`
	AssetContract   common.Address `json:"assetContract"`
	TokenID         string         `json:"tokenId"`
	MaxRentDuration uint8          `json:"maxRentDuration"`
	DailyRentPrice  price.Packed   `json:"dailyRentPrice"`
	CollateralPrice price.Packed   `json:"collateralPrice"`
	PaymentTokenID  uint8          `json:"paymentTokenId"`
}

type Rented struct {
	LendingID        uint64         `json:"lendingId"`
	AssetContract    common.Address `json:"assetContract"`
	TokenID          string         `json:"tokenId"`
	RenterAddress    common.Address `json:"renterAddress"`
	RentDuration     uint8          `json:"rentDuration"`
	RentedAt         time.Time      `json:"rentedAt"`
	DueAt            time.Time      `json:"dueAt"`
	PaymentToken     common.Address `json:"paymentToken"`
	RentAmount       math.Int       `json:"rentAmount"`
	CollateralAmount math.Int       `json:"collateralAmount"`
}

type Returned struct {
	LendingID    uint64         `json:"lendingId"`
	ReturnedAt   time.Time      `json:"returnedAt"`
	PaymentToken common.Address `json:"paymentToken"`
	Fee          math.Int       `json:"fee"`
}

type CollateralClaimed struct {
	LendingID    uint64         `json:"lendingId"`
	ClaimedAt    time.Time      `json:"claimedAt"`
	PaymentToken common.Address `json:"paymentToken"`
	Fee          math.Int       `json:"fee"`
}

type LendingStopped struct {
	LendingID uint64 `json:"lendingId"`
}

// Listener receives the events of a call after it committed.
type Listener func(Event)

func kindOf(data interface{}) (string, uint64) {
	switch d := data.(type) {
	case *Lent:
		return KindLent, d.LendingID
	case *Rented:
		return KindRented, d.LendingID
	case *Returned:
		return KindReturned, d.LendingID
	case *CollateralClaimed:
		return KindCollateralClaimed, d.LendingID
	case *LendingStopped:
		return KindLendingStopped, d.LendingID
	}
	panic("ledger: unknown event payload")
}

func persistEvent(tx *gorm.DB, data interface{}, at time.Time) (Event, error) {
	kind, lendingID := kindOf(data)
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, errors.Wrapf(err, "encode %s event", kind)
	}
	row := models.Event{
		EventUid:  uuid.NewString(),
		Kind:      kind,
		LendingID: lendingID,
		Payload:   string(payload),
		CreatedAt: at,
	}
	if err := tx.Create(&row).Error; err != nil {
		return Event{}, err
	}
	return Event{UID: row.EventUid, Kind: kind, LendingID: lendingID, Data: data, CreatedAt: at}, nil
}

func decodeEvent(row models.Event) (Event, error) {
	var data interface{}
	switch row.Kind {
	case KindLent:
		data = &Lent{}
	case KindRented:
		data = &Rented{}
	case KindReturned:
		data = &Returned{}
	case KindCollateralClaimed:
		data = &CollateralClaimed{}
	case KindLendingStopped:
		data = &LendingStopped{}
	default:
		return Event{}, errors.Wrapf(types.ErrInvalidState, "unknown event kind %q", row.Kind)
	}
	if err := json.Unmarshal([]byte(row.Payload), data); err != nil {
		return Event{}, errors.Wrapf(err, "decode event %s", row.EventUid)
	}
	return Event{UID: row.EventUid, Kind: row.Kind, LendingID: row.LendingID, Data: data, CreatedAt: row.CreatedAt}, nil
}
