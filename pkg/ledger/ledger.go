// Package ledger is the rental state machine. It tracks every listed asset
// through Listed, Rented and Closed, and drives custody and fund movements
// through the escrow settlement.
//
// Each entry point runs as one database transaction: a failing item aborts
// the whole call and rolls back every row it touched, including the
// collaborator state bound to the same transaction. Calls are serialized per
// Ledger. Collaborators receive a context marked with the running call, and
// a nested entry point call made with it fails with types.ErrReentrantCall.
package ledger

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"renft/pkg/escrow"
	"renft/pkg/fee"
	"renft/pkg/models"
	"renft/pkg/registry"
	"renft/pkg/types"
)

const DefaultMaxBatch = 50

// Observer is notified of every finished entry point call.
type Observer interface {
	ObserveCall(op string, items int, err error)
}

type Ledger struct {
	db         *gorm.DB
	backend    escrow.Backend
	escrow     common.Address
	log        logrus.FieldLogger
	now        func() time.Time
	maxBatch   int
	openClaims bool
	observer   Observer

	// serial admits one call at a time.
	serial sync.Mutex

	mu        sync.RWMutex
	listeners []Listener
}

type Option func(*Ledger)

func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock replaces time.Now, for tests and simulations.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMaxBatch(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxBatch = n
		}
	}
}

// WithOpenClaims lets anyone claim an overdue collateral on the lender's
// behalf. The keeper needs it.
func WithOpenClaims(open bool) Option {
	return func(l *Ledger) { l.openClaims = open }
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// New returns a ledger over db acting through the escrow account escrowAddr.
func New(db *gorm.DB, backend escrow.Backend, escrowAddr common.Address, opts ...Option) *Ledger {
	l := &Ledger{
		db:       db,
		backend:  backend,
		escrow:   escrowAddr,
		log:      logrus.StandardLogger(),
		now:      time.Now,
		maxBatch: DefaultMaxBatch,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) EscrowAddress() common.Address { return l.escrow }

func (l *Ledger) OpenClaims() bool { return l.openClaims }

// Subscribe registers fn for every event committed from now on.
func (l *Ledger) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// call carries the state of one running entry point.
type call struct {
	ctx    context.Context
	tx     *gorm.DB
	settle *escrow.Settlement
	now    time.Time
	events []Event
}

func (c *call) emit(data interface{}) error {
	ev, err := persistEvent(c.tx, data, c.now)
	if err != nil {
		return err
	}
	c.events = append(c.events, ev)
	return nil
}

type inCallKey struct{}

func (l *Ledger) execute(ctx context.Context, op string, caller common.Address, items int, fn func(c *call) error) error {
	if running, _ := ctx.Value(inCallKey{}).(*Ledger); running == l {
		err := errors.Wrapf(types.ErrReentrantCall, "%s from inside a running call", op)
		l.finish(op, caller, items, err)
		return err
	}
	ctx = context.WithValue(ctx, inCallKey{}, l)
	events, err := l.transact(ctx, fn)
	l.finish(op, caller, items, err)
	if err != nil {
		return err
	}
	l.dispatch(events)
	return nil
}

func (l *Ledger) transact(ctx context.Context, fn func(c *call) error) ([]Event, error) {
	l.serial.Lock()
	defer l.serial.Unlock()

	var events []Event
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assets, tokens := l.backend.Bind(tx)
		c := &call{
			ctx:    ctx,
			tx:     tx,
			settle: escrow.NewSettlement(assets, tokens, l.escrow),
			now:    l.now().UTC(),
		}
		if err := fn(c); err != nil {
			return err
		}
		events = c.events
		return nil
	})
	return events, err
}

func (l *Ledger) finish(op string, caller common.Address, items int, err error) {
	if l.observer != nil {
		l.observer.ObserveCall(op, items, err)
	}
	entry := l.log.WithFields(logrus.Fields{"op": op, "caller": caller.Hex(), "items": items})
	if err != nil {
		entry.WithField("code", types.Code(err)).Warnf("call rejected: %v", err)
		return
	}
	entry.Info("call committed")
}

func (l *Ledger) dispatch(events []Event) {
	l.mu.RLock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (l *Ledger) checkBatch(n int) error {
	if n == 0 {
		return errors.Wrap(types.ErrInvalidInput, "empty batch")
	}
	if n > l.maxBatch {
		return errors.Wrapf(types.ErrInvalidInput, "batch of %d exceeds limit %d", n, l.maxBatch)
	}
	return nil
}

func loadParams(tx *gorm.DB) (*models.Params, error) {
	var params models.Params
	err := tx.First(&params).Error
	if errors.IsOf(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(types.ErrInvalidState, "ledger is not initialized")
	}
	if err != nil {
		return nil, err
	}
	return &params, nil
}

func requireController(params *models.Params, caller common.Address) error {
	if params.Controller != caller.Hex() {
		return errors.Wrapf(types.ErrNotAuthorized, "%s is not the controller", caller.Hex())
	}
	return nil
}

// InitParams seeds the administrative state of a fresh ledger.
type InitParams struct {
	Controller  common.Address
	Beneficiary common.Address
	FeeRate     uint16
}

// Init writes the initial parameters. It reports false and changes nothing
// when the ledger was already initialized.
func (l *Ledger) Init(ctx context.Context, p InitParams) (bool, error) {
	if p.Controller == (common.Address{}) || p.Beneficiary == (common.Address{}) {
		return false, errors.Wrap(types.ErrInvalidInput, "controller and beneficiary must be set")
	}
	if p.Beneficiary == l.escrow {
		return false, errors.Wrap(types.ErrInvalidInput, "beneficiary must not be the escrow account")
	}
	if err := fee.ValidateRate(p.FeeRate); err != nil {
		return false, err
	}
	created := false
	err := l.execute(ctx, "init", p.Controller, 0, func(c *call) error {
		var count int64
		if err := c.tx.Model(&models.Params{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		created = true
		return c.tx.Create(&models.Params{
			ID:            1,
			Controller:    p.Controller.Hex(),
			Beneficiary:   p.Beneficiary.Hex(),
			FeeRate:       p.FeeRate,
			NextLendingID: 1,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SetPaymentToken maps a payment token id; a zero address removes it.
func (l *Ledger) SetPaymentToken(ctx context.Context, caller common.Address, id uint8, token common.Address) error {
	return l.execute(ctx, "setPaymentToken", caller, 1, func(c *call) error {
		return registry.Set(c.ctx, c.tx, caller, id, token)
	})
}

func (l *Ledger) SetFeeRate(ctx context.Context, caller common.Address, rateBps uint16) error {
	return l.updateParams(ctx, "setFeeRate", caller, func(p *models.Params) (map[string]interface{}, error) {
		if err := fee.ValidateRate(rateBps); err != nil {
			return nil, err
		}
		return map[string]interface{}{"fee_rate": rateBps}, nil
	})
}

func (l *Ledger) SetBeneficiary(ctx context.Context, caller, beneficiary common.Address) error {
	return l.updateParams(ctx, "setBeneficiary", caller, func(p *models.Params) (map[string]interface{}, error) {
		if beneficiary == (common.Address{}) {
			return nil, errors.Wrap(types.ErrInvalidInput, "beneficiary must not be zero")
		}
		// Fees paid to the escrow itself never register as received.
		if beneficiary == l.escrow {
			return nil, errors.Wrap(types.ErrInvalidInput, "beneficiary must not be the escrow account")
		}
		return map[string]interface{}{"beneficiary": beneficiary.Hex()}, nil
	})
}

// SetPaused stops or resumes lend and rent. Returns, stops and claims keep
// working while paused.
func (l *Ledger) SetPaused(ctx context.Context, caller common.Address, paused bool) error {
	return l.updateParams(ctx, "setPaused", caller, func(p *models.Params) (map[string]interface{}, error) {
		return map[string]interface{}{"paused": paused}, nil
	})
}

// TransferControl hands the controller role to next.
func (l *Ledger) TransferControl(ctx context.Context, caller, next common.Address) error {
	return l.updateParams(ctx, "transferControl", caller, func(p *models.Params) (map[string]interface{}, error) {
		if next == (common.Address{}) {
			return nil, errors.Wrap(types.ErrInvalidInput, "controller must not be zero")
		}
		return map[string]interface{}{"controller": next.Hex()}, nil
	})
}

func (l *Ledger) updateParams(ctx context.Context, op string, caller common.Address,
	change func(p *models.Params) (map[string]interface{}, error)) error {
	return l.execute(ctx, op, caller, 1, func(c *call) error {
		params, err := loadParams(c.tx)
		if err != nil {
			return err
		}
		if err := requireController(params, caller); err != nil {
			return err
		}
		updates, err := change(params)
		if err != nil {
			return err
		}
		return c.tx.Model(params).Updates(updates).Error
	})
}
