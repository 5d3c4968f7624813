// Package keeper claims the collateral of overdue rentals on behalf of their
// lenders. It needs a ledger running with open collateral claims.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"renft/pkg/circuitbreaker"
	"renft/pkg/ledger"
	"renft/pkg/queue"
	"renft/pkg/types"
)

const (
	ResultClaimed  = "claimed"
	ResultDropped  = "dropped"
	ResultDeferred = "deferred"
	ResultFailed   = "failed"
)

const DefaultBatch = 20

// Ledger is the part of *ledger.Ledger the keeper drives.
type Ledger interface {
	OpenClaims() bool
	Subscribe(fn ledger.Listener)
	ActiveRentals(ctx context.Context) ([]*ledger.Lending, error)
	ClaimCollateral(ctx context.Context, caller common.Address, items []ledger.RefItem) error
}

// Recorder receives keeper metrics.
type Recorder interface {
	KeeperClaim(result string)
	KeeperQueue(size int)
}

type nopRecorder struct{}

func (nopRecorder) KeeperClaim(string) {}
func (nopRecorder) KeeperQueue(int)    {}

type Keeper struct {
	ledger  Ledger
	queue   queue.DueQueue
	breaker *circuitbreaker.CircuitBreaker
	caller  common.Address
	log     logrus.FieldLogger
	rec     Recorder
	now     func() time.Time
	batch   int

	cron *cron.Cron
	// tick keeps scheduled and manual runs from overlapping.
	tick sync.Mutex
}

type Option func(*Keeper)

func WithLogger(log logrus.FieldLogger) Option {
	return func(k *Keeper) { k.log = log }
}

func WithRecorder(rec Recorder) Option {
	return func(k *Keeper) { k.rec = rec }
}

func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

func WithBatch(n int) Option {
	return func(k *Keeper) {
		if n > 0 {
			k.batch = n
		}
	}
}

// WithBreaker replaces the default breaker (5 failures, 2 minute reset).
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(k *Keeper) { k.breaker = cb }
}

// New returns a keeper claiming as caller. Only infrastructure errors count
// against the breaker; rejections with a ledger code do not.
func New(l Ledger, q queue.DueQueue, caller common.Address, opts ...Option) (*Keeper, error) {
	if !l.OpenClaims() {
		return nil, errors.Wrap(types.ErrInvalidState, "keeper requires open collateral claims")
	}
	k := &Keeper{
		ledger: l,
		queue:  q,
		caller: caller,
		log:    logrus.StandardLogger(),
		rec:    nopRecorder{},
		now:    time.Now,
		batch:  DefaultBatch,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.breaker == nil {
		k.breaker = NewBreaker(5, 2*time.Minute)
	}
	return k, nil
}

// NewBreaker builds a breaker that ignores ledger rejections.
func NewBreaker(maxFailures int, reset time.Duration, opts ...circuitbreaker.Option) *circuitbreaker.CircuitBreaker {
	opts = append([]circuitbreaker.Option{circuitbreaker.WithFailureFilter(func(err error) bool {
		return types.Code(err) == 0
	})}, opts...)
	return circuitbreaker.NewCircuitBreaker(maxFailures, reset, opts...)
}

// Attach subscribes the keeper to ledger events.
func (k *Keeper) Attach() {
	k.ledger.Subscribe(k.OnEvent)
}

// OnEvent tracks rentals as they start and end.
func (k *Keeper) OnEvent(ev ledger.Event) {
	ctx := context.Background()
	var err error
	switch d := ev.Data.(type) {
	case *ledger.Rented:
		err = k.queue.Enqueue(ctx, queue.Item{
			LendingID:     d.LendingID,
			AssetContract: d.AssetContract,
			TokenID:       d.TokenID,
			DueAt:         d.DueAt,
		})
	case *ledger.Returned:
		err = k.queue.Remove(ctx, d.LendingID)
	case *ledger.CollateralClaimed:
		err = k.queue.Remove(ctx, d.LendingID)
	default:
		return
	}
	if err != nil {
		k.log.WithFields(logrus.Fields{"kind": ev.Kind, "lendingId": ev.LendingID}).Errorf("keeper queue update failed: %v", err)
		return
	}
	k.reportSize(ctx)
}

// Reload enqueues every active rental, for a fresh queue after restart.
func (k *Keeper) Reload(ctx context.Context) (int, error) {
	active, err := k.ledger.ActiveRentals(ctx)
	if err != nil {
		return 0, err
	}
	for _, l := range active {
		if l.Renting == nil {
			continue
		}
		item := queue.Item{LendingID: l.ID, AssetContract: l.AssetContract, TokenID: l.TokenID, DueAt: l.Renting.DueAt}
		if err := k.queue.Enqueue(ctx, item); err != nil {
			return 0, err
		}
	}
	k.reportSize(ctx)
	k.log.WithField("rentals", len(active)).Info("keeper queue reloaded")
	return len(active), nil
}

// Summary counts the outcomes of one tick.
type Summary map[string]int

// Tick claims every rental due by now, up to the batch size.
func (k *Keeper) Tick(ctx context.Context) (Summary, error) {
	k.tick.Lock()
	defer k.tick.Unlock()

	sum := Summary{}
	due, err := k.queue.Due(ctx, k.now(), k.batch)
	if err != nil {
		return sum, err
	}
	for i, item := range due {
		result := k.claim(ctx, item)
		sum[result]++
		k.rec.KeeperClaim(result)
		if k.breaker.GetState() == circuitbreaker.StateOpen {
			// Put back what is left for a later tick.
			for _, rest := range due[i+1:] {
				if err := k.queue.Enqueue(ctx, rest); err != nil {
					return sum, err
				}
				sum[ResultDeferred]++
				k.rec.KeeperClaim(ResultDeferred)
			}
			break
		}
	}
	k.reportSize(ctx)
	if len(due) > 0 {
		k.log.WithField("results", fmt.Sprint(map[string]int(sum))).Info("keeper tick")
	}
	return sum, nil
}

func (k *Keeper) claim(ctx context.Context, item queue.Item) string {
	entry := k.log.WithFields(logrus.Fields{"lendingId": item.LendingID, "attempts": item.Attempts})
	ref := []ledger.RefItem{{AssetContract: item.AssetContract, TokenID: item.TokenID, LendingID: item.LendingID}}
	err := k.breaker.Execute(ctx, func(ctx context.Context) error {
		return k.ledger.ClaimCollateral(ctx, k.caller, ref)
	})
	switch {
	case err == nil:
		return ResultClaimed
	case errors.IsOf(err, types.ErrInvalidState, types.ErrInvalidInput):
		// Returned, claimed or stopped since it was queued.
		entry.Debugf("dropping rental: %v", err)
		return ResultDropped
	case errors.IsOf(err, types.ErrNotYetDue):
		// Clock skew between the queue and the ledger.
		k.requeue(ctx, entry, item)
		return ResultDeferred
	case errors.IsOf(err, circuitbreaker.ErrOpen):
		k.requeue(ctx, entry, item)
		return ResultDeferred
	default:
		entry.Warnf("claim failed: %v", err)
		item.Attempts++
		k.requeue(ctx, entry, item)
		return ResultFailed
	}
}

func (k *Keeper) requeue(ctx context.Context, entry logrus.FieldLogger, item queue.Item) {
	if err := k.queue.Enqueue(ctx, item); err != nil {
		entry.Errorf("requeue failed: %v", err)
	}
}

func (k *Keeper) reportSize(ctx context.Context) {
	if n, err := k.queue.Size(ctx); err == nil {
		k.rec.KeeperQueue(n)
	}
}

// Start runs Tick on schedule, a cron spec such as "@every 1m".
func (k *Keeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := k.Tick(context.Background()); err != nil {
			k.log.Errorf("keeper tick failed: %v", err)
		}
	})
	if err != nil {
		return errors.Wrapf(types.ErrInvalidInput, "keeper schedule %q: %v", schedule, err)
	}
	k.cron = c
	c.Start()
	k.log.WithField("schedule", schedule).Info("keeper started")
	return nil
}

// Stop halts the schedule and waits for a running tick.
func (k *Keeper) Stop() {
	if k.cron == nil {
		return
	}
	<-k.cron.Stop().Done()
	k.log.Info("keeper stopped")
}
