package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Item is a rental waiting for its due time.
type Item struct {
	LendingID     uint64         `json:"lendingId"`
	AssetContract common.Address `json:"assetContract"`
	TokenID       string         `json:"tokenId"`
	DueAt         time.Time      `json:"dueAt"`
	Attempts      int            `json:"attempts"`
}

// DueQueue orders rentals by due time. Enqueue replaces an item with the
// same LendingID.
type DueQueue interface {
	Enqueue(ctx context.Context, item Item) error
	// Due removes and returns up to limit items whose DueAt is not after now.
	Due(ctx context.Context, now time.Time, limit int) ([]Item, error)
	Remove(ctx context.Context, lendingID uint64) error
	Size(ctx context.Context) (int, error)
}

type Queue struct {
	items []Item
	mu    sync.Mutex
}

func NewQueue() *Queue {
	return &Queue{
		items: make([]Item, 0),
	}
}

var _ DueQueue = (*Queue)(nil)

func (q *Queue) Enqueue(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(item.LendingID)
	i := sort.Search(len(q.items), func(i int) bool { return q.items[i].DueAt.After(item.DueAt) })
	q.items = append(q.items, Item{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
	return nil
}

func (q *Queue) Due(_ context.Context, now time.Time, limit int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(q.items) && !q.items[n].DueAt.After(now) && (limit <= 0 || n < limit) {
		n++
	}
	due := make([]Item, n)
	copy(due, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return due, nil
}

// Peek returns the earliest item without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

func (q *Queue) Remove(_ context.Context, lendingID uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(lendingID)
	return nil
}

func (q *Queue) remove(lendingID uint64) {
	for i, item := range q.items {
		if item.LendingID == lendingID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) Size(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *Queue) GetAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]Item, len(q.items))
	copy(result, q.items)
	return result
}
