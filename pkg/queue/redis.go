package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
)

const redisTimeout = 5 * time.Second

// RedisQueue keeps due items in a sorted set scored by due time, with the
// item bodies in a hash next to it, so the queue survives restarts and can
// be shared between replicas.
type RedisQueue struct {
	cli   *redis.Client
	key   string
	items string
}

func NewRedisQueue(cli *redis.Client, key string) *RedisQueue {
	return &RedisQueue{cli: cli, key: key, items: key + ":items"}
}

var _ DueQueue = (*RedisQueue)(nil)

func member(id uint64) string { return strconv.FormatUint(id, 10) }

func (q *RedisQueue) Enqueue(ctx context.Context, item Item) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	_, err = q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, q.key, &redis.Z{Score: float64(item.DueAt.Unix()), Member: member(item.LendingID)})
		p.HSet(ctx, q.items, member(item.LendingID), body)
		return nil
	})
	return err
}

func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.Unix(), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := q.cli.ZRangeByScore(ctx, q.key, by).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	bodies, err := q.cli.HMGet(ctx, q.items, ids...).Result()
	if err != nil {
		return nil, err
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	_, err = q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key, members...)
		p.HDel(ctx, q.items, ids...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(ids))
	for i, body := range bodies {
		s, ok := body.(string)
		if !ok {
			// Body lost; keep what the set knows.
			id, _ := strconv.ParseUint(ids[i], 10, 64)
			items = append(items, Item{LendingID: id})
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *RedisQueue) Remove(ctx context.Context, lendingID uint64) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.key, member(lendingID))
		p.HDel(ctx, q.items, member(lendingID))
		return nil
	})
	return err
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	n, err := q.cli.ZCard(ctx, q.key).Result()
	return int(n), err
}
