// Package redisstore keeps the rotation cursor in Redis and hands out
// redislock leases, so several processes can share one rotation.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/pfrederiksen/dpwh-projects/internal/storage"
	"github.com/redis/go-redis/v9"
)

// CursorKey is the Redis key of the rotation cursor.
const CursorKey = "dpwh_last_scraped_region_id"

// Cursor implements storage.CursorStore on Redis.
type Cursor struct {
	rdb *redis.Client
	key string
}

var _ storage.CursorStore = (*Cursor)(nil)

// NewCursor creates a Cursor stored under CursorKey.
func NewCursor(rdb *redis.Client) *Cursor {
	return &Cursor{rdb: rdb, key: CursorKey}
}

func (c *Cursor) Get(ctx context.Context) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading cursor: %w", err)
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func (c *Cursor) Set(ctx context.Context, id int64, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key, strconv.FormatInt(id, 10), ttl).Err(); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}

func (c *Cursor) Clear(ctx context.Context) error {
	if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("clearing cursor: %w", err)
	}
	return nil
}

// Locker implements storage.Locker with redislock.
type Locker struct {
	client *redislock.Client
}

var _ storage.Locker = (*Locker)(nil)

// NewLocker creates a Locker on rdb.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{client: redislock.New(rdb)}
}

// Obtain takes the lease without retrying. A held key yields storage.ErrLocked.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (storage.Lease, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, storage.ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtaining lock %s: %w", key, err)
	}
	return lock, nil
}

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return rdb, nil
}
