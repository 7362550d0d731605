package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"riderdispatch/internal/model"
)

const (
	snapshotKey = "dispatch:snapshot"
	historyKey  = "dispatch:history"
)

// Redis implements Store with one JSON snapshot key and a capped history
// list. JSON encodes timestamps as RFC 3339 with nanoseconds and offset.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects using a redis:// URL.
func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisClient(redis.NewClient(opt)), nil
}

func NewRedisClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.rdb.Close() }

func (r *Redis) SaveSnapshot(ctx context.Context, snap model.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, snapshotKey, body, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *Redis) LoadSnapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	body, err := r.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, fmt.Errorf("load snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// AppendHistory pushes newest-first and trims the list to historyCap.
func (r *Redis) AppendHistory(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}
	vals := make([]any, 0, len(orders))
	for _, o := range orders {
		b, err := json.Marshal(o)
		if err != nil {
			return err
		}
		vals = append(vals, b)
	}
	pipe := r.rdb.TxPipeline()
	pipe.LPush(ctx, historyKey, vals...)
	pipe.LTrim(ctx, historyKey, 0, historyCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *Redis) ListHistory(ctx context.Context, limit int) ([]model.Order, error) {
	raw, err := r.rdb.LRange(ctx, historyKey, 0, int64(clampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]model.Order, 0, len(raw))
	for _, s := range raw {
		var o model.Order
		if err := json.Unmarshal([]byte(s), &o); err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		out = append(out, o)
	}
	return out, nil
}
