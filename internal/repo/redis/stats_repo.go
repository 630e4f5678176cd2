package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	storedCountKeyPrefix = "tgvault:stored:"
	lastStoredAtKey      = "tgvault:last_stored_at"
)

// StatsRepo keeps best-effort processing counters. Nothing here is load
// bearing: a failed write must never fail the record that triggered it.
type StatsRepo struct {
	client *goredis.Client
	now    func() time.Time
}

func NewStatsRepo(client *goredis.Client) *StatsRepo {
	return &StatsRepo{client: client, now: time.Now}
}

func (r *StatsRepo) RecordStored(ctx context.Context, chatID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if chatID == 0 {
		return fmt.Errorf("chat id is required")
	}

	key := storedCountKeyPrefix + strconv.FormatInt(chatID, 10)
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Set(ctx, lastStoredAtKey, r.now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record stored file stats: %w", err)
	}

	return nil
}

func (r *StatsRepo) StoredCount(ctx context.Context, chatID int64) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	key := storedCountKeyPrefix + strconv.FormatInt(chatID, 10)
	count, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("get stored count: %w", err)
	}

	return count, nil
}
