package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/postforge/internal/core/domain"
)

const failedRunTTL = 7 * 24 * time.Hour

// FailedRunRepo indexes aborted runs in Redis, newest first.
type FailedRunRepo struct {
	rdb    *redis.Client
	prefix string
}

// NewFailedRunRepo creates a new Redis-backed failed run index.
func NewFailedRunRepo(client *Client) *FailedRunRepo {
	return &FailedRunRepo{
		rdb:    client.rdb,
		prefix: client.keyPrefix,
	}
}

// Key helpers
func (r *FailedRunRepo) indexKey() string {
	return fmt.Sprintf("%s:failed_runs", r.prefix)
}

func (r *FailedRunRepo) runKey(id string) string {
	return fmt.Sprintf("%s:failed_run:%s", r.prefix, id)
}

// Add records a failed run. The index is scored by failure time.
func (r *FailedRunRepo) Add(ctx context.Context, fr domain.FailedRun) error {
	data, err := json.Marshal(fr)
	if err != nil {
		return fmt.Errorf("failed to marshal failed run: %w", err)
	}

	if err := r.rdb.Set(ctx, r.runKey(fr.RunID), data, failedRunTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed run: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(fr.FailedAt.Unix()),
		Member: fr.RunID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to index: %w", err)
	}

	return nil
}

// List returns up to limit failed runs, newest first.
func (r *FailedRunRepo) List(ctx context.Context, limit int64) ([]domain.FailedRun, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	runs := make([]domain.FailedRun, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.Get(ctx, r.runKey(id)).Bytes()
		if err == redis.Nil {
			// Data expired but ID still indexed, remove it
			r.rdb.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed run: %w", err)
		}

		var fr domain.FailedRun
		if err := json.Unmarshal(data, &fr); err != nil {
			continue
		}
		runs = append(runs, fr)
	}

	return runs, nil
}

// Remove drops a run from the index.
func (r *FailedRunRepo) Remove(ctx context.Context, runID string) error {
	if err := r.rdb.ZRem(ctx, r.indexKey(), runID).Err(); err != nil {
		return fmt.Errorf("failed to remove from index: %w", err)
	}
	if err := r.rdb.Del(ctx, r.runKey(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed run: %w", err)
	}
	return nil
}
