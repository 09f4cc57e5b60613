package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gambit/presence-service/config"
	"gambit/presence-service/models"
	"gambit/presence-service/utils"
)

const (
	presenceKeyPrefix = "presence:user:"
	onlineIndexKey    = "presence:online_index"
)

// PresenceStore keeps two Redis structures per the dual-structure design:
// an expiring flag key per user (the single source of truth for "is X
// online") and a sorted-set index by last-active time for "who is online"
// range queries. The index may lag the flags; the sweeper bounds the drift
// to one sweep interval.
type PresenceStore struct {
	redis    *redis.Client
	logger   *utils.Logger
	ttl      time.Duration
	batchMax int

	// clock is overridable in tests
	clock func() time.Time
}

func NewPresenceStore(redisClient *redis.Client, cfg *config.Config, logger *utils.Logger) *PresenceStore {
	batchMax := cfg.BatchCheckMax
	if batchMax < 1 {
		batchMax = 500
	}
	return &PresenceStore{
		redis:    redisClient,
		logger:   logger,
		ttl:      cfg.PresenceTTL,
		batchMax: batchMax,
		clock:    time.Now,
	}
}

// TTL returns the threshold window after last activity during which a user
// counts as online.
func (ps *PresenceStore) TTL() time.Duration {
	return ps.ttl
}

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

// MarkOnline refreshes the expiring presence flag for userID and upserts the
// online index entry in a single pipeline. It reports whether the user was
// already online before the write, so the caller can publish a delta only on
// the offline-to-online transition. Last write wins; concurrent calls for the
// same user commute because timestamps are monotonic in practice.
func (ps *PresenceStore) MarkOnline(ctx context.Context, userID string, now time.Time) (bool, error) {
	pipe := ps.redis.Pipeline()
	existsCmd := pipe.Exists(ctx, presenceKey(userID))
	pipe.Set(ctx, presenceKey(userID), now.UTC().Format(time.RFC3339Nano), ps.ttl)
	pipe.ZAdd(ctx, onlineIndexKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: userID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to mark user online: %w", err)
	}

	return existsCmd.Val() > 0, nil
}

// IsOnline is the authoritative single-user presence check: the flag key
// exists iff the user pinged within the threshold window.
func (ps *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	exists, err := ps.redis.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// BatchCheck pipelines existence checks for all ids, splitting into
// sub-batches above batchMax. A single id's lookup error yields StateUnknown
// for that id only; the rest of the batch completes normally. The result
// always holds exactly one state per input id.
func (ps *PresenceStore) BatchCheck(ctx context.Context, userIDs []string) map[string]models.PresenceState {
	result := make(map[string]models.PresenceState, len(userIDs))

	for start := 0; start < len(userIDs); start += ps.batchMax {
		end := start + ps.batchMax
		if end > len(userIDs) {
			end = len(userIDs)
		}
		chunk := userIDs[start:end]

		pipe := ps.redis.Pipeline()
		cmds := make([]*redis.IntCmd, len(chunk))
		for i, userID := range chunk {
			cmds[i] = pipe.Exists(ctx, presenceKey(userID))
		}

		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			ps.logger.Warn("presence batch check pipeline failed", "error", err, "batch_size", len(chunk))
		}

		for i, cmd := range cmds {
			switch exists, err := cmd.Result(); {
			case err != nil:
				result[chunk[i]] = models.StateUnknown
			case exists > 0:
				result[chunk[i]] = models.StateOnline
			default:
				result[chunk[i]] = models.StateOffline
			}
		}
	}

	return result
}

// OnlineSince range-queries the online index for users active within the
// threshold window, most recent first, truncated to limit. Because the index
// can lag true expiry this is an upper bound; callers needing exactness must
// re-verify the returned ids with IsOnline or BatchCheck.
func (ps *PresenceStore) OnlineSince(ctx context.Context, limit int) ([]models.OnlineEntry, error) {
	cutoff := ps.clock().Add(-ps.ttl).UnixMilli()

	zs, err := ps.redis.ZRevRangeByScoreWithScores(ctx, onlineIndexKey, &redis.ZRangeBy{
		Min:    strconv.FormatInt(cutoff, 10),
		Max:    "+inf",
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range online index: %w", err)
	}

	entries := make([]models.OnlineEntry, 0, len(zs))
	for _, z := range zs {
		userID, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.OnlineEntry{
			UserID:       userID,
			LastActiveAt: time.UnixMilli(int64(z.Score)).UTC(),
		})
	}
	return entries, nil
}

// Cleanup removes online index entries whose last activity is older than the
// threshold window and returns the removed ids so the caller can publish
// offline deltas for flags that truly expired. Single-flight protection is
// the sweeper's job, not the store's; overlapping cleanups are wasted work,
// not a correctness hazard.
func (ps *PresenceStore) Cleanup(ctx context.Context) ([]string, error) {
	cutoff := strconv.FormatInt(ps.clock().Add(-ps.ttl).UnixMilli(), 10)
	staleRange := &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}

	stale, err := ps.redis.ZRangeByScore(ctx, onlineIndexKey, staleRange).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale index entries: %w", err)
	}
	if len(stale) == 0 {
		return nil, nil
	}

	if err := ps.redis.ZRemRangeByScore(ctx, onlineIndexKey, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("failed to remove stale index entries: %w", err)
	}

	return stale, nil
}
