package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

// BalanceCache is the fast-read, non-authoritative copy of committed
// balances. It is written exactly once per committed mutation, strictly
// after commit, and read only for informational display. Financial
// decisions always go through the Coordinator.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client) *BalanceCache {
	return &BalanceCache{client: client, ttl: 24 * time.Hour}
}

func cacheKey(ref models.AccountRef) string {
	return fmt.Sprintf("bal:%s:%s:%s", ref.Scope, ref.OwnerKey, ref.Currency)
}

// Publish writes the committed balance through to the cache. Failures are
// logged and swallowed: a stale or missing cache entry only degrades
// display reads, never correctness.
func (b *BalanceCache) Publish(ctx context.Context, ref models.AccountRef, balance int64) {
	if b == nil || b.client == nil {
		return
	}
	if err := b.client.Set(ctx, cacheKey(ref), balance, b.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("account", ref.String()).Msg("cache publish failed")
	}
}

// RefillNX repopulates a missing key from an unlocked display read. SETNX
// leaves a key that a committed mutation already published untouched, so a
// stale peeked value can never overwrite a fresher committed one.
func (b *BalanceCache) RefillNX(ctx context.Context, ref models.AccountRef, balance int64) {
	if b == nil || b.client == nil {
		return
	}
	if err := b.client.SetNX(ctx, cacheKey(ref), balance, b.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("account", ref.String()).Msg("cache refill failed")
	}
}

// Read returns the cached balance and whether it was present. Callers that
// miss fall through to the transactional store.
func (b *BalanceCache) Read(ctx context.Context, ref models.AccountRef) (int64, bool) {
	if b == nil || b.client == nil {
		return 0, false
	}
	v, err := b.client.Get(ctx, cacheKey(ref)).Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}
