package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

func TestBalanceCache_PublishAndRead(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewBalanceCache(client)

	ref := models.AccountRef{Scope: models.ScopeUser, OwnerKey: "u:alice", Currency: models.CurrencyCredit}

	mock.ExpectSet("bal:user:u:alice:credit", int64(300), 24*time.Hour).SetVal("OK")
	cache.Publish(context.Background(), ref, 300)

	mock.ExpectGet("bal:user:u:alice:credit").SetVal("300")
	balance, ok := cache.Read(context.Background(), ref)
	assert.True(t, ok)
	assert.Equal(t, int64(300), balance)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceCache_Miss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewBalanceCache(client)

	ref := models.AccountRef{Scope: models.ScopeUser, OwnerKey: "u:bob", Currency: models.CurrencyCredit}

	mock.ExpectGet("bal:user:u:bob:credit").RedisNil()
	_, ok := cache.Read(context.Background(), ref)
	assert.False(t, ok)
}

func TestBalanceCache_RefillNX(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewBalanceCache(client)

	ref := models.AccountRef{Scope: models.ScopeUser, OwnerKey: "u:alice", Currency: models.CurrencyCredit}

	// an absent key is filled
	mock.ExpectSetNX("bal:user:u:alice:credit", int64(500), 24*time.Hour).SetVal(true)
	cache.RefillNX(context.Background(), ref, 500)

	// a key published by a committed mutation is left untouched
	mock.ExpectSetNX("bal:user:u:alice:credit", int64(400), 24*time.Hour).SetVal(false)
	cache.RefillNX(context.Background(), ref, 400)

	assert.NoError(t, mock.ExpectationsWereMet())

	// degraded clients are a no-op
	NewBalanceCache(nil).RefillNX(context.Background(), ref, 1)
	var none *BalanceCache
	none.RefillNX(context.Background(), ref, 1)
}

func TestBalanceCache_Degraded(t *testing.T) {
	ref := models.AccountRef{Scope: models.ScopeUser, OwnerKey: "u:alice", Currency: models.CurrencyCredit}

	// a nil client (redis unavailable at startup) must be a no-op
	cache := NewBalanceCache(nil)
	cache.Publish(context.Background(), ref, 300)
	_, ok := cache.Read(context.Background(), ref)
	assert.False(t, ok)

	// and so must a nil cache on a coordinator wired without redis
	var none *BalanceCache
	none.Publish(context.Background(), ref, 300)
	_, ok = none.Read(context.Background(), ref)
	assert.False(t, ok)
}
