package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

func TestAuditReader_CountRecentGrants(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("alice", models.CurrencyCredit, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := NewAuditReader(db).CountRecentGrants(context.Background(), "alice", models.CurrencyCredit, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditReader_TopBalances(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT owner_key, balance").
		WithArgs(models.CurrencyCredit, 3).
		WillReturnRows(sqlmock.NewRows([]string{"owner_key", "balance"}).
			AddRow("u:alice", 900).
			AddRow("u:bob", 500).
			AddRow("u:carol", 100))

	ranking, err := NewAuditReader(db).TopBalances(context.Background(), models.CurrencyCredit, 3)
	require.NoError(t, err)
	require.Len(t, ranking, 3)
	assert.Equal(t, "u:alice", ranking[0].OwnerKey)
	assert.Equal(t, int64(900), ranking[0].Balance)
	assert.Equal(t, int64(100), ranking[2].Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditReader_RecentEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ref := models.AccountRef{Scope: models.ScopeUser, OwnerKey: "u:alice", Currency: models.CurrencyCredit}
	now := time.Now()

	mock.ExpectQuery("FROM ledger_entries e").
		WithArgs(ref.Scope, ref.OwnerKey, ref.Currency, 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "entry_id", "account_id", "delta", "balance", "reason", "bot_id", "group_id", "user_id", "created_at",
		}).
			AddRow(12, "e2", 1, -100, 400, "wager:big", "bot1", "g1", "alice", now).
			AddRow(11, "e1", 1, 500, 500, "gift", "bot1", "g1", "alice", now.Add(-time.Hour)))

	entries, err := NewAuditReader(db).RecentEntries(context.Background(), ref, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(12), entries[0].ID)
	assert.Equal(t, int64(-100), entries[0].Delta)
	assert.Equal(t, int64(400), entries[0].Balance)
	assert.Equal(t, "gift", entries[1].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
