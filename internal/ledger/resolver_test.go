package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("credit goes to the group pool when the group flag is set", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT group_credit_pool, opening_credit FROM group_flags").
			WithArgs("g1").
			WillReturnRows(sqlmock.NewRows([]string{"group_credit_pool", "opening_credit"}).AddRow(true, 100))

		ref, err := NewResolver(db).Resolve(ctx, "bot1", "g1", "alice", models.CurrencyCredit)
		require.NoError(t, err)
		assert.Equal(t, models.ScopeMember, ref.Scope)
		assert.Equal(t, "m:g1:alice", ref.OwnerKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit falls back to the bot friend account", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT group_credit_pool, opening_credit FROM group_flags").
			WithArgs("g1").
			WillReturnRows(sqlmock.NewRows([]string{"group_credit_pool", "opening_credit"}).AddRow(false, nil))
		mock.ExpectQuery("SELECT shared_friend_credit FROM bot_flags").
			WithArgs("bot1").
			WillReturnRows(sqlmock.NewRows([]string{"shared_friend_credit"}).AddRow(true))

		ref, err := NewResolver(db).Resolve(ctx, "bot1", "g1", "alice", models.CurrencyCredit)
		require.NoError(t, err)
		assert.Equal(t, models.ScopeFriend, ref.Scope)
		assert.Equal(t, "f:bot1:alice", ref.OwnerKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit defaults to the global user account", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		// no flag rows configured for this bot or group
		mock.ExpectQuery("SELECT group_credit_pool, opening_credit FROM group_flags").
			WithArgs("g1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT shared_friend_credit FROM bot_flags").
			WithArgs("bot1").
			WillReturnError(sql.ErrNoRows)

		ref, err := NewResolver(db).Resolve(ctx, "bot1", "g1", "alice", models.CurrencyCredit)
		require.NoError(t, err)
		assert.Equal(t, models.ScopeUser, ref.Scope)
		assert.Equal(t, "u:alice", ref.OwnerKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cash and usage tokens are always global", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		for _, kind := range []models.CurrencyKind{
			models.CurrencyCash, models.CurrencyFrozenCash, models.CurrencyUsageTokens,
			models.CurrencySavedCredit, models.CurrencyFrozenCredit,
		} {
			ref, err := NewResolver(db).Resolve(ctx, "bot1", "g1", "alice", kind)
			require.NoError(t, err)
			assert.Equal(t, models.ScopeUser, ref.Scope, "kind %s", kind)
		}
		// no flag lookups at all
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("coins follow the bot shared-friend flag", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT shared_friend_credit FROM bot_flags").
			WithArgs("bot1").
			WillReturnRows(sqlmock.NewRows([]string{"shared_friend_credit"}).AddRow(true))

		ref, err := NewResolver(db).Resolve(ctx, "bot1", "", "alice", models.CurrencyGoldCoin)
		require.NoError(t, err)
		assert.Equal(t, models.ScopeFriend, ref.Scope)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("group credit requires a group context", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewResolver(db).Resolve(ctx, "bot1", "", "alice", models.CurrencyGroupCredit)
		assert.Error(t, err)

		ref, err := NewResolver(db).Resolve(ctx, "bot1", "g1", "alice", models.CurrencyGroupCredit)
		require.NoError(t, err)
		assert.Equal(t, models.ScopeMember, ref.Scope)
		assert.Equal(t, "m:g1:alice", ref.OwnerKey)
	})

	t.Run("unknown currency fails fast", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		_, err = NewResolver(db).Resolve(ctx, "bot1", "g1", "alice", models.CurrencyKind("dogecoin"))
		assert.Error(t, err)

		_, err = NewResolver(db).Resolve(ctx, "bot1", "g1", "", models.CurrencyCredit)
		assert.Error(t, err)
	})
}
