package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

// appendEntry writes one immutable audit record inside an already-open
// coordinator transaction. It is deliberately unexported: a ledger entry
// must never exist without the balance mutation it records.
func appendEntry(tx *sql.Tx, entryID string, accountID, delta, resultingBalance int64, reason string, actor models.Actor) (int64, error) {
	var logID int64
	err := tx.QueryRow(`
		INSERT INTO ledger_entries (entry_id, account_id, delta, balance, reason, bot_id, group_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entryID, accountID, delta, resultingBalance, reason,
		actor.BotID, actor.GroupID, actor.UserID, time.Now()).Scan(&logID)
	if err != nil {
		return 0, err
	}
	return logID, nil
}

// AuditReader exposes the read side of the audit log: time-windowed counts
// for rate limiting, balance ranking, and per-account statements.
type AuditReader struct {
	db *sql.DB
}

func NewAuditReader(db *sql.DB) *AuditReader {
	return &AuditReader{db: db}
}

// CountRecentGrants returns how many credit-granting entries the user has
// received in the given currency since the window start. Used as the rate
// limiter for wagers and gifting.
func (r *AuditReader) CountRecentGrants(ctx context.Context, userID string, kind models.CurrencyKind, window time.Duration) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE e.user_id = $1 AND a.currency = $2 AND e.delta > 0 AND e.created_at > $3`,
		userID, kind, time.Now().Add(-window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent grants for %s: %w", userID, err)
	}
	return n, nil
}

// RankEntry is one row of a balance ranking.
type RankEntry struct {
	OwnerKey string `json:"owner_key"`
	Balance  int64  `json:"balance"`
}

// TopBalances returns the highest balances for a currency, for leaderboard
// style replies.
func (r *AuditReader) TopBalances(ctx context.Context, kind models.CurrencyKind, limit int) ([]RankEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT owner_key, balance
		FROM accounts
		WHERE currency = $1
		ORDER BY balance DESC
		LIMIT $2`,
		kind, limit)
	if err != nil {
		return nil, fmt.Errorf("rank %s balances: %w", kind, err)
	}
	defer rows.Close()

	var ranking []RankEntry
	for rows.Next() {
		var e RankEntry
		if err := rows.Scan(&e.OwnerKey, &e.Balance); err != nil {
			return nil, err
		}
		ranking = append(ranking, e)
	}
	return ranking, rows.Err()
}

// RecentEntries returns the newest audit entries for one account, newest
// first, for statement display.
func (r *AuditReader) RecentEntries(ctx context.Context, ref models.AccountRef, limit int) ([]models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.entry_id, e.account_id, e.delta, e.balance, e.reason, e.bot_id, e.group_id, e.user_id, e.created_at
		FROM ledger_entries e
		JOIN accounts a ON a.id = e.account_id
		WHERE a.scope = $1 AND a.owner_key = $2 AND a.currency = $3
		ORDER BY e.id DESC
		LIMIT $4`,
		ref.Scope, ref.OwnerKey, ref.Currency, limit)
	if err != nil {
		return nil, fmt.Errorf("recent entries for %s: %w", ref, err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.EntryID, &e.AccountID, &e.Delta, &e.Balance,
			&e.Reason, &e.BotID, &e.GroupID, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
