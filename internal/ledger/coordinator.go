package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

// Coordinator is the sole path through which any account balance changes.
// Every mutation runs inside one database transaction: lock, re-read,
// sufficiency check, balance write and audit entry commit or roll back
// together. Locks on multiple accounts are always taken in ascending row-id
// order, whatever order the caller listed them in.
type Coordinator struct {
	db    *sql.DB
	cache *BalanceCache

	creditFloor   int64 // overdraft floor for the credit currency, <= 0
	openingCredit int64 // default grant for lazily created member credit accounts
}

func NewCoordinator(db *sql.DB, cache *BalanceCache) *Coordinator {
	viper.SetDefault("ledger.credit_overdraft_floor", int64(-10000))
	viper.SetDefault("ledger.member_opening_credit", int64(100))

	return &Coordinator{
		db:            db,
		cache:         cache,
		creditFloor:   viper.GetInt64("ledger.credit_overdraft_floor"),
		openingCredit: viper.GetInt64("ledger.member_opening_credit"),
	}
}

// AdjustResult reports a committed single-account mutation.
type AdjustResult struct {
	NewBalance int64
	LogID      int64
}

// TransferResult reports a committed two-account movement.
type TransferResult struct {
	EntryID     string
	FromBalance int64
	ToBalance   int64
}

// LockedAccount is an account row held under FOR UPDATE inside an open
// transaction. Its Balance is the authoritative value for any business
// decision made before commit.
type LockedAccount struct {
	Account models.Account
	ref     models.AccountRef
	created bool
}

// Ref returns the logical coordinates this locked row was resolved from.
func (a *LockedAccount) Ref() models.AccountRef { return a.ref }

// Txn is the context handed to WithLock callbacks. All mutations go through
// Apply; Tx exposes the underlying transaction for callers that must persist
// their own rows (e.g. wager rounds) atomically with a balance change.
type Txn struct {
	tx      *sql.Tx
	c       *Coordinator
	actor   models.Actor
	entryID string
	pending []publishEvent
}

type publishEvent struct {
	ref     models.AccountRef
	balance int64
}

// Tx returns the open database transaction.
func (t *Txn) Tx() *sql.Tx { return t.tx }

// EntryID returns the correlation id shared by every audit entry written
// in this transaction.
func (t *Txn) EntryID() string { return t.entryID }

// Apply mutates one locked account by delta, writes the audit entry and
// queues the cache publication for after commit. A debit that would push
// the balance below the currency's floor returns InsufficientFundsError
// and leaves the transaction for the caller to abort.
func (t *Txn) Apply(a *LockedAccount, delta int64, reason string) (AdjustResult, error) {
	newBalance := a.Account.Balance + delta
	if delta < 0 && newBalance < t.c.floorFor(a.Account.Currency) {
		return AdjustResult{}, &InsufficientFundsError{Current: a.Account.Balance}
	}

	logID, err := appendEntry(t.tx, t.entryID, a.Account.ID, delta, newBalance, reason, t.actor)
	if err != nil {
		return AdjustResult{}, fmt.Errorf("audit entry for account %d: %w", a.Account.ID, err)
	}

	if err := t.c.updateBalance(t.tx, a.Account.ID, newBalance, a.Account.Version); err != nil {
		return AdjustResult{}, err
	}

	a.Account.Balance = newBalance
	a.Account.Version++
	t.pending = append(t.pending, publishEvent{ref: a.ref, balance: newBalance})

	return AdjustResult{NewBalance: newBalance, LogID: logID}, nil
}

// WithLock resolves, creates if necessary, and locks every referenced
// account in canonical order, then runs fn against the locked rows. The
// accounts slice matches the order of refs, not the lock order. On commit,
// queued cache publications run exactly once; on any error the transaction
// rolls back and nothing is published.
func (c *Coordinator) WithLock(ctx context.Context, actor models.Actor, refs []models.AccountRef, fn func(txn *Txn, accounts []*LockedAccount) error) error {
	if len(refs) == 0 {
		return fmt.Errorf("no accounts referenced")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	txn := &Txn{tx: tx, c: c, actor: actor, entryID: uuid.NewString()}

	accounts, err := c.lockAccounts(ctx, tx, refs)
	if err != nil {
		return err
	}

	// Opening grants for rows created in this transaction, audited like
	// any other mutation.
	for _, a := range accounts {
		if !a.created {
			continue
		}
		grant, err := c.openingGrantFor(tx, a.ref)
		if err != nil {
			return err
		}
		if grant == 0 {
			continue
		}
		if _, err := txn.Apply(a, grant, "opening grant"); err != nil {
			return err
		}
	}

	if err := fn(txn, accounts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// Post-commit, best effort. The cache is informational only.
	for _, p := range txn.pending {
		c.cache.Publish(ctx, p.ref, p.balance)
	}
	return nil
}

// Adjust applies a single signed delta to one account.
func (c *Coordinator) Adjust(ctx context.Context, actor models.Actor, ref models.AccountRef, delta int64, reason string) (AdjustResult, error) {
	var res AdjustResult
	err := c.WithLock(ctx, actor, []models.AccountRef{ref}, func(txn *Txn, accounts []*LockedAccount) error {
		var err error
		res, err = txn.Apply(accounts[0], delta, reason)
		return err
	})
	if err != nil {
		return AdjustResult{}, err
	}
	log.Debug().Str("account", ref.String()).Int64("delta", delta).Int64("balance", res.NewBalance).Msg("ledger adjust committed")
	return res, nil
}

// Transfer atomically moves amount from one account to another. The debit
// leg runs first so the sufficiency check sees the locked source balance;
// both legs share one audit correlation id.
func (c *Coordinator) Transfer(ctx context.Context, actor models.Actor, from, to models.AccountRef, amount int64, reason string) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}
	if from == to {
		return TransferResult{}, fmt.Errorf("cannot transfer from an account to itself")
	}

	var res TransferResult
	err := c.WithLock(ctx, actor, []models.AccountRef{from, to}, func(txn *Txn, accounts []*LockedAccount) error {
		res.EntryID = txn.EntryID()

		// Transfers move balance the sender actually owns. The overdraft
		// floor is not available for gifting.
		if accounts[0].Account.Balance < amount {
			return &InsufficientFundsError{Current: accounts[0].Account.Balance}
		}

		debit, err := txn.Apply(accounts[0], -amount, reason)
		if err != nil {
			return err
		}
		credit, err := txn.Apply(accounts[1], amount, reason)
		if err != nil {
			return err
		}
		res.FromBalance = debit.NewBalance
		res.ToBalance = credit.NewBalance
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	log.Debug().Str("from", from.String()).Str("to", to.String()).Int64("amount", amount).Msg("ledger transfer committed")
	return res, nil
}

// lockAccounts upserts missing rows, then takes FOR UPDATE locks in
// ascending row-id order regardless of argument order. The returned slice
// matches refs positionally.
func (c *Coordinator) lockAccounts(ctx context.Context, tx *sql.Tx, refs []models.AccountRef) ([]*LockedAccount, error) {
	accounts := make([]*LockedAccount, len(refs))

	// Row creation takes speculative unique-index locks, so the upserts
	// follow a canonical order too; otherwise two transactions lazily
	// creating the same pair of rows in opposite order deadlock on the
	// unique index before the FOR UPDATE pass is ever reached.
	order := make([]int, len(refs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return refLess(refs[order[i]], refs[order[j]]) })

	for _, i := range order {
		ref := refs[i]
		id, created, err := c.ensureAccount(tx, ref)
		if err != nil {
			return nil, err
		}
		accounts[i] = &LockedAccount{
			Account: models.Account{ID: id, Scope: ref.Scope, OwnerKey: ref.OwnerKey, Currency: ref.Currency},
			ref:     ref,
			created: created,
		}
	}

	byID := make([]*LockedAccount, len(accounts))
	copy(byID, accounts)
	sort.Slice(byID, func(i, j int) bool { return byID[i].Account.ID < byID[j].Account.ID })

	for _, a := range byID {
		if err := c.lockRow(ctx, tx, a); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

func (c *Coordinator) ensureAccount(tx *sql.Tx, ref models.AccountRef) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(`
		INSERT INTO accounts (scope, owner_key, currency, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 1, $4, $4)
		ON CONFLICT (scope, owner_key, currency) DO NOTHING
		RETURNING id`,
		ref.Scope, ref.OwnerKey, ref.Currency, time.Now()).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("create account %s: %w", ref, err)
	}

	err = tx.QueryRow(`
		SELECT id FROM accounts
		WHERE scope = $1 AND owner_key = $2 AND currency = $3`,
		ref.Scope, ref.OwnerKey, ref.Currency).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("resolve account %s: %w", ref, err)
	}
	return id, false, nil
}

func (c *Coordinator) lockRow(ctx context.Context, tx *sql.Tx, a *LockedAccount) error {
	err := tx.QueryRowContext(ctx, `
		SELECT balance, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`,
		a.Account.ID).Scan(&a.Account.Balance, &a.Account.Version, &a.Account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("lock account %d: %w", a.Account.ID, err)
	}
	return nil
}

func (c *Coordinator) updateBalance(tx *sql.Tx, accountID, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return fmt.Errorf("update account %d: %w", accountID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}
	return nil
}

// PeekBalance reads a balance without locking. The value is informational
// (display, cache refill) and must never feed a subsequent business
// decision. Accounts that were never touched read as zero.
func (c *Coordinator) PeekBalance(ctx context.Context, ref models.AccountRef) (int64, error) {
	var balance int64
	err := c.db.QueryRowContext(ctx, `
		SELECT balance FROM accounts
		WHERE scope = $1 AND owner_key = $2 AND currency = $3`,
		ref.Scope, ref.OwnerKey, ref.Currency).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("peek balance %s: %w", ref, err)
	}
	return balance, nil
}

// floorFor returns the lowest balance a debit may leave behind. Only the
// credit currency supports controlled overdraft; everything else stops at
// zero.
func (c *Coordinator) floorFor(kind models.CurrencyKind) int64 {
	if kind == models.CurrencyCredit {
		return c.creditFloor
	}
	return 0
}

// openingGrantFor returns the audited starting balance for a freshly
// created account. Member credit accounts start with the group's configured
// grant; all other accounts start at zero.
func (c *Coordinator) openingGrantFor(tx *sql.Tx, ref models.AccountRef) (int64, error) {
	if ref.Scope != models.ScopeMember {
		return 0, nil
	}
	if ref.Currency != models.CurrencyCredit && ref.Currency != models.CurrencyGroupCredit {
		return 0, nil
	}

	groupID := groupFromOwnerKey(ref.OwnerKey)
	if groupID == "" {
		return c.openingCredit, nil
	}

	var opening sql.NullInt64
	err := tx.QueryRow(`SELECT opening_credit FROM group_flags WHERE group_id = $1`, groupID).Scan(&opening)
	if err == sql.ErrNoRows {
		return c.openingCredit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening grant for group %s: %w", groupID, err)
	}
	if opening.Valid {
		return opening.Int64, nil
	}
	return c.openingCredit, nil
}

// refLess orders account references by (scope, owner_key, currency), the
// canonical order for row creation.
func refLess(a, b models.AccountRef) bool {
	if a.Scope != b.Scope {
		return a.Scope < b.Scope
	}
	if a.OwnerKey != b.OwnerKey {
		return a.OwnerKey < b.OwnerKey
	}
	return a.Currency < b.Currency
}

// groupFromOwnerKey extracts the group id from a member owner key of the
// form "m:<groupId>:<userId>".
func groupFromOwnerKey(ownerKey string) string {
	parts := strings.SplitN(ownerKey, ":", 3)
	if len(parts) != 3 || parts[0] != "m" {
		return ""
	}
	return parts[1]
}
