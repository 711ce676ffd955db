package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

// Resolver decides which physical account row backs a logical currency for
// a given (bot, group, user) context, based on per-bot and per-group feature
// flags. It never mutates balances itself; lazy row creation happens inside
// the Coordinator so opening grants stay auditable.
type Resolver struct {
	db *sql.DB
}

func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve maps (botID, groupID, userID, kind) to an AccountRef.
// An unknown currency kind is a programming error and fails fast.
func (r *Resolver) Resolve(ctx context.Context, botID, groupID, userID string, kind models.CurrencyKind) (models.AccountRef, error) {
	if _, err := models.ParseCurrency(string(kind)); err != nil {
		return models.AccountRef{}, err
	}
	if userID == "" {
		return models.AccountRef{}, fmt.Errorf("resolve %s: empty user id", kind)
	}

	switch kind {
	case models.CurrencyGroupCredit:
		if groupID == "" {
			return models.AccountRef{}, fmt.Errorf("resolve %s: group credit requires a group context", kind)
		}
		return memberRef(groupID, userID, kind), nil

	case models.CurrencyCash, models.CurrencyFrozenCash,
		models.CurrencyUsageTokens, models.CurrencySavedCredit, models.CurrencyFrozenCredit:
		// Money-like and AI-usage balances are always global per user,
		// independent of which bot or group the event arrived through.
		return userRef(userID, kind), nil

	case models.CurrencyCredit:
		if groupID != "" {
			gf, err := r.groupFlags(ctx, groupID)
			if err != nil {
				return models.AccountRef{}, err
			}
			if gf.GroupCreditPool {
				return memberRef(groupID, userID, kind), nil
			}
		}
		return r.friendOrUser(ctx, botID, userID, kind)

	default:
		// coin kinds
		return r.friendOrUser(ctx, botID, userID, kind)
	}
}

func (r *Resolver) friendOrUser(ctx context.Context, botID, userID string, kind models.CurrencyKind) (models.AccountRef, error) {
	if botID != "" {
		bf, err := r.botFlags(ctx, botID)
		if err != nil {
			return models.AccountRef{}, err
		}
		if bf.SharedFriendCredit {
			return friendRef(botID, userID, kind), nil
		}
	}
	return userRef(userID, kind), nil
}

func (r *Resolver) botFlags(ctx context.Context, botID string) (models.BotFlags, error) {
	bf := models.BotFlags{BotID: botID}
	err := r.db.QueryRowContext(ctx,
		`SELECT shared_friend_credit FROM bot_flags WHERE bot_id = $1`,
		botID).Scan(&bf.SharedFriendCredit)
	if err == sql.ErrNoRows {
		return bf, nil
	}
	if err != nil {
		return bf, fmt.Errorf("bot flags for %s: %w", botID, err)
	}
	return bf, nil
}

func (r *Resolver) groupFlags(ctx context.Context, groupID string) (models.GroupFlags, error) {
	gf := models.GroupFlags{GroupID: groupID}
	var opening sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT group_credit_pool, opening_credit FROM group_flags WHERE group_id = $1`,
		groupID).Scan(&gf.GroupCreditPool, &opening)
	if err == sql.ErrNoRows {
		return gf, nil
	}
	if err != nil {
		return gf, fmt.Errorf("group flags for %s: %w", groupID, err)
	}
	gf.OpeningCredit = opening.Int64
	return gf, nil
}

func userRef(userID string, kind models.CurrencyKind) models.AccountRef {
	return models.AccountRef{Scope: models.ScopeUser, OwnerKey: "u:" + userID, Currency: kind}
}

func friendRef(botID, userID string, kind models.CurrencyKind) models.AccountRef {
	return models.AccountRef{Scope: models.ScopeFriend, OwnerKey: "f:" + botID + ":" + userID, Currency: kind}
}

func memberRef(groupID, userID string, kind models.CurrencyKind) models.AccountRef {
	return models.AccountRef{Scope: models.ScopeMember, OwnerKey: "m:" + groupID + ":" + userID, Currency: kind}
}
