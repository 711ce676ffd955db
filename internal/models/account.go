package models

import (
	"fmt"
	"time"
)

// Scope identifies which entity a balance is attached to.
type Scope string

const (
	ScopeUser   Scope = "user"   // global per-user account
	ScopeFriend Scope = "friend" // bot-wide friend account
	ScopeMember Scope = "member" // group membership account
)

// CurrencyKind enumerates every mutable balance a user can own.
type CurrencyKind string

const (
	CurrencyCredit       CurrencyKind = "credit"
	CurrencyGoldCoin     CurrencyKind = "gold_coin"
	CurrencyBlackCoin    CurrencyKind = "black_coin"
	CurrencyPurpleCoin   CurrencyKind = "purple_coin"
	CurrencyGameCoin     CurrencyKind = "game_coin"
	CurrencyGroupCredit  CurrencyKind = "group_credit"
	CurrencyCash         CurrencyKind = "cash"        // stored in cents
	CurrencyFrozenCash   CurrencyKind = "frozen_cash" // stored in cents
	CurrencyUsageTokens  CurrencyKind = "usage_tokens"
	CurrencySavedCredit  CurrencyKind = "saved_credit"
	CurrencyFrozenCredit CurrencyKind = "frozen_credit"
)

var validCurrencies = map[CurrencyKind]bool{
	CurrencyCredit:       true,
	CurrencyGoldCoin:     true,
	CurrencyBlackCoin:    true,
	CurrencyPurpleCoin:   true,
	CurrencyGameCoin:     true,
	CurrencyGroupCredit:  true,
	CurrencyCash:         true,
	CurrencyFrozenCash:   true,
	CurrencyUsageTokens:  true,
	CurrencySavedCredit:  true,
	CurrencyFrozenCredit: true,
}

// ParseCurrency validates a currency name coming from a request.
func ParseCurrency(s string) (CurrencyKind, error) {
	kind := CurrencyKind(s)
	if !validCurrencies[kind] {
		return "", fmt.Errorf("unknown currency kind %q", s)
	}
	return kind, nil
}

// AccountRef is the logical coordinate of one balance: which scope owns it
// and which currency it tracks. It is resolved to a physical accounts row
// lazily, on first mutation.
type AccountRef struct {
	Scope    Scope        `json:"scope"`
	OwnerKey string       `json:"owner_key"` // "u:<userId>", "f:<botId>:<userId>" or "m:<groupId>:<userId>"
	Currency CurrencyKind `json:"currency"`
}

func (r AccountRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Scope, r.OwnerKey, r.Currency)
}

// Account is one physical balance row.
type Account struct {
	ID        int64        `json:"id" db:"id"`
	Scope     Scope        `json:"scope" db:"scope"`
	OwnerKey  string       `json:"owner_key" db:"owner_key"`
	Currency  CurrencyKind `json:"currency" db:"currency"`
	Balance   int64        `json:"balance" db:"balance"`
	Version   int          `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// BotFlags are per-bot feature switches read by the account resolver.
type BotFlags struct {
	BotID              string `json:"bot_id" db:"bot_id"`
	SharedFriendCredit bool   `json:"shared_friend_credit" db:"shared_friend_credit"`
}

// GroupFlags are per-group feature switches read by the account resolver.
type GroupFlags struct {
	GroupID         string `json:"group_id" db:"group_id"`
	GroupCreditPool bool   `json:"group_credit_pool" db:"group_credit_pool"`
	OpeningCredit   int64  `json:"opening_credit" db:"opening_credit"`
}
