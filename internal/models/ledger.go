package models

import (
	"time"
)

// Actor records who caused a balance mutation.
type Actor struct {
	BotID   string `json:"bot_id" db:"bot_id"`
	GroupID string `json:"group_id" db:"group_id"`
	UserID  string `json:"user_id" db:"user_id"`
}

// LedgerEntry is one immutable audit record of a committed balance mutation.
// Balance is the account balance at the time of the entry, not the current one.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	EntryID   string    `json:"entry_id" db:"entry_id"` // UUID, correlates the legs of one transfer
	AccountID int64     `json:"account_id" db:"account_id"`
	Delta     int64     `json:"delta" db:"delta"`
	Balance   int64     `json:"balance" db:"balance"`
	Reason    string    `json:"reason" db:"reason"`
	BotID     string    `json:"bot_id" db:"bot_id"`
	GroupID   string    `json:"group_id" db:"group_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
