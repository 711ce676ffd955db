package models

import (
	"time"
)

// WagerRound is one resolved, settled gambling round. Rounds for the same
// (room, player) pair form a tamper-evident chain: PrevDigest always equals
// the Digest of the previous round, or the seed digest when none exists.
type WagerRound struct {
	ID         string    `json:"id" db:"id"` // ULID
	RoomKey    string    `json:"room_key" db:"room_key"`
	PlayerKey  string    `json:"player_key" db:"player_key"`
	AccountID  int64     `json:"account_id" db:"account_id"`
	BetType    string    `json:"bet_type" db:"bet_type"`
	Wager      int64     `json:"wager" db:"wager"`
	Outcome    string    `json:"outcome" db:"outcome"`
	Payout     int64     `json:"payout" db:"payout"`
	PrevDigest string    `json:"prev_digest" db:"prev_digest"`
	Digest     string    `json:"digest" db:"digest"`
	Secret     string    `json:"-" db:"secret"` // revealed only through VerifyRound
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
