package fairplay

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/changliaotong/BotMatrix-sub001/internal/ledger"
	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

// Engine runs hash-chained wagering rounds on top of the ledger
// coordinator. A round only ever exists fully settled: the balance delta
// and the round row commit in one transaction, so an aborted settlement
// leaves neither.
type Engine struct {
	db       *sql.DB
	coord    *ledger.Coordinator
	resolver *ledger.Resolver
	audit    *ledger.AuditReader
	rules    *RuleSet

	maxWager   int64
	grantLimit int
	grantWin   time.Duration
}

func NewEngine(db *sql.DB, coord *ledger.Coordinator, resolver *ledger.Resolver, audit *ledger.AuditReader) *Engine {
	viper.SetDefault("fairplay.max_wager", int64(100000))
	viper.SetDefault("ledger.grant_rate_limit", 6)
	viper.SetDefault("ledger.grant_rate_window", time.Minute)

	return &Engine{
		db:         db,
		coord:      coord,
		resolver:   resolver,
		audit:      audit,
		rules:      DefaultRules(),
		maxWager:   viper.GetInt64("fairplay.max_wager"),
		grantLimit: viper.GetInt("ledger.grant_rate_limit"),
		grantWin:   viper.GetDuration("ledger.grant_rate_window"),
	}
}

// Rules exposes the active rule set, mainly for verification endpoints.
func (e *Engine) Rules() *RuleSet { return e.rules }

// PlaceWager runs one full round: validate, resolve the random outcome,
// settle the net delta through the coordinator and append the chained round
// record. If the player cannot cover the stake the round never opens and no
// chain entry is written.
func (e *Engine) PlaceWager(ctx context.Context, actor models.Actor, betType string, amount int64) (*models.WagerRound, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if amount > e.maxWager {
		return nil, fmt.Errorf("wager %d exceeds table limit %d", amount, e.maxWager)
	}

	typeID, err := e.rules.Lookup(betType)
	if err != nil {
		return nil, err
	}
	rule, err := e.rules.Rule(typeID)
	if err != nil {
		return nil, err
	}

	grants, err := e.audit.CountRecentGrants(ctx, actor.UserID, models.CurrencyCredit, e.grantWin)
	if err != nil {
		return nil, err
	}
	if grants >= e.grantLimit {
		return nil, ledger.ErrRateLimited
	}

	ref, err := e.resolver.Resolve(ctx, actor.BotID, actor.GroupID, actor.UserID, models.CurrencyCredit)
	if err != nil {
		return nil, err
	}

	outcome, err := roll(rule.Game)
	if err != nil {
		return nil, err
	}
	payout := rule.Payout(outcome, amount)
	delta := payout - amount

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	round := &models.WagerRound{
		ID:        ulid.Make().String(),
		RoomKey:   roomKey(actor),
		PlayerKey: actor.UserID,
		BetType:   betType,
		Wager:     amount,
		Outcome:   outcome.String(),
		Payout:    payout,
		Secret:    secret,
	}

	err = e.coord.WithLock(ctx, actor, []models.AccountRef{ref}, func(txn *ledger.Txn, accounts []*ledger.LockedAccount) error {
		// The stake must be covered in full; the credit overdraft floor
		// exists for punitive flows, not for gambling on margin.
		if accounts[0].Account.Balance < amount {
			return &ledger.InsufficientFundsError{Current: accounts[0].Account.Balance}
		}

		// The account lock serializes this player's rounds, so the
		// previous-digest read cannot race a concurrent append.
		prev, err := e.lastDigest(txn.Tx(), round.RoomKey, round.PlayerKey)
		if err != nil {
			return err
		}

		res, err := txn.Apply(accounts[0], delta, "wager:"+betType)
		if err != nil {
			return err
		}

		round.AccountID = accounts[0].Account.ID
		// timestamptz keeps microseconds only; anything finer in the digested
		// timestamp could not be recomputed from the stored row.
		round.CreatedAt = time.Now().Truncate(time.Microsecond)
		round.PrevDigest = prev
		round.Digest = RoundDigest(prev, round.Outcome, round.Payout, round.Secret, round.CreatedAt)

		if err := insertRound(txn.Tx(), round); err != nil {
			return err
		}

		log.Debug().Str("round", round.ID).Str("player", round.PlayerKey).
			Int64("wager", amount).Int64("payout", payout).Int64("balance", res.NewBalance).
			Msg("wager round settled")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

// VerifyRound returns the chain fields of a settled round, including the
// revealed secret, so a player can recompute the committed digest.
func (e *Engine) VerifyRound(ctx context.Context, roundID string) (*models.WagerRound, error) {
	var r models.WagerRound
	err := e.db.QueryRowContext(ctx, `
		SELECT id, room_key, player_key, account_id, bet_type, wager, outcome, payout, prev_digest, digest, secret, created_at
		FROM wager_rounds
		WHERE id = $1`,
		roundID).Scan(&r.ID, &r.RoomKey, &r.PlayerKey, &r.AccountID, &r.BetType, &r.Wager,
		&r.Outcome, &r.Payout, &r.PrevDigest, &r.Digest, &r.Secret, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("round %s not found", roundID)
	}
	if err != nil {
		return nil, fmt.Errorf("load round %s: %w", roundID, err)
	}
	return &r, nil
}

func (e *Engine) lastDigest(tx *sql.Tx, roomKey, playerKey string) (string, error) {
	var digest string
	err := tx.QueryRow(`
		SELECT digest FROM wager_rounds
		WHERE room_key = $1 AND player_key = $2
		ORDER BY id DESC
		LIMIT 1`,
		roomKey, playerKey).Scan(&digest)
	if err == sql.ErrNoRows {
		return SeedDigest(roomKey, playerKey), nil
	}
	if err != nil {
		return "", fmt.Errorf("chain head for %s/%s: %w", roomKey, playerKey, err)
	}
	return digest, nil
}

func insertRound(tx *sql.Tx, r *models.WagerRound) error {
	_, err := tx.Exec(`
		INSERT INTO wager_rounds (id, room_key, player_key, account_id, bet_type, wager, outcome, payout, prev_digest, digest, secret, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.RoomKey, r.PlayerKey, r.AccountID, r.BetType, r.Wager,
		r.Outcome, r.Payout, r.PrevDigest, r.Digest, r.Secret, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("record round %s: %w", r.ID, err)
	}
	return nil
}

// roomKey scopes a player's chain to where they play: the group for group
// chat, the bot for direct chat.
func roomKey(actor models.Actor) string {
	if actor.GroupID != "" {
		return "g:" + actor.GroupID
	}
	return "b:" + actor.BotID
}

var handNames = []string{"rock", "paper", "scissors"}

// roll draws the round outcome from crypto/rand.
func roll(game GameKind) (Outcome, error) {
	switch game {
	case GameHand:
		n, err := randInt(3)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Hand: handNames[n]}, nil
	default:
		var o Outcome
		for i := range o.Dice {
			n, err := randInt(6)
			if err != nil {
				return Outcome{}, err
			}
			o.Dice[i] = int(n) + 1
		}
		return o, nil
	}
}

func randInt(max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, fmt.Errorf("outcome randomness: %w", err)
	}
	return n.Int64(), nil
}
