package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/changliaotong/BotMatrix-sub001/internal/ledger"
	"github.com/changliaotong/BotMatrix-sub001/internal/middleware"
	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

var errAlreadyClaimed = errors.New("daily check-in already claimed")

// LedgerService exposes the ledger operation surface to command-handling
// callers over HTTP. It owns no business rules of its own: validation,
// then a coordinator call, then result-code mapping.
type LedgerService struct {
	coord     *ledger.Coordinator
	resolver  *ledger.Resolver
	audit     *ledger.AuditReader
	cache     *ledger.BalanceCache
	validator *ValidationHelper

	grantLimit    int
	grantWindow   time.Duration
	checkinCredit int64
}

func NewLedgerService(db *sql.DB, redisClient *redis.Client) *LedgerService {
	viper.SetDefault("ledger.grant_rate_limit", 6)
	viper.SetDefault("ledger.grant_rate_window", time.Minute)
	viper.SetDefault("ledger.checkin_credit", int64(50))

	cache := ledger.NewBalanceCache(redisClient)
	return &LedgerService{
		coord:         ledger.NewCoordinator(db, cache),
		resolver:      ledger.NewResolver(db),
		audit:         ledger.NewAuditReader(db),
		cache:         cache,
		validator:     NewValidationHelper(),
		grantLimit:    viper.GetInt("ledger.grant_rate_limit"),
		grantWindow:   viper.GetDuration("ledger.grant_rate_window"),
		checkinCredit: viper.GetInt64("ledger.checkin_credit"),
	}
}

// Coordinator exposes the transaction coordinator for sibling services.
func (ls *LedgerService) Coordinator() *ledger.Coordinator { return ls.coord }

// Resolver exposes the account resolver for sibling services.
func (ls *LedgerService) Resolver() *ledger.Resolver { return ls.resolver }

// Audit exposes the audit reader for sibling services.
func (ls *LedgerService) Audit() *ledger.AuditReader { return ls.audit }

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// writeLedgerError maps coordinator errors to the response taxonomy:
// insufficient funds carries the true balance, validation problems are 400s,
// anything transient becomes a generic retry-later 503.
func writeLedgerError(w http.ResponseWriter, err error) {
	if current, ok := ledger.IsInsufficientFunds(err); ok {
		SendInsufficientFunds(w, current)
		return
	}
	if errors.Is(err, ledger.ErrInvalidAmount) {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if errors.Is(err, ledger.ErrRateLimited) {
		SendErrorResponse(w, err.Error(), http.StatusTooManyRequests, nil)
		return
	}
	log.Error().Err(err).Msg("ledger operation failed")
	SendErrorResponse(w, "Temporary failure, please retry", http.StatusServiceUnavailable, nil)
}

// actorFrom builds the audit actor for a request: the bot identity comes
// from the auth token, the user and group from the request itself.
func actorFrom(r *http.Request, groupID, userID string) models.Actor {
	return models.Actor{BotID: middleware.BotID(r.Context()), GroupID: groupID, UserID: userID}
}

// GetBalance returns the cache-backed, informational balance
// @Summary Get balance
// @Description Informational balance read; served from cache when possible, never a basis for financial decisions
// @Tags ledger
// @Produce json
// @Param userId query string true "User ID"
// @Param currency query string true "Currency kind"
// @Param groupId query string false "Group ID"
// @Success 200 {object} object{balance=int64,currency=string,cached=bool}
// @Failure 400 {object} ErrorResponse
// @Router /balance [get]
func (ls *LedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	groupID := r.URL.Query().Get("groupId")

	kind, err := models.ParseCurrency(r.URL.Query().Get("currency"))
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if userID == "" {
		SendErrorResponse(w, "userId is required", http.StatusBadRequest, nil)
		return
	}

	ref, err := ls.resolver.Resolve(r.Context(), middleware.BotID(r.Context()), groupID, userID, kind)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	if balance, ok := ls.cache.Read(r.Context(), ref); ok {
		SendJSON(w, http.StatusOK, map[string]any{"balance": balance, "currency": kind, "cached": true})
		return
	}

	balance, err := ls.coord.PeekBalance(r.Context(), ref)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	ls.cache.RefillNX(r.Context(), ref, balance)
	SendJSON(w, http.StatusOK, map[string]any{"balance": balance, "currency": kind, "cached": false})
}

// AdjustRequest is one single-account mutation request.
type AdjustRequest struct {
	UserID   string `json:"userId" validate:"required"`
	GroupID  string `json:"groupId"`
	Currency string `json:"currency" validate:"required"`
	Delta    int64  `json:"delta" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=200"`
}

// Adjust applies a signed delta to one account
// @Summary Adjust a balance
// @Description Apply a signed delta to one account with an audit reason
// @Tags ledger
// @Accept json
// @Produce json
// @Param adjustment body AdjustRequest true "Adjustment"
// @Success 200 {object} object{balance=int64,logId=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /adjust [post]
func (ls *LedgerService) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ls.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	kind, err := models.ParseCurrency(req.Currency)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	ref, err := ls.resolver.Resolve(r.Context(), middleware.BotID(r.Context()), req.GroupID, req.UserID, kind)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	res, err := ls.coord.Adjust(r.Context(), actorFrom(r, req.GroupID, req.UserID), ref, req.Delta, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"balance": res.NewBalance, "logId": res.LogID})
}

// TransferRequest is one two-account movement request.
type TransferRequest struct {
	FromUserID string `json:"fromUserId" validate:"required"`
	ToUserID   string `json:"toUserId" validate:"required,nefield=FromUserID"`
	GroupID    string `json:"groupId"`
	Currency   string `json:"currency" validate:"required"`
	Amount     int64  `json:"amount" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"required,max=200"`
}

// Transfer atomically moves an amount between two users
// @Summary Transfer between users
// @Description Atomic movement between two accounts of the same currency
// @Tags ledger
// @Accept json
// @Produce json
// @Param transfer body TransferRequest true "Transfer"
// @Success 200 {object} object{fromBalance=int64,toBalance=int64,entryId=string}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Router /transfer [post]
func (ls *LedgerService) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ls.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	kind, err := models.ParseCurrency(req.Currency)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	botID := middleware.BotID(r.Context())
	from, err := ls.resolver.Resolve(r.Context(), botID, req.GroupID, req.FromUserID, kind)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	to, err := ls.resolver.Resolve(r.Context(), botID, req.GroupID, req.ToUserID, kind)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	// Gifting is a credit grant to the receiver; throttle it the same way
	// as every other grant.
	grants, err := ls.audit.CountRecentGrants(r.Context(), req.ToUserID, kind, ls.grantWindow)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if grants >= ls.grantLimit {
		writeLedgerError(w, ledger.ErrRateLimited)
		return
	}

	res, err := ls.coord.Transfer(r.Context(), actorFrom(r, req.GroupID, req.FromUserID), from, to, req.Amount, req.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{
		"fromBalance": res.FromBalance,
		"toBalance":   res.ToBalance,
		"entryId":     res.EntryID,
	})
}

// CheckInRequest claims the daily credit grant for a user.
type CheckInRequest struct {
	UserID  string `json:"userId" validate:"required"`
	GroupID string `json:"groupId"`
}

// CheckIn grants the daily sign-in credit
// @Summary Daily check-in
// @Description Grant the configured daily credit once per day per user
// @Tags ledger
// @Accept json
// @Produce json
// @Param checkin body CheckInRequest true "Check-in"
// @Success 200 {object} object{balance=int64,granted=int64}
// @Failure 409 {object} ErrorResponse
// @Router /checkin [post]
func (ls *LedgerService) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ls.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	ref, err := ls.resolver.Resolve(r.Context(), middleware.BotID(r.Context()), req.GroupID, req.UserID, models.CurrencyCredit)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	// One claim per calendar day, tracked through the dated reason string.
	// The check runs under the account row lock so it sees any entry a
	// racing claim committed.
	reason := "checkin:" + time.Now().Format("2006-01-02")

	var res ledger.AdjustResult
	err = ls.coord.WithLock(r.Context(), actorFrom(r, req.GroupID, req.UserID), []models.AccountRef{ref},
		func(txn *ledger.Txn, accounts []*ledger.LockedAccount) error {
			var n int
			if err := txn.Tx().QueryRow(
				`SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1 AND reason = $2`,
				req.UserID, reason).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return errAlreadyClaimed
			}
			var err error
			res, err = txn.Apply(accounts[0], ls.checkinCredit, reason)
			return err
		})
	if errors.Is(err, errAlreadyClaimed) {
		SendErrorResponse(w, "Already checked in today", http.StatusConflict, nil)
		return
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"balance": res.NewBalance, "granted": ls.checkinCredit})
}

// Ranking returns the top balances for a currency
// @Summary Balance ranking
// @Description Leaderboard of the highest balances for one currency
// @Tags ledger
// @Produce json
// @Param currency query string true "Currency kind"
// @Param limit query int false "Number of entries (default 10, max 100)"
// @Success 200 {array} ledger.RankEntry
// @Failure 400 {object} ErrorResponse
// @Router /ranking [get]
func (ls *LedgerService) Ranking(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseCurrency(r.URL.Query().Get("currency"))
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l >= 1 && l <= 100 {
			limit = l
		}
	}

	ranking, err := ls.audit.TopBalances(r.Context(), kind, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"ranking": ranking, "count": len(ranking)})
}

// Statement returns the recent audit entries for one account
// @Summary Account statement
// @Description Recent ledger entries for one user's account, newest first
// @Tags ledger
// @Produce json
// @Param userId query string true "User ID"
// @Param currency query string true "Currency kind"
// @Param groupId query string false "Group ID"
// @Param limit query int false "Number of entries (default 20, max 100)"
// @Success 200 {array} models.LedgerEntry
// @Failure 400 {object} ErrorResponse
// @Router /statement [get]
func (ls *LedgerService) Statement(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	groupID := r.URL.Query().Get("groupId")

	kind, err := models.ParseCurrency(r.URL.Query().Get("currency"))
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	if userID == "" {
		SendErrorResponse(w, "userId is required", http.StatusBadRequest, nil)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l >= 1 && l <= 100 {
			limit = l
		}
	}

	ref, err := ls.resolver.Resolve(r.Context(), middleware.BotID(r.Context()), groupID, userID, kind)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	entries, err := ls.audit.RecentEntries(r.Context(), ref, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
