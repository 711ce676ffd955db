package services

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/changliaotong/BotMatrix-sub001/internal/fairplay"
	"github.com/changliaotong/BotMatrix-sub001/internal/middleware"
	"github.com/changliaotong/BotMatrix-sub001/internal/models"
)

// WagerService exposes the fair-play engine over HTTP.
type WagerService struct {
	engine    *fairplay.Engine
	validator *ValidationHelper
}

func NewWagerService(db *sql.DB, ledgerService *LedgerService) *WagerService {
	return &WagerService{
		engine: fairplay.NewEngine(db, ledgerService.Coordinator(),
			ledgerService.Resolver(), ledgerService.Audit()),
		validator: NewValidationHelper(),
	}
}

// WagerRequest opens one wagering round.
type WagerRequest struct {
	UserID  string `json:"userId" validate:"required"`
	GroupID string `json:"groupId"`
	BetType string `json:"betType" validate:"required,max=20"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`
}

// PlaceWager runs one provably fair wagering round
// @Summary Place a wager
// @Description Resolve, settle and chain one wagering round for a player
// @Tags wagers
// @Accept json
// @Produce json
// @Param wager body WagerRequest true "Wager"
// @Success 200 {object} object{roundId=string,outcome=string,payout=int64,digest=string}
// @Failure 400 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /wagers [post]
func (ws *WagerService) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req WagerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if _, err := ws.engine.Rules().Lookup(req.BetType); err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	actor := models.Actor{BotID: middleware.BotID(r.Context()), GroupID: req.GroupID, UserID: req.UserID}
	round, err := ws.engine.PlaceWager(r.Context(), actor, req.BetType, req.Amount)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"roundId": round.ID,
		"betType": round.BetType,
		"wager":   round.Wager,
		"outcome": round.Outcome,
		"payout":  round.Payout,
		"won":     round.Payout > round.Wager,
		"digest":  round.Digest,
	})
}

// VerifyRound reveals the chain fields of a settled round
// @Summary Verify a round
// @Description Return the previous digest, committed digest and revealed secret for player-side verification
// @Tags wagers
// @Produce json
// @Param roundId path string true "Round ID"
// @Success 200 {object} object{roundId=string,prevDigest=string,digest=string,secret=string}
// @Failure 404 {object} ErrorResponse
// @Router /wagers/{roundId}/verify [get]
func (ws *WagerService) VerifyRound(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundId")

	round, err := ws.engine.VerifyRound(r.Context(), roundID)
	if err != nil {
		SendErrorResponse(w, "Round not found", http.StatusNotFound, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"roundId":    round.ID,
		"betType":    round.BetType,
		"wager":      round.Wager,
		"outcome":    round.Outcome,
		"payout":     round.Payout,
		"prevDigest": round.PrevDigest,
		"digest":     round.Digest,
		"secret":     round.Secret,
		"createdAt":  round.CreatedAt,
	})
}
