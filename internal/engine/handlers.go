package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/model"
	"github.com/pumparena/round-engine/internal/store"
)

// --- Request/Response types ---

// CreateRoundRequest is the JSON body for round creation.
type CreateRoundRequest struct {
	DurationSeconds int64 `json:"duration_seconds"` // 0 → server default
}

// TradeRequest is the JSON body for POST /trade. Both buys and sells are
// denominated in SOL; sells convert to tokens at the current price.
type TradeRequest struct {
	RoundID   string          `json:"round_id"`
	PlayerID  string          `json:"player_id"`
	Type      string          `json:"type"` // "buy" or "sell"
	SolAmount decimal.Decimal `json:"sol_amount"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	TradeID      string          `json:"trade_id"`
	RoundID      string          `json:"round_id"`
	PlayerID     string          `json:"player_id"`
	Type         model.TradeType `json:"type"`
	SolAmount    decimal.Decimal `json:"sol_amount"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	TokenAmount  decimal.Decimal `json:"token_amount"`
	Price        decimal.Decimal `json:"price"`
	TokenBalance decimal.Decimal `json:"token_balance"`
}

// RoundResponse is a round plus its settlement once one exists.
type RoundResponse struct {
	*model.Round
	Settlement *model.Settlement `json:"settlement,omitempty"`
}

// PortfolioResponse summarizes a player's positions across all rounds.
type PortfolioResponse struct {
	PlayerID          string           `json:"player_id"`
	Spendable         decimal.Decimal  `json:"spendable"`
	PendingWithdrawal decimal.Decimal  `json:"pending_withdrawal"`
	Positions         []model.Position `json:"positions"`
	TotalSolIn        decimal.Decimal  `json:"total_sol_in"`
	TotalSolOut       decimal.Decimal  `json:"total_sol_out"`
	TotalFeesPaid     decimal.Decimal  `json:"total_fees_paid"`
}

// --- HTTP Handlers ---

// HandleCreateRound handles POST /api/v1/rounds
func (s *Service) HandleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds < 0 {
		writeError(w, "duration_seconds must be non-negative", http.StatusBadRequest)
		return
	}

	round, err := s.CreateRound(r.Context(), time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(round)
}

// HandleListRounds handles GET /api/v1/rounds
// Optionally filtered by ?status=active|completed|cancelled.
func (s *Service) HandleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.store.ListRounds(r.Context())
	if err != nil {
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		var filtered []model.Round
		for _, rd := range rounds {
			if string(rd.Status) == status {
				filtered = append(filtered, rd)
			}
		}
		if filtered == nil {
			filtered = []model.Round{}
		}
		rounds = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rounds)
}

// HandleGetRound handles GET /api/v1/rounds/{roundID}
func (s *Service) HandleGetRound(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	round, err := s.store.GetRound(r.Context(), roundID)
	if err != nil {
		writeError(w, "round not found", http.StatusNotFound)
		return
	}

	resp := RoundResponse{Round: round}
	if settlement, err := s.store.GetSettlement(r.Context(), roundID); err == nil {
		resp.Settlement = settlement
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleGetSnapshot handles GET /api/v1/rounds/{roundID}/snapshot
func (s *Service) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	snap, err := s.Snapshot(r.Context(), roundID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// HandleListTrades handles GET /api/v1/rounds/{roundID}/trades
func (s *Service) HandleListTrades(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	trades, err := s.store.ListTrades(r.Context(), roundID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// HandleTrade handles POST /api/v1/trade
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.RoundID == "" {
		writeError(w, "round_id is required", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" {
		writeError(w, "player_id is required", http.StatusBadRequest)
		return
	}
	tradeType := model.TradeType(req.Type)
	if tradeType != model.TradeBuy && tradeType != model.TradeSell {
		writeError(w, "type must be buy or sell", http.StatusBadRequest)
		return
	}
	if !req.SolAmount.IsPositive() {
		writeError(w, "sol_amount must be positive", http.StatusBadRequest)
		return
	}

	result, err := s.ExecuteTrade(r.Context(), TradeCommand{
		RoundID:   req.RoundID,
		PlayerID:  req.PlayerID,
		Type:      tradeType,
		SolAmount: req.SolAmount,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	t := result.Trade
	resp := TradeResponse{
		TradeID:      t.ID,
		RoundID:      t.RoundID,
		PlayerID:     t.PlayerID,
		Type:         t.Type,
		SolAmount:    t.SolAmount,
		FeeAmount:    t.FeeAmount,
		NetAmount:    t.NetAmount,
		TokenAmount:  t.TokenAmount,
		Price:        t.PriceAtTrade,
		TokenBalance: result.Position.TokenBalance,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleEndRound handles POST /api/v1/rounds/{roundID}/end
func (s *Service) HandleEndRound(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	settlement, err := s.EndRound(r.Context(), roundID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settlement)
}

// HandleCancelRound handles POST /api/v1/rounds/{roundID}/cancel
func (s *Service) HandleCancelRound(w http.ResponseWriter, r *http.Request) {
	roundID := chi.URLParam(r, "roundID")

	if err := s.CancelRound(r.Context(), roundID); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleGetPortfolio handles GET /api/v1/players/{playerID}/portfolio
func (s *Service) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	ctx := r.Context()

	positions, err := s.store.GetPlayerPositions(ctx, playerID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	balance, err := s.store.GetBalance(ctx, playerID)
	if err != nil {
		writeError(w, "failed to load balance", http.StatusInternalServerError)
		return
	}

	totalIn := decimal.Zero
	totalOut := decimal.Zero
	totalFees := decimal.Zero
	for _, p := range positions {
		totalIn = totalIn.Add(p.SolIn)
		totalOut = totalOut.Add(p.SolOut)
		totalFees = totalFees.Add(p.FeesPaid)
	}

	resp := PortfolioResponse{
		PlayerID:          playerID,
		Spendable:         balance.Spendable,
		PendingWithdrawal: balance.PendingWithdrawal,
		Positions:         positions,
		TotalSolIn:        totalIn,
		TotalSolOut:       totalOut,
		TotalFeesPaid:     totalFees,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Error writing ---

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps service-layer errors onto HTTP responses.
// Rejections carry their code; retryable conditions get 503/502.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusFor(ve.Code))
		json.NewEncoder(w).Encode(map[string]string{
			"error": ve.Message,
			"code":  ve.Code,
		})
		return
	}
	if errors.Is(err, ErrTryAgain) {
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		writeError(w, ce.Error(), http.StatusBadGateway)
		return
	}
	var iv *InvariantViolation
	if errors.As(err, &iv) {
		writeError(w, iv.Error(), http.StatusInternalServerError)
		return
	}
	if errors.Is(err, store.ErrConflict) {
		writeError(w, "concurrent update, try again", http.StatusServiceUnavailable)
		return
	}
	writeError(w, err.Error(), http.StatusInternalServerError)
}
