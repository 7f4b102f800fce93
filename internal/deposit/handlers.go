package deposit

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// DepositRequest is the JSON body for POST /api/v1/deposits.
type DepositRequest struct {
	PlayerID     string          `json:"player_id"`
	Amount       decimal.Decimal `json:"amount"`
	ExternalTxID string          `json:"external_tx_id"`
}

// WithdrawalRequest is the JSON body for POST /api/v1/withdrawals.
type WithdrawalRequest struct {
	PlayerID    string          `json:"player_id"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
}

// ConfirmRequest is the JSON body for POST /api/v1/withdrawals/confirm.
type ConfirmRequest struct {
	PlayerID     string          `json:"player_id"`
	Amount       decimal.Decimal `json:"amount"`
	ExternalTxID string          `json:"external_tx_id"`
}

// HandleDeposit handles POST /api/v1/deposits
func (l *Ledger) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "", http.StatusBadRequest)
		return
	}

	if err := l.CreditDeposit(r.Context(), req.PlayerID, req.Amount, req.ExternalTxID); err != nil {
		writeLedgerError(w, err)
		return
	}

	balance, err := l.Balance(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, "failed to load balance", "", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(balance)
}

// HandleWithdrawal handles POST /api/v1/withdrawals
func (l *Ledger) HandleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "", http.StatusBadRequest)
		return
	}

	if err := l.RequestWithdrawal(r.Context(), req.PlayerID, req.Destination, req.Amount); err != nil {
		writeLedgerError(w, err)
		return
	}

	balance, err := l.Balance(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, "failed to load balance", "", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// HandleConfirmWithdrawal handles POST /api/v1/withdrawals/confirm
func (l *Ledger) HandleConfirmWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", "", http.StatusBadRequest)
		return
	}

	if err := l.ConfirmWithdrawal(r.Context(), req.PlayerID, req.Amount, req.ExternalTxID); err != nil {
		writeLedgerError(w, err)
		return
	}

	balance, err := l.Balance(r.Context(), req.PlayerID)
	if err != nil {
		writeError(w, "failed to load balance", "", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// HandleGetBalance handles GET /api/v1/players/{playerID}/balance
func (l *Ledger) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	balance, err := l.Balance(r.Context(), playerID)
	if err != nil {
		writeError(w, "failed to load balance", "", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": message}
	if code != "" {
		body["code"] = code
	}
	json.NewEncoder(w).Encode(body)
}

func writeLedgerError(w http.ResponseWriter, err error) {
	var le *Error
	if errors.As(err, &le) {
		status := http.StatusUnprocessableEntity
		if le.Code == CodeDuplicateDeposit {
			status = http.StatusConflict
		}
		writeError(w, le.Message, le.Code, status)
		return
	}
	writeError(w, err.Error(), "", http.StatusInternalServerError)
}
