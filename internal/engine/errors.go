package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Rejection codes returned in trade/deposit error responses. Clients
// branch on the code; the message is for humans.
const (
	CodeRoundNotFound       = "ROUND_NOT_FOUND"
	CodeRoundNotActive      = "ROUND_NOT_ACTIVE"
	CodeRoundEnded          = "ROUND_ENDED"
	CodeMinTrade            = "MIN_TRADE"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInsufficientTokens  = "INSUFFICIENT_TOKENS"
	CodeDuplicateDeposit    = "DUPLICATE_DEPOSIT"
	CodeInvalidRequest      = "INVALID_REQUEST"
)

// ValidationError is a rejected request: the input was understood but the
// trade (or deposit) is not permitted in the current state.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func rejected(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// statusFor maps a rejection code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case CodeRoundNotFound:
		return http.StatusNotFound
	case CodeRoundNotActive, CodeRoundEnded:
		return http.StatusConflict
	case CodeDuplicateDeposit:
		return http.StatusConflict
	case CodeMinTrade, CodeInsufficientBalance, CodeInsufficientTokens, CodeInvalidRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// ErrTryAgain is returned when a trade lost the commit race more times
// than the retry budget allows. The request is safe to resubmit.
var ErrTryAgain = errors.New("engine: concurrent round activity, try again")

// InvariantViolation means post-trade pool state drifted outside
// tolerance. The trade is aborted before commit and the error is not
// retryable; it indicates a pricing bug, not a transient condition.
type InvariantViolation struct {
	RoundID string
	Detail  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("engine: pool invariant violated in round %s: %s", e.RoundID, e.Detail)
}

// CollaboratorError wraps a failure from an external dependency (payout
// executor, chain RPC). Retryable by the caller.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("engine: collaborator %s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
