package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/curve"
	"github.com/pumparena/round-engine/internal/model"
)

// TradeValidator applies the admission checks that run before pricing.
// Checks run in a fixed order so one request always gets the same
// rejection code: round state, deadline, trade size, then funds.
type TradeValidator struct {
	MinTrade decimal.Decimal
}

// NewTradeValidator creates a validator with the given minimum trade size.
func NewTradeValidator(minTrade decimal.Decimal) *TradeValidator {
	return &TradeValidator{MinTrade: minTrade}
}

func (v *TradeValidator) checkRound(round *model.Round, now time.Time) error {
	if round.Status != model.RoundActive {
		return rejected(CodeRoundNotActive, "round %s is %s", round.ID, round.Status)
	}
	if round.Expired(now) {
		return rejected(CodeRoundEnded, "round %s trading window closed at %s",
			round.ID, round.Deadline().UTC().Format(time.RFC3339))
	}
	return nil
}

func (v *TradeValidator) checkAmount(solAmount decimal.Decimal) error {
	if solAmount.LessThan(v.MinTrade) {
		return rejected(CodeMinTrade, "trade amount %s below minimum %s SOL",
			solAmount.String(), v.MinTrade.String())
	}
	return nil
}

// ValidateBuy admits a buy of solAmount against the player's spendable
// balance.
func (v *TradeValidator) ValidateBuy(round *model.Round, now time.Time, solAmount, spendable decimal.Decimal) error {
	if err := v.checkRound(round, now); err != nil {
		return err
	}
	if err := v.checkAmount(solAmount); err != nil {
		return err
	}
	if spendable.LessThan(solAmount) {
		return rejected(CodeInsufficientBalance, "spendable balance %s below trade amount %s",
			spendable.String(), solAmount.String())
	}
	return nil
}

// ValidateSell admits a sell request denominated in SOL and converts it to
// a token quantity at the current price, floored to token precision. The
// player must hold at least that many tokens.
func (v *TradeValidator) ValidateSell(round *model.Round, now time.Time, solAmount decimal.Decimal, position *model.Position) (decimal.Decimal, error) {
	if err := v.checkRound(round, now); err != nil {
		return decimal.Zero, err
	}
	if err := v.checkAmount(solAmount); err != nil {
		return decimal.Zero, err
	}

	price := round.CurrentPrice
	if !price.IsPositive() {
		// No buys yet; nothing can be sold.
		return decimal.Zero, rejected(CodeInsufficientTokens, "round %s has no tokens in circulation", round.ID)
	}

	tokensToSell := solAmount.DivRound(price, curve.TokenScale+1).
		RoundFloor(curve.TokenScale)
	if !tokensToSell.IsPositive() {
		return decimal.Zero, rejected(CodeMinTrade, "sell amount %s converts to zero tokens at price %s",
			solAmount.String(), price.String())
	}

	held := decimal.Zero
	if position != nil {
		held = position.TokenBalance
	}
	if tokensToSell.GreaterThan(held) {
		return decimal.Zero, rejected(CodeInsufficientTokens, "sell requires %s tokens, position holds %s",
			tokensToSell.String(), held.String())
	}
	return tokensToSell, nil
}
