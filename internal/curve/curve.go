// Package curve implements the constant-product market maker used to price
// buys and sells against a round's liquidity pool.
//
// The invariant solReserve × tokenSupply = k is held constant across trades
// (modulo fees, which never enter the pool). The curve is undefined at zero
// liquidity, so a round's first buy is priced linearly at a fixed base
// price; that trade seeds k for the rest of the round.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Rounding is always in the house's favor: token and SOL payouts are
// floored, fees are ceiled. This keeps the post-trade product at or above
// k instead of letting accumulated rounding leak value out of the pool.
package curve

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidBasePrice is returned when the seed price is not positive.
	ErrInvalidBasePrice = errors.New("curve: base price must be positive")

	// ErrInvalidFee is returned when the fee is outside [0, 10000) bps.
	ErrInvalidFee = errors.New("curve: fee must be in [0, 10000) basis points")

	// ErrNonPositiveAmount is returned for zero or negative trade amounts.
	ErrNonPositiveAmount = errors.New("curve: amount must be positive")

	// ErrExceedsSupply is returned when a seed buy would drain the entire
	// token supply, which would leave the curve undefined.
	ErrExceedsSupply = errors.New("curve: trade would exhaust token supply")
)

// Decimal scales for the three quantity kinds.
const (
	// SolScale is 9 decimal places (lamport precision).
	SolScale int32 = 9

	// TokenScale is 6 decimal places for token quantities.
	TokenScale int32 = 6

	// PriceScale is 12 decimal places for SOL-per-token prices, which sit
	// in the 1e-7..1e-6 range for typical pool states.
	PriceScale int32 = 12
)

var bpsDenominator = decimal.NewFromInt(10_000)

// BuyQuote is the result of pricing a buy against the pool.
type BuyQuote struct {
	Fee        decimal.Decimal // house fee, taken from SOL in
	NetSolIn   decimal.Decimal // SOL entering the pool
	TokensOut  decimal.Decimal // tokens leaving the pool
	NewReserve decimal.Decimal
	NewSupply  decimal.Decimal
	NewPrice   decimal.Decimal
}

// SellQuote is the result of pricing a sell against the pool.
type SellQuote struct {
	GrossSolOut decimal.Decimal // SOL leaving the pool
	Fee         decimal.Decimal // house fee, taken from SOL out
	NetSolOut   decimal.Decimal // SOL paid to the player
	TokensIn    decimal.Decimal // tokens returned to the pool
	NewReserve  decimal.Decimal
	NewSupply   decimal.Decimal
	NewPrice    decimal.Decimal
}

// AMM prices trades for a round's pool. It is stateless — reserve and
// supply are passed as arguments, not stored.
type AMM struct {
	basePrice decimal.Decimal
	feeBps    decimal.Decimal
}

// New creates an AMM with the given seed price (SOL per token at zero
// liquidity) and house fee in basis points, applied once per trade.
func New(basePrice decimal.Decimal, feeBps int64) (*AMM, error) {
	if basePrice.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidBasePrice
	}
	if feeBps < 0 || feeBps >= 10_000 {
		return nil, ErrInvalidFee
	}
	return &AMM{
		basePrice: basePrice,
		feeBps:    decimal.NewFromInt(feeBps),
	}, nil
}

// BasePrice returns the zero-liquidity seed price.
func (a *AMM) BasePrice() decimal.Decimal { return a.basePrice }

// fee returns the house fee on amount, ceiled to SOL precision.
func (a *AMM) fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(a.feeBps).Div(bpsDenominator).RoundCeil(SolScale)
}

// Price returns the instantaneous SOL-per-token price for the given pool
// state: reserve/supply, or the base price at zero liquidity.
func (a *AMM) Price(solReserve, tokenSupply decimal.Decimal) decimal.Decimal {
	if solReserve.IsZero() || tokenSupply.IsZero() {
		return a.basePrice
	}
	return solReserve.DivRound(tokenSupply, PriceScale)
}

// Buy prices a buy of solIn SOL against the pool.
//
// At zero reserve (the round's first trade) tokens are priced linearly at
// the base price and the resulting state seeds k. Otherwise constant
// product applies: newReserve = reserve + netSolIn, newSupply = k/newReserve,
// tokensOut = supply - newSupply.
func (a *AMM) Buy(solReserve, tokenSupply, solIn decimal.Decimal) (BuyQuote, error) {
	if solIn.LessThanOrEqual(decimal.Zero) {
		return BuyQuote{}, ErrNonPositiveAmount
	}

	fee := a.fee(solIn)
	netSolIn := solIn.Sub(fee)

	var tokensOut decimal.Decimal
	if solReserve.IsZero() {
		tokensOut = netSolIn.DivRound(a.basePrice, TokenScale+1).RoundFloor(TokenScale)
		if tokensOut.GreaterThanOrEqual(tokenSupply) {
			return BuyQuote{}, ErrExceedsSupply
		}
	} else {
		k := solReserve.Mul(tokenSupply)
		newReserve := solReserve.Add(netSolIn)
		newSupplyExact := k.DivRound(newReserve, TokenScale+3)
		tokensOut = tokenSupply.Sub(newSupplyExact).RoundFloor(TokenScale)
		if tokensOut.IsNegative() {
			tokensOut = decimal.Zero
		}
	}

	newReserve := solReserve.Add(netSolIn)
	newSupply := tokenSupply.Sub(tokensOut)

	return BuyQuote{
		Fee:        fee,
		NetSolIn:   netSolIn,
		TokensOut:  tokensOut,
		NewReserve: newReserve,
		NewSupply:  newSupply,
		NewPrice:   a.Price(newReserve, newSupply),
	}, nil
}

// Sell prices a sell of tokensIn tokens against the pool. Symmetric to Buy:
// newSupply = supply + tokensIn, newReserve = k/newSupply, gross SOL out is
// the reserve delta and the fee is taken from the gross SOL leg.
//
// Callers must ensure tokensIn does not exceed the player's balance; the
// curve itself only rejects non-positive amounts and empty pools.
func (a *AMM) Sell(solReserve, tokenSupply, tokensIn decimal.Decimal) (SellQuote, error) {
	if tokensIn.LessThanOrEqual(decimal.Zero) {
		return SellQuote{}, ErrNonPositiveAmount
	}
	if solReserve.LessThanOrEqual(decimal.Zero) {
		return SellQuote{}, ErrNonPositiveAmount
	}

	k := solReserve.Mul(tokenSupply)
	newSupply := tokenSupply.Add(tokensIn)
	newReserveExact := k.DivRound(newSupply, SolScale+3)
	gross := solReserve.Sub(newReserveExact).RoundFloor(SolScale)
	if gross.IsNegative() {
		gross = decimal.Zero
	}
	newReserve := solReserve.Sub(gross)

	fee := a.fee(gross)
	netSolOut := gross.Sub(fee)
	if netSolOut.IsNegative() {
		// A dust-sized sell whose ceiled fee exceeds the floored gross
		// pays out nothing; the fee still accrues to the house.
		fee = gross
		netSolOut = decimal.Zero
	}

	return SellQuote{
		GrossSolOut: gross,
		Fee:         fee,
		NetSolOut:   netSolOut,
		TokensIn:    tokensIn,
		NewReserve:  newReserve,
		NewSupply:   newSupply,
		NewPrice:    a.Price(newReserve, newSupply),
	}, nil
}

// ForfeitValue returns the SOL value of seizing tokens against the current
// curve: reserve - k/(supply + tokens). No fee is charged — forfeiture is a
// seizure, not a trade. Each forfeiture is valued independently against the
// same pool state; concurrent forfeitures are not chained through the curve.
func (a *AMM) ForfeitValue(solReserve, tokenSupply, tokens decimal.Decimal) decimal.Decimal {
	if tokens.LessThanOrEqual(decimal.Zero) || solReserve.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	k := solReserve.Mul(tokenSupply)
	newSupply := tokenSupply.Add(tokens)
	value := solReserve.Sub(k.DivRound(newSupply, SolScale+3)).RoundFloor(SolScale)
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}

// InvariantTolerance returns the maximum drift of reserve×supply permitted
// by a single trade's rounding: one token rounding unit priced at the
// reserve plus one SOL rounding unit scaled by the supply.
func InvariantTolerance(solReserve, tokenSupply decimal.Decimal) decimal.Decimal {
	tokenUnit := decimal.New(1, -TokenScale)
	solUnit := decimal.New(1, -SolScale)
	return solReserve.Mul(tokenUnit).Add(tokenSupply.Mul(solUnit)).Add(tokenUnit)
}
