package curve

import (
	"testing"

	"github.com/shopspring/decimal"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newAMM(t *testing.T) *AMM {
	t.Helper()
	amm, err := New(d("0.000001"), 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return amm
}

// --- Constructor tests ---

func TestNew_ZeroBasePrice(t *testing.T) {
	if _, err := New(decimal.Zero, 200); err != ErrInvalidBasePrice {
		t.Errorf("expected ErrInvalidBasePrice, got %v", err)
	}
}

func TestNew_NegativeFee(t *testing.T) {
	if _, err := New(d("0.000001"), -1); err != ErrInvalidFee {
		t.Errorf("expected ErrInvalidFee for negative fee, got %v", err)
	}
}

func TestNew_FeeTooLarge(t *testing.T) {
	if _, err := New(d("0.000001"), 10_000); err != ErrInvalidFee {
		t.Errorf("expected ErrInvalidFee for 100%% fee, got %v", err)
	}
}

// --- Seed buy (zero reserve) ---

func TestBuy_SeedsPoolAtBasePrice(t *testing.T) {
	amm := newAMM(t)

	q, err := amm.Buy(decimal.Zero, d("1000000"), d("0.1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !q.Fee.Equal(d("0.002")) {
		t.Errorf("fee: expected 0.002, got %s", q.Fee)
	}
	if !q.NetSolIn.Equal(d("0.098")) {
		t.Errorf("netSolIn: expected 0.098, got %s", q.NetSolIn)
	}
	if !q.TokensOut.Equal(d("98000")) {
		t.Errorf("tokensOut: expected 98000, got %s", q.TokensOut)
	}
	if !q.NewReserve.Equal(d("0.098")) {
		t.Errorf("newReserve: expected 0.098, got %s", q.NewReserve)
	}
	if !q.NewSupply.Equal(d("902000")) {
		t.Errorf("newSupply: expected 902000, got %s", q.NewSupply)
	}
}

func TestBuy_SeedExhaustingSupplyRejected(t *testing.T) {
	amm := newAMM(t)

	// 1.1 SOL net buys more than the entire 1M supply at base price.
	_, err := amm.Buy(decimal.Zero, d("1000000"), d("1.1"))
	if err != ErrExceedsSupply {
		t.Errorf("expected ErrExceedsSupply, got %v", err)
	}
}

func TestBuy_NonPositiveAmount(t *testing.T) {
	amm := newAMM(t)
	if _, err := amm.Buy(decimal.Zero, d("1000000"), decimal.Zero); err != ErrNonPositiveAmount {
		t.Errorf("expected ErrNonPositiveAmount, got %v", err)
	}
}

// --- Curve buys and sells ---

func TestSell_AllTokensAfterSeedBuy(t *testing.T) {
	amm := newAMM(t)

	// Seed: 0.1 SOL buy → reserve 0.098, supply 902000, k = 88396.
	q, _ := amm.Buy(decimal.Zero, d("1000000"), d("0.1"))

	s, err := amm.Sell(q.NewReserve, q.NewSupply, q.TokensOut)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// gross = 0.098 - 88396/1000000 = 0.009604
	if !s.GrossSolOut.Equal(d("0.009604")) {
		t.Errorf("grossSolOut: expected 0.009604, got %s", s.GrossSolOut)
	}
	if !s.NewSupply.Equal(d("1000000")) {
		t.Errorf("newSupply: expected 1000000, got %s", s.NewSupply)
	}
	// Fee plus curve slippage guarantees net < SOL spent.
	if s.NetSolOut.GreaterThanOrEqual(d("0.098")) {
		t.Errorf("netSolOut must be < 0.098, got %s", s.NetSolOut)
	}
	if !s.Fee.Equal(d("0.00019208")) {
		t.Errorf("fee: expected 0.00019208, got %s", s.Fee)
	}
}

func TestBuy_CurveRaisesPrice(t *testing.T) {
	amm := newAMM(t)

	q1, _ := amm.Buy(decimal.Zero, d("1000000"), d("0.1"))
	q2, err := amm.Buy(q1.NewReserve, q1.NewSupply, d("0.05"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q2.NewPrice.LessThanOrEqual(q1.NewPrice) {
		t.Errorf("buy should raise price: before=%s after=%s", q1.NewPrice, q2.NewPrice)
	}
	if q2.NewSupply.GreaterThanOrEqual(q1.NewSupply) {
		t.Errorf("buy should shrink supply: before=%s after=%s", q1.NewSupply, q2.NewSupply)
	}
}

func TestBuyThenSell_HouseNeverLoses(t *testing.T) {
	amm := newAMM(t)

	tests := []struct {
		seed, buy string
	}{
		{"0.1", "0.05"},
		{"0.5", "0.25"},
		{"1", "0.001"},
		{"0.01", "0.9"},
	}
	for _, tt := range tests {
		q0, err := amm.Buy(decimal.Zero, d("1000000"), d(tt.seed))
		if err != nil {
			t.Fatalf("seed buy %s: %v", tt.seed, err)
		}
		q, err := amm.Buy(q0.NewReserve, q0.NewSupply, d(tt.buy))
		if err != nil {
			t.Fatalf("buy %s: %v", tt.buy, err)
		}
		s, err := amm.Sell(q.NewReserve, q.NewSupply, q.TokensOut)
		if err != nil {
			t.Fatalf("sell back %s: %v", tt.buy, err)
		}
		if s.NetSolOut.GreaterThan(d(tt.buy)) {
			t.Errorf("round trip of %s returned %s > spent", tt.buy, s.NetSolOut)
		}
	}
}

func TestTrades_ProductStaysWithinTolerance(t *testing.T) {
	amm := newAMM(t)

	q0, _ := amm.Buy(decimal.Zero, d("1000000"), d("0.2"))
	k := q0.NewReserve.Mul(q0.NewSupply)

	reserve, supply := q0.NewReserve, q0.NewSupply
	steps := []struct {
		typ string
		amt string
	}{
		{"buy", "0.05"},
		{"buy", "0.003"},
		{"sell", "10000"},
		{"buy", "0.11"},
		{"sell", "2500.5"},
	}

	for _, st := range steps {
		prevK := reserve.Mul(supply)
		if st.typ == "buy" {
			q, err := amm.Buy(reserve, supply, d(st.amt))
			if err != nil {
				t.Fatalf("buy %s: %v", st.amt, err)
			}
			reserve, supply = q.NewReserve, q.NewSupply
		} else {
			s, err := amm.Sell(reserve, supply, d(st.amt))
			if err != nil {
				t.Fatalf("sell %s: %v", st.amt, err)
			}
			reserve, supply = s.NewReserve, s.NewSupply
		}

		newK := reserve.Mul(supply)
		drift := newK.Sub(prevK)
		if drift.IsNegative() {
			t.Errorf("%s %s: product decreased below k (drift %s)", st.typ, st.amt, drift)
		}
		tol := InvariantTolerance(reserve, supply)
		if drift.GreaterThan(tol) {
			t.Errorf("%s %s: drift %s exceeds tolerance %s", st.typ, st.amt, drift, tol)
		}
	}

	// Cumulative drift across the sequence stays tiny relative to k.
	finalK := reserve.Mul(supply)
	if finalK.Sub(k).Abs().GreaterThan(k.Mul(d("0.000001"))) {
		t.Errorf("cumulative product drift too large: k=%s final=%s", k, finalK)
	}
}

// --- Price ---

func TestPrice_ZeroReserveIsBasePrice(t *testing.T) {
	amm := newAMM(t)
	if !amm.Price(decimal.Zero, d("1000000")).Equal(d("0.000001")) {
		t.Error("zero-liquidity price must equal base price")
	}
}

func TestPrice_ReserveOverSupply(t *testing.T) {
	amm := newAMM(t)
	p := amm.Price(d("0.098"), d("902000"))
	expected := d("0.098").DivRound(d("902000"), PriceScale)
	if !p.Equal(expected) {
		t.Errorf("expected %s, got %s", expected, p)
	}
}

// --- Forfeiture ---

func TestForfeitValue_NoFeeCharged(t *testing.T) {
	amm := newAMM(t)

	q, _ := amm.Buy(decimal.Zero, d("1000000"), d("0.1"))
	forfeit := amm.ForfeitValue(q.NewReserve, q.NewSupply, q.TokensOut)
	s, _ := amm.Sell(q.NewReserve, q.NewSupply, q.TokensOut)

	// Seizure is valued at the gross SOL leg: no fee deducted.
	if !forfeit.Equal(s.GrossSolOut) {
		t.Errorf("forfeit value %s should equal gross sell value %s", forfeit, s.GrossSolOut)
	}
	if forfeit.LessThanOrEqual(s.NetSolOut) {
		t.Errorf("forfeit %s should exceed fee-adjusted sell %s", forfeit, s.NetSolOut)
	}
}

func TestForfeitValue_IndependentPerPlayer(t *testing.T) {
	amm := newAMM(t)

	q, _ := amm.Buy(decimal.Zero, d("1000000"), d("1"))

	// Two players holding half each, valued independently against the same
	// final pool, sum to more than one player holding the lot. This is the
	// documented settlement approximation, pinned here on purpose.
	half := q.TokensOut.Div(d("2"))
	independent := amm.ForfeitValue(q.NewReserve, q.NewSupply, half).
		Add(amm.ForfeitValue(q.NewReserve, q.NewSupply, half))
	combined := amm.ForfeitValue(q.NewReserve, q.NewSupply, q.TokensOut)

	if independent.LessThanOrEqual(combined) {
		t.Errorf("independent valuation %s should exceed combined %s", independent, combined)
	}
}

func TestForfeitValue_ZeroTokens(t *testing.T) {
	amm := newAMM(t)
	if !amm.ForfeitValue(d("0.1"), d("900000"), decimal.Zero).IsZero() {
		t.Error("zero tokens forfeit zero SOL")
	}
}
