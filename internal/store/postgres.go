package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pumparena/round-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Round rows carry a version column; trade and settlement commits update it
// with a guard clause, surfacing lost races as ErrConflict.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const roundColumns = `id, status, duration_seconds, started_at,
	sol_reserve::TEXT, token_supply::TEXT, current_price::TEXT,
	accumulated_fees::TEXT, forfeited_sol::TEXT,
	COALESCE(settlement_tx_ref, ''), version`

func scanRound(row pgx.Row) (*model.Round, error) {
	var r model.Round
	var durationSeconds int64
	var reserve, supply, price, fees, forfeited string

	err := row.Scan(&r.ID, &r.Status, &durationSeconds, &r.StartedAt,
		&reserve, &supply, &price, &fees, &forfeited,
		&r.SettlementTxRef, &r.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	r.Duration = time.Duration(durationSeconds) * time.Second
	r.SolReserve, _ = decimal.NewFromString(reserve)
	r.TokenSupply, _ = decimal.NewFromString(supply)
	r.CurrentPrice, _ = decimal.NewFromString(price)
	r.AccumulatedFees, _ = decimal.NewFromString(fees)
	r.ForfeitedSol, _ = decimal.NewFromString(forfeited)
	return &r, nil
}

func (s *PostgresStore) CreateRound(ctx context.Context, r *model.Round) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (id, status, duration_seconds, started_at,
		    sol_reserve, token_supply, current_price,
		    accumulated_fees, forfeited_sol, version)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		r.ID, r.Status, int64(r.Duration/time.Second), r.StartedAt,
		r.SolReserve.String(), r.TokenSupply.String(), r.CurrentPrice.String(),
		r.AccumulatedFees.String(), r.ForfeitedSol.String(), r.Version,
	)
	return err
}

func (s *PostgresStore) GetRound(ctx context.Context, id string) (*model.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get round %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context) ([]model.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

// updateRoundGuarded updates the round's mutable fields inside tx, guarded
// by status and version. Returns ErrConflict when the guard misses.
func updateRoundGuarded(ctx context.Context, tx pgx.Tx, r *model.Round) error {
	tag, err := tx.Exec(ctx,
		`UPDATE rounds
		 SET sol_reserve = $2::NUMERIC, token_supply = $3::NUMERIC,
		     current_price = $4::NUMERIC, accumulated_fees = $5::NUMERIC,
		     forfeited_sol = $6::NUMERIC, version = version + 1
		 WHERE id = $1 AND status = 'active' AND version = $7`,
		r.ID, r.SolReserve.String(), r.TokenSupply.String(),
		r.CurrentPrice.String(), r.AccumulatedFees.String(),
		r.ForfeitedSol.String(), r.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateRoundGuarded(ctx, tx, app.Round); err != nil {
		return err
	}

	t := app.Trade
	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, round_id, player_id, type, sol_amount,
		    fee_amount, net_amount, token_amount, price_at_trade, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.RoundID, t.PlayerID, t.Type,
		t.SolAmount.String(), t.FeeAmount.String(), t.NetAmount.String(),
		t.TokenAmount.String(), t.PriceAtTrade.String(), t.Timestamp,
	)
	if err != nil {
		return err
	}

	p := app.Position
	_, err = tx.Exec(ctx,
		`INSERT INTO positions (round_id, player_id, token_balance, sol_in, sol_out, fees_paid)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (round_id, player_id) DO UPDATE
		 SET token_balance = EXCLUDED.token_balance, sol_in = EXCLUDED.sol_in,
		     sol_out = EXCLUDED.sol_out, fees_paid = EXCLUDED.fees_paid`,
		p.RoundID, p.PlayerID, p.TokenBalance.String(),
		p.SolIn.String(), p.SolOut.String(), p.FeesPaid.String(),
	)
	if err != nil {
		return err
	}

	if err := upsertBalance(ctx, tx, app.Balance); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func upsertBalance(ctx context.Context, tx pgx.Tx, b *model.Balance) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (player_id, spendable, pending_withdrawal)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (player_id) DO UPDATE
		 SET spendable = EXCLUDED.spendable,
		     pending_withdrawal = EXCLUDED.pending_withdrawal`,
		b.PlayerID, b.Spendable.String(), b.PendingWithdrawal.String(),
	)
	return err
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, app *SettlementApplication) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updateRoundGuarded(ctx, tx, app.Round); err != nil {
		return err
	}

	for _, f := range app.Forfeitures {
		_, err = tx.Exec(ctx,
			`INSERT INTO forfeitures (round_id, player_id, tokens_forfeited, sol_value_forfeited)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
			 ON CONFLICT (round_id, player_id) DO NOTHING`,
			f.RoundID, f.PlayerID, f.TokensForfeited.String(), f.SolValueForfeited.String(),
		)
		if err != nil {
			return err
		}
	}

	st := app.Settlement
	_, err = tx.Exec(ctx,
		`INSERT INTO settlements (round_id, accumulated_fees, forfeited_sol, total_to_house, payout_ref, settled_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, NULLIF($5, ''), $6)
		 ON CONFLICT (round_id) DO NOTHING`,
		st.RoundID, st.AccumulatedFees.String(), st.ForfeitedSol.String(),
		st.TotalToHouse.String(), st.PayoutRef, st.SettledAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CompleteRound(ctx context.Context, roundID, payoutRef string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rounds
		 SET status = 'completed', settlement_tx_ref = NULLIF($2, ''), version = version + 1
		 WHERE id = $1 AND status = 'active'`,
		roundID, payoutRef,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	_, err = tx.Exec(ctx,
		`UPDATE settlements SET payout_ref = NULLIF($2, '') WHERE round_id = $1`,
		roundID, payoutRef,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) CancelRound(ctx context.Context, roundID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE rounds SET status = 'cancelled', version = version + 1
		 WHERE id = $1 AND status = 'active'`,
		roundID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO settlements (round_id, accumulated_fees, forfeited_sol, total_to_house, settled_at)
		 VALUES ($1, 0, 0, 0, $2)
		 ON CONFLICT (round_id) DO NOTHING`,
		roundID, time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSettlement(ctx context.Context, roundID string) (*model.Settlement, error) {
	var st model.Settlement
	var fees, forfeited, total string

	err := s.pool.QueryRow(ctx,
		`SELECT round_id, accumulated_fees::TEXT, forfeited_sol::TEXT,
		        total_to_house::TEXT, COALESCE(payout_ref, ''), settled_at
		 FROM settlements WHERE round_id = $1`, roundID).
		Scan(&st.RoundID, &fees, &forfeited, &total, &st.PayoutRef, &st.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get settlement %s: %w", roundID, err)
	}

	st.AccumulatedFees, _ = decimal.NewFromString(fees)
	st.ForfeitedSol, _ = decimal.NewFromString(forfeited)
	st.TotalToHouse, _ = decimal.NewFromString(total)
	return &st, nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, roundID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, round_id, player_id, type, sol_amount::TEXT,
		        fee_amount::TEXT, net_amount::TEXT, token_amount::TEXT,
		        price_at_trade::TEXT, timestamp
		 FROM trades WHERE round_id = $1 ORDER BY timestamp`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var sol, fee, net, tokens, price string

		if err := rows.Scan(&t.ID, &t.RoundID, &t.PlayerID, &t.Type,
			&sol, &fee, &net, &tokens, &price, &t.Timestamp); err != nil {
			return nil, err
		}
		t.SolAmount, _ = decimal.NewFromString(sol)
		t.FeeAmount, _ = decimal.NewFromString(fee)
		t.NetAmount, _ = decimal.NewFromString(net)
		t.TokenAmount, _ = decimal.NewFromString(tokens)
		t.PriceAtTrade, _ = decimal.NewFromString(price)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var balance, solIn, solOut, fees string

		if err := rows.Scan(&p.RoundID, &p.PlayerID, &balance, &solIn, &solOut, &fees); err != nil {
			return nil, err
		}
		p.TokenBalance, _ = decimal.NewFromString(balance)
		p.SolIn, _ = decimal.NewFromString(solIn)
		p.SolOut, _ = decimal.NewFromString(solOut)
		p.FeesPaid, _ = decimal.NewFromString(fees)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

const positionColumns = `round_id, player_id, token_balance::TEXT,
	sol_in::TEXT, sol_out::TEXT, fees_paid::TEXT`

func (s *PostgresStore) GetPosition(ctx context.Context, roundID, playerID string) (*model.Position, error) {
	var p model.Position
	var balance, solIn, solOut, fees string

	err := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE round_id = $1 AND player_id = $2`,
		roundID, playerID).
		Scan(&p.RoundID, &p.PlayerID, &balance, &solIn, &solOut, &fees)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	p.TokenBalance, _ = decimal.NewFromString(balance)
	p.SolIn, _ = decimal.NewFromString(solIn)
	p.SolOut, _ = decimal.NewFromString(solOut)
	p.FeesPaid, _ = decimal.NewFromString(fees)
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, roundID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE round_id = $1 ORDER BY player_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) GetPlayerPositions(ctx context.Context, playerID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE player_id = $1 ORDER BY round_id`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListForfeitures(ctx context.Context, roundID string) ([]model.Forfeiture, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT round_id, player_id, tokens_forfeited::TEXT, sol_value_forfeited::TEXT
		 FROM forfeitures WHERE round_id = $1 ORDER BY player_id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forfeitures []model.Forfeiture
	for rows.Next() {
		var f model.Forfeiture
		var tokens, value string

		if err := rows.Scan(&f.RoundID, &f.PlayerID, &tokens, &value); err != nil {
			return nil, err
		}
		f.TokensForfeited, _ = decimal.NewFromString(tokens)
		f.SolValueForfeited, _ = decimal.NewFromString(value)
		forfeitures = append(forfeitures, f)
	}
	return forfeitures, rows.Err()
}

func (s *PostgresStore) GetBalance(ctx context.Context, playerID string) (*model.Balance, error) {
	var b model.Balance
	var spendable, pending string

	err := s.pool.QueryRow(ctx,
		`SELECT player_id, spendable::TEXT, pending_withdrawal::TEXT
		 FROM balances WHERE player_id = $1`, playerID).
		Scan(&b.PlayerID, &spendable, &pending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Balance{
				PlayerID:          playerID,
				Spendable:         decimal.Zero,
				PendingWithdrawal: decimal.Zero,
			}, nil
		}
		return nil, err
	}

	b.Spendable, _ = decimal.NewFromString(spendable)
	b.PendingWithdrawal, _ = decimal.NewFromString(pending)
	return &b, nil
}

func (s *PostgresStore) CreditDeposit(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The unique index on external_tx_id is the idempotency guard.
	if err := insertAudit(ctx, tx, playerID, model.AuditDeposit, amount, externalTxID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balances (player_id, spendable, pending_withdrawal)
		 VALUES ($1, $2::NUMERIC, 0)
		 ON CONFLICT (player_id) DO UPDATE
		 SET spendable = balances.spendable + EXCLUDED.spendable`,
		playerID, amount.String(),
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertAudit(ctx context.Context, tx pgx.Tx, playerID string, kind model.AuditKind, amount decimal.Decimal, externalTxID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO deposit_audit (id, player_id, kind, amount, external_tx_id, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, NULLIF($5, ''), $6)`,
		uuid.New().String(), playerID, kind, amount.String(), externalTxID, time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateDeposit
		}
		return err
	}
	return nil
}

func (s *PostgresStore) ReserveWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE balances
		 SET spendable = spendable - $2::NUMERIC,
		     pending_withdrawal = pending_withdrawal + $2::NUMERIC
		 WHERE player_id = $1 AND spendable >= $2::NUMERIC`,
		playerID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	if err := insertAudit(ctx, tx, playerID, model.AuditWithdrawalRequest, amount, ""); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ConfirmWithdrawal(ctx context.Context, playerID string, amount decimal.Decimal, externalTxID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertAudit(ctx, tx, playerID, model.AuditWithdrawalConfirm, amount, externalTxID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE balances
		 SET pending_withdrawal = pending_withdrawal - $2::NUMERIC
		 WHERE player_id = $1 AND pending_withdrawal >= $2::NUMERIC`,
		playerID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}

	return tx.Commit(ctx)
}
