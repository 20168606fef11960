package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Atomic scopes map to database transactions; WalletForUpdate and
// PositionForUpdate take FOR UPDATE row locks so concurrent settlements
// on the same rows serialize.
type PostgresStore struct {
	pool         *pgxpool.Pool
	startingCash decimal.Decimal
}

// NewPostgresStore creates a new PostgreSQL-backed store. New wallets
// are seeded with startingCash.
func NewPostgresStore(pool *pgxpool.Pool, startingCash decimal.Decimal) *PostgresStore {
	return &PostgresStore{pool: pool, startingCash: startingCash}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id             TEXT PRIMARY KEY,
			virtual_cash        NUMERIC NOT NULL,
			mis_margin_used     NUMERIC NOT NULL DEFAULT 0,
			updated_at          TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			exchange       TEXT NOT NULL,
			margin_class   TEXT NOT NULL,
			quantity       BIGINT NOT NULL,
			average_price  NUMERIC NOT NULL,
			total_invested NUMERIC NOT NULL,
			margin_locked  NUMERIC NOT NULL DEFAULT 0,
			trade_date     DATE NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, symbol, exchange, margin_class)
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id                        TEXT PRIMARY KEY,
			user_id                   TEXT NOT NULL,
			symbol                    TEXT NOT NULL,
			exchange                  TEXT NOT NULL,
			margin_class              TEXT NOT NULL,
			type                      TEXT NOT NULL,
			quantity                  BIGINT NOT NULL,
			price                     NUMERIC NOT NULL,
			total_amount              NUMERIC NOT NULL,
			brokerage                 NUMERIC NOT NULL,
			taxes                     NUMERIC NOT NULL,
			total_charges             NUMERIC NOT NULL,
			net_amount                NUMERIC NOT NULL,
			balance_after             NUMERIC NOT NULL,
			status                    TEXT NOT NULL,
			executed_at               TIMESTAMPTZ NOT NULL,
			is_auto_square_off        BOOLEAN NOT NULL DEFAULT FALSE,
			scheduled_square_off_time TIMESTAMPTZ,
			actual_execution_time     TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_txn_user_time ON transactions (user_id, executed_at DESC);
		CREATE INDEX IF NOT EXISTS idx_pos_stale ON positions (margin_class, trade_date);
	`)
	return err
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxFailed, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx, startingCash: s.startingCash}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxFailed, err)
	}
	return nil
}

type pgTx struct {
	tx           pgx.Tx
	startingCash decimal.Decimal
}

func (t *pgTx) WalletForUpdate(ctx context.Context, userID string) (*model.Wallet, error) {
	w := &model.Wallet{UserID: userID}
	var cash, margin string

	err := t.tx.QueryRow(ctx,
		`SELECT virtual_cash::TEXT, mis_margin_used::TEXT, updated_at
		 FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&cash, &margin, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// First trade for this user: seed the wallet inside this scope so
		// the insert participates in the settlement transaction.
		w.VirtualCash = t.startingCash
		w.UpdatedAt = time.Now().UTC()
		_, err = t.tx.Exec(ctx,
			`INSERT INTO wallets (user_id, virtual_cash, mis_margin_used, updated_at)
			 VALUES ($1, $2::NUMERIC, 0, $3)`,
			userID, w.VirtualCash.String(), w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("seed wallet %s: %w", userID, err)
		}
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", userID, err)
	}

	if err := parseNumeric(&w.VirtualCash, "virtual_cash", cash); err != nil {
		return nil, err
	}
	if err := parseNumeric(&w.MISMarginUsed, "mis_margin_used", margin); err != nil {
		return nil, err
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, w *model.Wallet) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE wallets
		 SET virtual_cash = $2::NUMERIC, mis_margin_used = $3::NUMERIC, updated_at = $4
		 WHERE user_id = $1`,
		w.UserID, w.VirtualCash.String(), w.MISMarginUsed.String(), time.Now().UTC())
	return err
}

const positionColumns = `id, user_id, symbol, exchange, margin_class, quantity,
	average_price::TEXT, total_invested::TEXT, margin_locked::TEXT,
	trade_date, created_at, updated_at`

func (t *pgTx) PositionForUpdate(ctx context.Context, userID, symbol string, ex model.Exchange, mc model.MarginClass) (*model.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE user_id = $1 AND symbol = $2 AND exchange = $3 AND margin_class = $4
		 FOR UPDATE`,
		userID, symbol, string(ex), string(mc))

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load position %s/%s: %w", userID, symbol, err)
	}
	return p, nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions
			(id, user_id, symbol, exchange, margin_class, quantity,
			 average_price, total_invested, margin_locked, trade_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)
		 ON CONFLICT (user_id, symbol, exchange, margin_class) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_price = EXCLUDED.average_price,
			total_invested = EXCLUDED.total_invested,
			margin_locked = EXCLUDED.margin_locked,
			trade_date = EXCLUDED.trade_date,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.Symbol, string(p.Exchange), string(p.MarginClass), p.Quantity,
		p.AveragePrice.String(), p.TotalInvested.String(), p.MarginLocked.String(),
		p.TradeDate, p.CreatedAt, time.Now().UTC())
	return err
}

func (t *pgTx) DeletePosition(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s not found", id)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions
			(id, user_id, symbol, exchange, margin_class, type, quantity,
			 price, total_amount, brokerage, taxes, total_charges, net_amount,
			 balance_after, status, executed_at,
			 is_auto_square_off, scheduled_square_off_time, actual_execution_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7,
			 $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13::NUMERIC,
			 $14::NUMERIC, $15, $16, $17, $18, $19)`,
		txn.ID, txn.UserID, txn.Symbol, string(txn.Exchange), string(txn.MarginClass), string(txn.Type), txn.Quantity,
		txn.Price.String(), txn.TotalAmount.String(), txn.Brokerage.String(), txn.Taxes.String(),
		txn.TotalCharges.String(), txn.NetAmount.String(),
		txn.BalanceAfter.String(), string(txn.Status), txn.ExecutedAt,
		txn.IsAutoSquareOff, txn.ScheduledSquareOffTime, txn.ActualExecutionTime)
	return err
}

// --- Non-transactional reads ---

func (s *PostgresStore) Wallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w := &model.Wallet{UserID: userID}
	var cash, margin string

	err := s.pool.QueryRow(ctx,
		`SELECT virtual_cash::TEXT, mis_margin_used::TEXT, updated_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&cash, &margin, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Seed outside a settlement so first portfolio reads work too.
		w.VirtualCash = s.startingCash
		w.UpdatedAt = time.Now().UTC()
		_, err = s.pool.Exec(ctx,
			`INSERT INTO wallets (user_id, virtual_cash, mis_margin_used, updated_at)
			 VALUES ($1, $2::NUMERIC, 0, $3)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID, w.VirtualCash.String(), w.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("seed wallet %s: %w", userID, err)
		}
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", userID, err)
	}

	if err := parseNumeric(&w.VirtualCash, "virtual_cash", cash); err != nil {
		return nil, err
	}
	if err := parseNumeric(&w.MISMarginUsed, "mis_margin_used", margin); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *PostgresStore) Positions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions WHERE user_id = $1
		 ORDER BY symbol, margin_class`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) StaleIntradayPositions(ctx context.Context, userID string, tradingDay time.Time) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + `
		 FROM positions
		 WHERE margin_class = $1 AND trade_date < $2`
	args := []any{string(model.Intraday), tradingDay}
	if userID != "" {
		query += ` AND user_id = $3`
		args = append(args, userID)
	}
	query += ` ORDER BY user_id, symbol`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, exchange, margin_class, type, quantity,
			price::TEXT, total_amount::TEXT, brokerage::TEXT, taxes::TEXT,
			total_charges::TEXT, net_amount::TEXT, balance_after::TEXT,
			status, executed_at,
			is_auto_square_off, scheduled_square_off_time, actual_execution_time
		 FROM transactions WHERE user_id = $1
		 ORDER BY executed_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var ex, mc, side, status string
		var price, total, brokerage, taxes, charges, net, balance string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &ex, &mc, &side, &t.Quantity,
			&price, &total, &brokerage, &taxes, &charges, &net, &balance,
			&status, &t.ExecutedAt,
			&t.IsAutoSquareOff, &t.ScheduledSquareOffTime, &t.ActualExecutionTime); err != nil {
			return nil, err
		}

		t.Exchange = model.Exchange(ex)
		t.MarginClass = model.MarginClass(mc)
		t.Type = model.Side(side)
		t.Status = model.TransactionStatus(status)
		for _, f := range []struct {
			dst  *decimal.Decimal
			name string
			raw  string
		}{
			{&t.Price, "price", price},
			{&t.TotalAmount, "total_amount", total},
			{&t.Brokerage, "brokerage", brokerage},
			{&t.Taxes, "taxes", taxes},
			{&t.TotalCharges, "total_charges", charges},
			{&t.NetAmount, "net_amount", net},
			{&t.BalanceAfter, "balance_after", balance},
		} {
			if err := parseNumeric(f.dst, f.name, f.raw); err != nil {
				return nil, err
			}
		}

		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var ex, mc string
	var avg, invested, locked string

	if err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &ex, &mc, &p.Quantity,
		&avg, &invested, &locked,
		&p.TradeDate, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	p.Exchange = model.Exchange(ex)
	p.MarginClass = model.MarginClass(mc)
	if err := parseNumeric(&p.AveragePrice, "average_price", avg); err != nil {
		return nil, err
	}
	if err := parseNumeric(&p.TotalInvested, "total_invested", invested); err != nil {
		return nil, err
	}
	if err := parseNumeric(&p.MarginLocked, "margin_locked", locked); err != nil {
		return nil, err
	}
	return &p, nil
}

// parseNumeric converts a NUMERIC column scanned as text. A value that
// does not parse is corruption, never silently zeroed.
func parseNumeric(dst *decimal.Decimal, column, raw string) error {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", column, raw, err)
	}
	*dst = d
	return nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
