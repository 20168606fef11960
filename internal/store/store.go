// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing and development).
//
// All wallet/position/transaction mutation happens through Tx inside one
// Atomic scope, which is what makes settlement all-or-nothing: either
// every write in the scope lands, or none do.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/papertrade/ledger-engine/internal/model"
)

// ErrTxFailed wraps transaction begin/commit failures. The settlement
// call that hit it has rolled back completely.
var ErrTxFailed = errors.New("store transaction failed")

// Tx is the mutation surface available inside one atomic scope.
// Row reads inside a Tx take row locks, so two settlements touching the
// same wallet or position serialize instead of losing updates.
type Tx interface {
	// WalletForUpdate loads the user's wallet with a row lock, seeding a
	// fresh wallet with the store's starting cash on first use.
	WalletForUpdate(ctx context.Context, userID string) (*model.Wallet, error)

	// SaveWallet persists wallet state previously loaded in this scope.
	SaveWallet(ctx context.Context, w *model.Wallet) error

	// PositionForUpdate loads one (user, symbol, exchange, marginClass)
	// position with a row lock. Returns (nil, nil) when none exists.
	PositionForUpdate(ctx context.Context, userID, symbol string, exchange model.Exchange, marginClass model.MarginClass) (*model.Position, error)

	// SavePosition upserts a position.
	SavePosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a fully-closed position.
	DeletePosition(ctx context.Context, id string) error

	// AppendTransaction appends an immutable trade record.
	AppendTransaction(ctx context.Context, t *model.Transaction) error
}

// Store is the persistence interface.
type Store interface {
	// Atomic runs fn inside one transaction scope. If fn returns an
	// error, every write made through its Tx is rolled back and the
	// error is returned unchanged.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// Wallet returns the user's wallet, seeding one on first use.
	Wallet(ctx context.Context, userID string) (*model.Wallet, error)

	// Positions returns all open positions for a user.
	Positions(ctx context.Context, userID string) ([]model.Position, error)

	// StaleIntradayPositions returns intraday positions whose trade date
	// is strictly before the given trading day. An empty userID selects
	// positions across all users.
	StaleIntradayPositions(ctx context.Context, userID string, tradingDay time.Time) ([]model.Position, error)

	// Transactions returns a user's transactions, newest first.
	Transactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
}
