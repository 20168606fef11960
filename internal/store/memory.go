package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// A single mutex serializes every Atomic scope, which gives the same
// lost-update protection the Postgres row locks provide. Rollback works
// by snapshotting all state at scope entry and restoring it on error.
type MemoryStore struct {
	mu           sync.Mutex
	startingCash decimal.Decimal
	wallets      map[string]*model.Wallet
	positions    map[string]*model.Position
	txns         []model.Transaction
}

// NewMemoryStore creates a new in-memory store. New wallets are seeded
// with startingCash.
func NewMemoryStore(startingCash decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		startingCash: startingCash,
		wallets:      make(map[string]*model.Wallet),
		positions:    make(map[string]*model.Position),
	}
}

func posKey(userID, symbol string, ex model.Exchange, mc model.MarginClass) string {
	return fmt.Sprintf("%s|%s|%s|%s", userID, symbol, ex, mc)
}

func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot for rollback.
	wallets := make(map[string]*model.Wallet, len(s.wallets))
	for k, w := range s.wallets {
		copy := *w
		wallets[k] = &copy
	}
	positions := make(map[string]*model.Position, len(s.positions))
	for k, p := range s.positions {
		copy := *p
		positions[k] = &copy
	}
	nTxns := len(s.txns)

	if err := fn(&memTx{s: s}); err != nil {
		s.wallets = wallets
		s.positions = positions
		s.txns = s.txns[:nTxns]
		return err
	}
	return nil
}

// memTx mutates the store directly; the enclosing Atomic holds the lock.
type memTx struct {
	s *MemoryStore
}

func (t *memTx) WalletForUpdate(_ context.Context, userID string) (*model.Wallet, error) {
	w := t.s.walletLocked(userID)
	copy := *w
	return &copy, nil
}

func (t *memTx) SaveWallet(_ context.Context, w *model.Wallet) error {
	copy := *w
	t.s.wallets[w.UserID] = &copy
	return nil
}

func (t *memTx) PositionForUpdate(_ context.Context, userID, symbol string, ex model.Exchange, mc model.MarginClass) (*model.Position, error) {
	p, ok := t.s.positions[posKey(userID, symbol, ex, mc)]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) SavePosition(_ context.Context, p *model.Position) error {
	copy := *p
	t.s.positions[posKey(p.UserID, p.Symbol, p.Exchange, p.MarginClass)] = &copy
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, id string) error {
	for k, p := range t.s.positions {
		if p.ID == id {
			delete(t.s.positions, k)
			return nil
		}
	}
	return fmt.Errorf("position %s not found", id)
}

func (t *memTx) AppendTransaction(_ context.Context, txn *model.Transaction) error {
	t.s.txns = append(t.s.txns, *txn)
	return nil
}

// walletLocked returns the live wallet record, seeding one on first use.
// Caller must hold mu.
func (s *MemoryStore) walletLocked(userID string) *model.Wallet {
	if w, ok := s.wallets[userID]; ok {
		return w
	}
	w := &model.Wallet{
		UserID:      userID,
		VirtualCash: s.startingCash,
		UpdatedAt:   time.Now().UTC(),
	}
	s.wallets[userID] = w
	return w
}

func (s *MemoryStore) Wallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(userID)
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) Positions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].MarginClass < out[j].MarginClass
	})
	return out, nil
}

func (s *MemoryStore) StaleIntradayPositions(_ context.Context, userID string, tradingDay time.Time) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.MarginClass != model.Intraday {
			continue
		}
		if userID != "" && p.UserID != userID {
			continue
		}
		if p.TradeDate.Before(tradingDay) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (s *MemoryStore) Transactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].UserID != userID {
			continue
		}
		out = append(out, s.txns[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
