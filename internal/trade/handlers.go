package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/market"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/oracle"
	"github.com/papertrade/ledger-engine/internal/store"
)

// Service exposes the settlement engine and ledger reads over HTTP.
type Service struct {
	store  store.Store
	oracle oracle.Oracle
	engine *Engine
	cal    *market.Calendar
}

// NewService creates the HTTP-facing trade service.
func NewService(st store.Store, orc oracle.Oracle, engine *Engine, cal *market.Calendar) *Service {
	return &Service{store: st, oracle: orc, engine: engine, cal: cal}
}

// displayPricer is implemented by oracles that can serve cached,
// display-grade quotes (portfolio valuation tolerates short staleness;
// execution does not).
type displayPricer interface {
	LivePriceCached(ctx context.Context, symbol string, exchange model.Exchange) (oracle.Quote, error)
}

// TradeRequest is the JSON body for POST /api/v1/trade.
type TradeRequest struct {
	UserID      string           `json:"user_id"`
	Symbol      string           `json:"symbol"`
	Exchange    string           `json:"exchange"`
	MarginClass string           `json:"margin_class"`
	Side        string           `json:"side"`
	Quantity    int64            `json:"quantity"`
	OrderType   string           `json:"order_type"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
}

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.engine.Execute(r.Context(), Request{
		UserID:      req.UserID,
		Symbol:      req.Symbol,
		Exchange:    model.Exchange(req.Exchange),
		MarginClass: model.MarginClass(req.MarginClass),
		Side:        model.Side(req.Side),
		Quantity:    req.Quantity,
		OrderType:   model.OrderType(req.OrderType),
		LimitPrice:  req.LimitPrice,
	})
	if err != nil {
		writeTradeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}.
// Position valuations are refreshed opportunistically: a price lookup
// failure leaves the stored values in place rather than failing the read.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	wallet, err := s.store.Wallet(ctx, userID)
	if err != nil {
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}
	positions, err := s.store.Positions(ctx, userID)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	s.revalue(ctx, wallet, positions)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.Portfolio{
		UserID:    userID,
		Wallet:    *wallet,
		Positions: positions,
	})
}

// GetWallet handles GET /api/v1/wallet/{userID}.
func (s *Service) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	wallet, err := s.store.Wallet(ctx, userID)
	if err != nil {
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}
	if positions, perr := s.store.Positions(ctx, userID); perr == nil {
		s.revalue(ctx, wallet, positions)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// GetTransactions handles GET /api/v1/transactions/{userID}?limit=N.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	txns, err := s.store.Transactions(r.Context(), userID, limit)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// revalue refreshes derived valuation fields on positions and wallet
// aggregates from current prices. Best-effort: failures keep prior
// values.
func (s *Service) revalue(ctx context.Context, wallet *model.Wallet, positions []model.Position) {
	today := s.cal.TradingDay(time.Now().UTC())

	totalInvested := decimal.Zero
	currentValue := decimal.Zero
	dayPnL := decimal.Zero
	misValue := decimal.Zero
	misPnL := decimal.Zero

	for i := range positions {
		p := &positions[i]

		price, ok := s.displayPrice(ctx, p.Symbol, p.Exchange)
		if ok {
			p.CurrentPrice = price
			p.CurrentValue = price.Mul(decimal.NewFromInt(p.Quantity))
			p.UnrealizedPnL = p.CurrentValue.Sub(p.TotalInvested)
		}

		totalInvested = totalInvested.Add(p.TotalInvested)
		currentValue = currentValue.Add(p.CurrentValue)
		if s.cal.TradingDay(p.TradeDate).Equal(today) {
			dayPnL = dayPnL.Add(p.UnrealizedPnL)
		}
		if p.MarginClass == model.Intraday {
			misValue = misValue.Add(p.CurrentValue)
			misPnL = misPnL.Add(p.UnrealizedPnL)
		}
	}

	wallet.TotalInvested = totalInvested
	wallet.CurrentValue = currentValue
	wallet.TotalPnL = currentValue.Sub(totalInvested)
	wallet.TotalPnLPercent = decimal.Zero
	if totalInvested.IsPositive() {
		wallet.TotalPnLPercent = wallet.TotalPnL.Div(totalInvested).Mul(decimal.NewFromInt(100)).Round(2)
	}
	wallet.DayPnL = dayPnL
	wallet.MISPositionsValue = misValue
	wallet.MISPnL = misPnL
}

func (s *Service) displayPrice(ctx context.Context, symbol string, ex model.Exchange) (decimal.Decimal, bool) {
	if dp, ok := s.oracle.(displayPricer); ok {
		q, err := dp.LivePriceCached(ctx, symbol, ex)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return q.LastPrice, true
	}
	q, err := s.oracle.LivePrice(ctx, symbol, ex)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return q.LastPrice, true
}

// writeTradeError maps settlement failures onto HTTP statuses.
func writeTradeError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(vErr)
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrInsufficientHoldings):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, oracle.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("settlement failed", "err", err)
		writeError(w, "settlement failed", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
