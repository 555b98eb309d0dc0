// Package trade provides the HTTP handlers for creating markets,
// quoting and committing bets, resolving markets, and settling claims.
//
// All monetary values cross the wire as decimal strings — never float64
// for money.
package trade

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/cpmm"
	"github.com/betcaps/market-engine/internal/engine"
	"github.com/betcaps/market-engine/internal/exposure"
	"github.com/betcaps/market-engine/internal/metrics"
	"github.com/betcaps/market-engine/internal/model"
	"github.com/betcaps/market-engine/internal/store"
)

// DefaultFeeBps is the fee applied when market creation omits one: 1.5%.
const DefaultFeeBps uint16 = 150

// Service handles market operations over HTTP. Pricing and settlement
// live in the engine; handlers validate input, map errors to status
// codes, and broadcast odds updates.
type Service struct {
	engine *engine.Engine
	store  store.Store
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(eng *engine.Engine, st store.Store, hub *WSHub) *Service {
	return &Service{engine: eng, store: st, wsHub: hub}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Statement string        `json:"statement"`
	Deadline  time.Time     `json:"deadline"`
	SeedYes   amount.Amount `json:"seed_yes"`
	SeedNo    amount.Amount `json:"seed_no"`
	FeeBps    uint16        `json:"fee_bps"` // 0 → DefaultFeeBps
}

// QuoteRequest is the JSON body for POST /quote.
type QuoteRequest struct {
	MarketID string        `json:"market_id"`
	Side     model.Side    `json:"side"`
	Amount   amount.Amount `json:"amount"`
}

// FeeInfo describes the fee model to the caller.
type FeeInfo struct {
	Bps       uint16 `json:"bps"`
	AppliedOn string `json:"applied_on"`
}

// QuoteResponse is the JSON body returned from POST /quote.
type QuoteResponse struct {
	MarketID string         `json:"market_id"`
	Side     model.Side     `json:"side"`
	Amount   amount.Amount  `json:"amount"`
	PreOdds  model.OddsPair `json:"pre_odds"`
	PostOdds model.OddsPair `json:"post_odds"`
	Payout   amount.Amount  `json:"potential_payout"`
	Fee      FeeInfo        `json:"fee"`
	Version  uint64         `json:"version"`
}

// BetRequest is the JSON body for POST /bets: a quote confirmation.
type BetRequest struct {
	MarketID       string        `json:"market_id"`
	Owner          string        `json:"owner"`
	Side           model.Side    `json:"side"`
	Amount         amount.Amount `json:"amount"`
	QuotedVersion  uint64        `json:"quoted_version"`
	Strict         bool          `json:"strict"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// BetResponse echoes the committed position.
type BetResponse struct {
	Position  model.Position `json:"position"`
	Requoted  bool           `json:"requoted"`
	Duplicate bool           `json:"duplicate"`
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	Outcome engine.Outcome `json:"outcome"`
}

// ClaimRequest is the JSON body for POST /claims.
type ClaimRequest struct {
	MarketID string `json:"market_id"`
	Owner    string `json:"owner"`
}

// ClaimResponse carries the settled payout.
type ClaimResponse struct {
	MarketID string        `json:"market_id"`
	Owner    string        `json:"owner"`
	Payout   amount.Amount `json:"payout"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Statement == "" {
		writeError(w, "statement is required", http.StatusBadRequest)
		return
	}

	feeBps := req.FeeBps
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}

	market, err := s.engine.CreateMarket(r.Context(), req.Statement, req.Deadline, req.SeedYes, req.SeedNo, feeBps)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?status=<status>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if m.Status == model.Status(status) {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// GetOdds handles GET /api/v1/markets/{marketID}/odds
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	yes, no, err := cpmm.Odds(market.YesPool, market.NoPool)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.OddsPair{Yes: yes, No: no})
}

// Quote handles POST /api/v1/quote
// Pure price computation; mutates nothing.
func (s *Service) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	q, err := s.engine.Quote(r.Context(), req.MarketID, req.Side, req.Amount)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quoteResponse(q))
}

func quoteResponse(q *model.Quote) QuoteResponse {
	return QuoteResponse{
		MarketID: q.MarketID,
		Side:     q.Side,
		Amount:   q.Stake,
		PreOdds:  q.PreOdds,
		PostOdds: q.PostOdds,
		Payout:   q.Payout,
		Fee:      FeeInfo{Bps: q.FeeBps, AppliedOn: "winnings"},
		Version:  q.Version,
	}
}

// PlaceBet handles POST /api/v1/bets
// Confirms a quote and commits the bet against live pool state.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := s.engine.PlaceBet(r.Context(), engine.BetRequest{
		MarketID:       req.MarketID,
		OwnerID:        req.Owner,
		Side:           req.Side,
		Stake:          req.Amount,
		QuotedVersion:  req.QuotedVersion,
		Strict:         req.Strict,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if !res.Duplicate {
		metrics.BetsTotal.WithLabelValues(string(req.Side)).Inc()
		metrics.BetLatency.WithLabelValues(string(req.Side)).Observe(time.Since(start).Seconds())
		if res.Requoted {
			metrics.StaleQuoteRequotes.Inc()
		}
		s.broadcastOdds("bet_committed", &res.Market, res.Position.Side, res.Position.Staked)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BetResponse{
		Position:  res.Position,
		Requoted:  res.Requoted,
		Duplicate: res.Duplicate,
	})
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.engine.CloseMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
// Privileged: records the external resolution decision exactly once.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := s.engine.Resolve(r.Context(), marketID, req.Outcome)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.MarketsResolved.WithLabelValues(string(req.Outcome)).Inc()
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_resolved",
			MarketID: market.ID,
			Status:   string(market.Status),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// Claim handles POST /api/v1/claims
func (s *Service) Claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	payout, err := s.engine.Claim(r.Context(), req.MarketID, req.Owner)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if market, err := s.store.GetMarket(r.Context(), req.MarketID); err == nil {
		metrics.ClaimsTotal.WithLabelValues(string(market.Status)).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ClaimResponse{
		MarketID: req.MarketID,
		Owner:    req.Owner,
		Payout:   payout,
	})
}

// GetPortfolio handles GET /api/v1/portfolio/{ownerID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	portfolio, err := s.engine.Portfolio(r.Context(), ownerID)
	if err != nil {
		writeError(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// broadcastOdds pushes the post-commit odds to WebSocket clients.
func (s *Service) broadcastOdds(msgType string, m *model.Market, side model.Side, stake amount.Amount) {
	if s.wsHub == nil {
		return
	}
	yes, no, err := cpmm.Odds(m.YesPool, m.NoPool)
	if err != nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{
		Type:     msgType,
		MarketID: m.ID,
		OddsYes:  yes.String(),
		OddsNo:   no.String(),
		PoolYes:  m.YesPool.String(),
		PoolNo:   m.NoPool.String(),
		Side:     string(side),
		Stake:    stake.String(),
	})
}

// statusFor maps engine errors to HTTP status codes. Every failure is
// per-request; callers branch on the code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrMarketNotFound),
		errors.Is(err, engine.ErrNothingToClaim):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidDeadline),
		errors.Is(err, engine.ErrInvalidOutcome),
		errors.Is(err, cpmm.ErrInvalidStake),
		errors.Is(err, amount.ErrInvalid),
		errors.Is(err, amount.ErrOverflow),
		errors.Is(err, amount.ErrUnderflow):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrStaleQuote),
		errors.Is(err, engine.ErrMarketNotClosed),
		errors.Is(err, engine.ErrAlreadyResolved),
		errors.Is(err, engine.ErrMarketNotResolved),
		errors.Is(err, engine.ErrAlreadyClaimed),
		errors.Is(err, cpmm.ErrPoolNotSeeded),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, exposure.ErrMarketLimitExceeded),
		errors.Is(err, exposure.ErrTotalLimitExceeded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
