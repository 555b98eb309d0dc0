// Package engine implements the pricing and settlement core: quoting
// against pool snapshots, committing bets under per-market locks,
// lifecycle transitions, and at-most-once claim settlement.
//
// Quoting is read-only against a point-in-time copy of pool state and
// never blocks a concurrent bet. Commits serialize per market, not
// globally, so bets on different markets proceed fully in parallel.
// Every committed state change increments the market version; a bet
// carrying the version it was quoted against is re-priced (or, in
// strict mode, rejected) when the live state has advanced.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/cpmm"
	"github.com/betcaps/market-engine/internal/exposure"
	"github.com/betcaps/market-engine/internal/model"
	"github.com/betcaps/market-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned for a zero stake or seed.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInvalidSide is returned when a side is not "yes" or "no".
	ErrInvalidSide = errors.New("engine: side must be yes or no")

	// ErrInvalidDeadline is returned when a market deadline is not in
	// the future.
	ErrInvalidDeadline = errors.New("engine: deadline must be in the future")

	// ErrMarketNotOpen is returned for a quote or bet against a market
	// that is closed, resolved, or past its deadline.
	ErrMarketNotOpen = errors.New("engine: market is not open for betting")

	// ErrStaleQuote is returned in strict mode when pool state advanced
	// past the version a bet was quoted against.
	ErrStaleQuote = errors.New("engine: quoted pool state is stale")

	// ErrMarketNotClosed is returned when resolving a market still open
	// for betting.
	ErrMarketNotClosed = errors.New("engine: market must be closed before resolution")

	// ErrAlreadyResolved is returned on a second resolution attempt.
	ErrAlreadyResolved = errors.New("engine: market already resolved")

	// ErrInvalidOutcome is returned for an unknown resolution outcome.
	ErrInvalidOutcome = errors.New("engine: outcome must be yes, no, or invalid")

	// ErrMarketNotResolved is returned when claiming against an
	// unresolved market.
	ErrMarketNotResolved = errors.New("engine: market is not resolved")

	// ErrAlreadyClaimed is returned when all of an owner's positions in
	// a market are already settled.
	ErrAlreadyClaimed = errors.New("engine: positions already claimed")

	// ErrNothingToClaim is returned when the owner holds no positions
	// in the market.
	ErrNothingToClaim = errors.New("engine: no positions to claim")
)

// Outcome is a resolution decision delivered by the external oracle or
// admin.
type Outcome string

const (
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeInvalid Outcome = "invalid"
)

func (o Outcome) status() (model.Status, error) {
	switch o {
	case OutcomeYes:
		return model.StatusResolvedYes, nil
	case OutcomeNo:
		return model.StatusResolvedNo, nil
	case OutcomeInvalid:
		return model.StatusInvalid, nil
	default:
		return "", ErrInvalidOutcome
	}
}

// Engine prices bets and settles markets against an injected store.
// It holds no long-lived goroutines of its own.
type Engine struct {
	store   store.Store
	limiter *exposure.Limiter

	marketLocks sync.Map // market ID → *sync.Mutex
	claimLocks  sync.Map // market ID + owner → *sync.Mutex
}

// New creates an engine. The limiter may be nil to disable stake limits.
func New(st store.Store, limiter *exposure.Limiter) *Engine {
	return &Engine{store: st, limiter: limiter}
}

func (e *Engine) marketLock(id string) *sync.Mutex {
	mu, _ := e.marketLocks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) claimLock(marketID, ownerID string) *sync.Mutex {
	mu, _ := e.claimLocks.LoadOrStore(marketID+"\x00"+ownerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateMarket seeds a new market with non-zero liquidity on both sides
// so odds are defined from the first quote.
func (e *Engine) CreateMarket(ctx context.Context, statement string, deadline time.Time, seedYes, seedNo amount.Amount, feeBps uint16) (*model.Market, error) {
	if !seedYes.IsPositive() || !seedNo.IsPositive() {
		return nil, cpmm.ErrPoolNotSeeded
	}
	if !deadline.After(time.Now().UTC()) {
		return nil, ErrInvalidDeadline
	}

	market := &model.Market{
		ID:        uuid.New().String(),
		Statement: statement,
		Deadline:  deadline.UTC(),
		Status:    model.StatusOpen,
		YesPool:   seedYes,
		NoPool:    seedNo,
		FeeBps:    feeBps,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}

	if err := e.store.CreateMarket(ctx, market); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"id", market.ID,
		"deadline", market.Deadline,
		"seed_yes", seedYes.String(),
		"seed_no", seedNo.String(),
		"fee_bps", feeBps,
	)
	return market, nil
}

// Quote prices a bet against a snapshot of current pool state. It has
// no side effects and can be abandoned freely.
func (e *Engine) Quote(ctx context.Context, marketID string, side model.Side, stake amount.Amount) (*model.Quote, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if !stake.IsPositive() {
		return nil, ErrInvalidAmount
	}

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !openForBetting(m, time.Now().UTC()) {
		return nil, ErrMarketNotOpen
	}

	return quoteAgainst(m, side, stake)
}

// quoteAgainst prices a stake against the given market snapshot. Odds
// are the opposite pool's share of the total, pre- and post-trade, so a
// caller can show slippage.
func quoteAgainst(m *model.Market, side model.Side, stake amount.Amount) (*model.Quote, error) {
	preYes, preNo, err := cpmm.Odds(m.YesPool, m.NoPool)
	if err != nil {
		return nil, err
	}

	own := m.Pool(side)
	opp := m.Pool(side.Opposite())

	payout, err := cpmm.Payout(own, opp, stake)
	if err != nil {
		return nil, err
	}

	postYesPool, postNoPool := m.YesPool, m.NoPool
	if side == model.SideYes {
		if postYesPool, err = postYesPool.Add(stake); err != nil {
			return nil, err
		}
	} else {
		if postNoPool, err = postNoPool.Add(stake); err != nil {
			return nil, err
		}
	}
	postYes, postNo, err := cpmm.Odds(postYesPool, postNoPool)
	if err != nil {
		return nil, err
	}

	return &model.Quote{
		MarketID: m.ID,
		Side:     side,
		Stake:    stake,
		PreOdds:  model.OddsPair{Yes: preYes, No: preNo},
		PostOdds: model.OddsPair{Yes: postYes, No: postNo},
		Payout:   payout,
		FeeBps:   m.FeeBps,
		Version:  m.Version,
	}, nil
}

// BetRequest is a confirmed bet submission.
type BetRequest struct {
	MarketID string
	OwnerID  string
	Side     model.Side
	Stake    amount.Amount

	// QuotedVersion is the pool version the caller's quote was computed
	// against. Zero skips staleness handling.
	QuotedVersion uint64

	// Strict rejects the bet with ErrStaleQuote when the pool has
	// advanced past QuotedVersion instead of re-pricing it.
	Strict bool

	// IdempotencyKey deduplicates retries of the same submission.
	IdempotencyKey string
}

// BetResult is the outcome of a committed bet.
type BetResult struct {
	Market   model.Market
	Position model.Position
	Quote    model.Quote

	// Requoted is set when the commit re-priced a stale quote.
	Requoted bool

	// Duplicate is set when the idempotency key matched an existing
	// position and no new bet was committed.
	Duplicate bool
}

// PlaceBet commits a bet. The per-market lock is held only for the
// arithmetic and the store commit; once acquired, the commit runs to
// completion.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (*BetResult, error) {
	if req.OwnerID == "" {
		return nil, errors.New("engine: owner is required")
	}
	if !req.Side.Valid() {
		return nil, ErrInvalidSide
	}
	if !req.Stake.IsPositive() {
		return nil, ErrInvalidAmount
	}

	mu := e.marketLock(req.MarketID)
	mu.Lock()
	defer mu.Unlock()

	if req.IdempotencyKey != "" {
		existing, err := e.store.GetPositionByKey(ctx, req.MarketID, req.IdempotencyKey)
		if err == nil {
			m, err := e.store.GetMarket(ctx, req.MarketID)
			if err != nil {
				return nil, err
			}
			return &BetResult{Market: *m, Position: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrPositionNotFound) {
			return nil, err
		}
	}

	m, err := e.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if !openForBetting(m, time.Now().UTC()) {
		return nil, ErrMarketNotOpen
	}

	if e.limiter != nil {
		stakes, err := e.store.GetOwnerOpenStakes(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}
		if err := e.limiter.Check(req.MarketID, req.Stake, stakes); err != nil {
			return nil, err
		}
	}

	requoted := false
	if req.QuotedVersion != 0 && req.QuotedVersion != m.Version {
		if req.Strict {
			return nil, ErrStaleQuote
		}
		requoted = true
	}

	// Re-derive the quote against live state under the lock; the shares
	// written to the ledger always match the committed reserves.
	q, err := quoteAgainst(m, req.Side, req.Stake)
	if err != nil {
		return nil, err
	}

	if req.Side == model.SideYes {
		m.YesPool, err = m.YesPool.Add(req.Stake)
	} else {
		m.NoPool, err = m.NoPool.Add(req.Stake)
	}
	if err != nil {
		return nil, err
	}
	// Cannot drain a side under the constant-product rule, but the
	// invariant is asserted before every commit anyway.
	if !m.YesPool.IsPositive() || !m.NoPool.IsPositive() {
		return nil, cpmm.ErrPoolNotSeeded
	}
	m.Version++

	pos := &model.Position{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		MarketID:       req.MarketID,
		Side:           req.Side,
		Staked:         req.Stake,
		Shares:         q.Payout,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	if err := e.store.CommitBet(ctx, m, pos); err != nil {
		return nil, err
	}

	slog.Info("bet committed",
		"position_id", pos.ID,
		"market_id", m.ID,
		"owner", req.OwnerID,
		"side", req.Side,
		"stake", req.Stake.String(),
		"shares", pos.Shares.String(),
		"pool_version", m.Version,
		"requoted", requoted,
	)

	return &BetResult{
		Market:   *m,
		Position: *pos,
		Quote:    *q,
		Requoted: requoted,
	}, nil
}

// CloseMarket transitions an open market to closed. Closing an already
// closed market is a no-op.
func (e *Engine) CloseMarket(ctx context.Context, marketID string) (*model.Market, error) {
	mu := e.marketLock(marketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	switch {
	case m.Status.Terminal():
		return nil, ErrAlreadyResolved
	case m.Status == model.StatusClosed:
		return m, nil
	}

	m.Status = model.StatusClosed
	m.Version++
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	slog.Info("market closed", "market_id", m.ID)
	return m, nil
}

// CloseExpired closes every open market whose deadline has passed.
// Returns the number of markets closed.
func (e *Engine) CloseExpired(ctx context.Context) (int, error) {
	markets, err := e.store.ListMarkets(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	closed := 0
	for _, m := range markets {
		if m.Status != model.StatusOpen || m.Deadline.After(now) {
			continue
		}
		if _, err := e.CloseMarket(ctx, m.ID); err != nil {
			slog.Error("deadline close failed", "market_id", m.ID, "err", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// Resolve records the external resolution decision exactly once. A
// market past its deadline may be resolved directly; the close is
// implied. After resolution the pools are frozen.
func (e *Engine) Resolve(ctx context.Context, marketID string, outcome Outcome) (*model.Market, error) {
	status, err := outcome.status()
	if err != nil {
		return nil, err
	}

	mu := e.marketLock(marketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, ErrAlreadyResolved
	}
	if m.Status == model.StatusOpen && openForBetting(m, time.Now().UTC()) {
		return nil, ErrMarketNotClosed
	}

	now := time.Now().UTC()
	m.Status = status
	m.ResolvedAt = &now
	m.Version++
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, err
	}

	slog.Info("market resolved", "market_id", m.ID, "outcome", outcome)
	return m, nil
}

// Claim settles all of the owner's unclaimed positions in a resolved
// market and returns the total payout. Winning positions pay shares
// minus the fee on profit; an invalid market refunds stakes at face
// value, fee-free; losing positions yield zero. All positions are
// marked settled so a second call returns ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, marketID, ownerID string) (amount.Amount, error) {
	mu := e.claimLock(marketID, ownerID)
	mu.Lock()
	defer mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	if !m.Status.Terminal() {
		return 0, ErrMarketNotResolved
	}

	positions, err := e.store.GetPositions(ctx, marketID, ownerID)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, ErrNothingToClaim
	}

	total, ids, err := settlementValue(m, positions)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrAlreadyClaimed
	}

	if err := e.store.MarkClaimed(ctx, ownerID, ids); err != nil {
		return 0, err
	}

	slog.Info("claim settled",
		"market_id", marketID,
		"owner", ownerID,
		"positions", len(ids),
		"payout", total.String(),
	)
	return total, nil
}

// settlementValue computes the payout for the unclaimed positions and
// returns their IDs. The invalid-market refund is a distinct path, not
// a degenerate case of the payout formula.
func settlementValue(m *model.Market, positions []model.Position) (amount.Amount, []string, error) {
	var winning model.Side
	switch m.Status {
	case model.StatusResolvedYes:
		winning = model.SideYes
	case model.StatusResolvedNo:
		winning = model.SideNo
	}

	var total amount.Amount
	var ids []string
	for _, p := range positions {
		if p.Claimed {
			continue
		}
		ids = append(ids, p.ID)

		var value amount.Amount
		var err error
		switch {
		case m.Status == model.StatusInvalid:
			value = p.Staked // face-value refund, no fee
		case p.Side == winning:
			value, err = cpmm.ClaimValue(p.Shares, p.Staked, m.FeeBps)
			if err != nil {
				return 0, nil, err
			}
		default:
			continue // losing side settles at zero
		}

		if total, err = total.Add(value); err != nil {
			return 0, nil, err
		}
	}
	return total, ids, nil
}

// Portfolio aggregates an owner's positions per market, including the
// claimable value for resolved markets. It is read-only and marks
// nothing settled.
func (e *Engine) Portfolio(ctx context.Context, ownerID string) (*model.Portfolio, error) {
	positions, err := e.store.GetPositionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	byMarket := make(map[string][]model.Position)
	var order []string
	for _, p := range positions {
		if _, seen := byMarket[p.MarketID]; !seen {
			order = append(order, p.MarketID)
		}
		byMarket[p.MarketID] = append(byMarket[p.MarketID], p)
	}

	portfolio := &model.Portfolio{OwnerID: ownerID, Entries: []model.PortfolioEntry{}}
	for _, marketID := range order {
		m, err := e.store.GetMarket(ctx, marketID)
		if err != nil {
			return nil, err
		}

		entry := model.PortfolioEntry{
			MarketID:  marketID,
			Statement: m.Statement,
			Status:    m.Status,
			Claimed:   true,
		}
		for _, p := range byMarket[marketID] {
			if p.Side == model.SideYes {
				entry.YesStaked, err = entry.YesStaked.Add(p.Staked)
				if err == nil {
					entry.YesShares, err = entry.YesShares.Add(p.Shares)
				}
			} else {
				entry.NoStaked, err = entry.NoStaked.Add(p.Staked)
				if err == nil {
					entry.NoShares, err = entry.NoShares.Add(p.Shares)
				}
			}
			if err != nil {
				return nil, err
			}
			if !p.Claimed {
				entry.Claimed = false
			}
		}

		if m.Status.Terminal() {
			claimable, _, err := settlementValue(m, byMarket[marketID])
			if err != nil {
				return nil, err
			}
			entry.Claimable = claimable
		}

		staked, err := entry.YesStaked.Add(entry.NoStaked)
		if err != nil {
			return nil, err
		}
		if portfolio.TotalStaked, err = portfolio.TotalStaked.Add(staked); err != nil {
			return nil, err
		}
		if portfolio.TotalClaimable, err = portfolio.TotalClaimable.Add(entry.Claimable); err != nil {
			return nil, err
		}
		portfolio.Entries = append(portfolio.Entries, entry)
	}
	return portfolio, nil
}

// openForBetting reports whether bets are accepted: status open and the
// deadline not yet reached. The status transition itself happens via
// CloseMarket or the deadline sweep.
func openForBetting(m *model.Market, now time.Time) bool {
	return m.Status == model.StatusOpen && now.Before(m.Deadline)
}
