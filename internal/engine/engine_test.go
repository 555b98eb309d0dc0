package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/cpmm"
	"github.com/betcaps/market-engine/internal/engine"
	"github.com/betcaps/market-engine/internal/exposure"
	"github.com/betcaps/market-engine/internal/model"
	"github.com/betcaps/market-engine/internal/store"
)

func newTestEngine(t *testing.T) (*engine.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return engine.New(ms, nil), ms
}

// seedMarket creates a test market directly in the store.
func seedMarket(t *testing.T, ms *store.MemoryStore, id string, yes, no amount.Amount, feeBps uint16, status model.Status, deadline time.Time) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:        id,
		Statement: "Will it happen?",
		Deadline:  deadline,
		Status:    status,
		YesPool:   yes,
		NoPool:    no,
		FeeBps:    feeBps,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return m
}

func future() time.Time { return time.Now().UTC().Add(time.Hour) }
func past() time.Time   { return time.Now().UTC().Add(-time.Hour) }

// --- CreateMarket ---

func TestCreateMarket_Valid(t *testing.T) {
	e, _ := newTestEngine(t)
	m, err := e.CreateMarket(context.Background(), "Will BTC hit $100k?", future(), 10000, 10000, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != model.StatusOpen {
		t.Errorf("expected open status, got %s", m.Status)
	}
	if m.YesPool != 10000 || m.NoPool != 10000 {
		t.Errorf("unexpected seed pools: %d/%d", m.YesPool, m.NoPool)
	}
	if m.Version != 1 {
		t.Errorf("expected version 1, got %d", m.Version)
	}
}

func TestCreateMarket_ZeroSeed(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateMarket(context.Background(), "q", future(), 0, 10000, 150)
	if !errors.Is(err, cpmm.ErrPoolNotSeeded) {
		t.Errorf("expected ErrPoolNotSeeded, got %v", err)
	}
}

func TestCreateMarket_PastDeadline(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateMarket(context.Background(), "q", past(), 10000, 10000, 150)
	if !errors.Is(err, engine.ErrInvalidDeadline) {
		t.Errorf("expected ErrInvalidDeadline, got %v", err)
	}
}

// --- Quote ---

func TestQuote_DocumentedScenario(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	q, err := e.Quote(context.Background(), "m1", model.SideYes, 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	half := amount.One / 2
	if q.PreOdds.Yes != half || q.PreOdds.No != half {
		t.Errorf("expected pre odds 0.5/0.5, got %s/%s", q.PreOdds.Yes, q.PreOdds.No)
	}
	if q.PostOdds.Yes != amount.Amount(400_000) {
		t.Errorf("expected post oddsYes 0.4, got %s", q.PostOdds.Yes)
	}
	if q.PostOdds.No != amount.Amount(600_000) {
		t.Errorf("expected post oddsNo 0.6, got %s", q.PostOdds.No)
	}
	if q.Payout != 8333 {
		t.Errorf("expected payout 8333, got %d", q.Payout)
	}
	if q.Version != 1 {
		t.Errorf("quote should carry the pool version, got %d", q.Version)
	}
	if q.FeeBps != 150 {
		t.Errorf("expected fee 150bps, got %d", q.FeeBps)
	}
}

func TestQuote_HasNoSideEffects(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	for i := 0; i < 5; i++ {
		if _, err := e.Quote(context.Background(), "m1", model.SideYes, 5000); err != nil {
			t.Fatalf("quote %d: %v", i, err)
		}
	}

	m, _ := ms.GetMarket(context.Background(), "m1")
	if m.YesPool != 10000 || m.NoPool != 10000 || m.Version != 1 {
		t.Errorf("quoting must not mutate pool state: %d/%d v%d", m.YesPool, m.NoPool, m.Version)
	}
}

func TestQuote_MarketNotOpen(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "closed", 10000, 10000, 150, model.StatusClosed, future())
	seedMarket(t, ms, "expired", 10000, 10000, 150, model.StatusOpen, past())

	for _, id := range []string{"closed", "expired"} {
		_, err := e.Quote(context.Background(), id, model.SideYes, 5000)
		if !errors.Is(err, engine.ErrMarketNotOpen) {
			t.Errorf("%s: expected ErrMarketNotOpen, got %v", id, err)
		}
	}
}

func TestQuote_InvalidInput(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.Quote(context.Background(), "m1", "maybe", 5000); !errors.Is(err, engine.ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
	if _, err := e.Quote(context.Background(), "m1", model.SideYes, 0); !errors.Is(err, engine.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestQuote_MarketNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Quote(context.Background(), "missing", model.SideYes, 5000)
	if !errors.Is(err, store.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

// --- PlaceBet ---

func TestPlaceBet_CommitsPoolAndLedger(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	res, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Position.Shares != 8333 {
		t.Errorf("expected shares 8333, got %d", res.Position.Shares)
	}
	if res.Position.Staked != 5000 {
		t.Errorf("expected staked 5000, got %d", res.Position.Staked)
	}

	m, _ := ms.GetMarket(context.Background(), "m1")
	if m.YesPool != 15000 || m.NoPool != 10000 {
		t.Errorf("expected pools 15000/10000, got %d/%d", m.YesPool, m.NoPool)
	}
	if m.Version != 2 {
		t.Errorf("expected version 2 after commit, got %d", m.Version)
	}

	positions, _ := ms.GetPositions(context.Background(), "m1", "alice")
	if len(positions) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(positions))
	}
}

func TestPlaceBet_Conservation(t *testing.T) {
	// Sum of committed stakes equals pool growth over the seeds.
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	stakes := []struct {
		side  model.Side
		stake amount.Amount
	}{
		{model.SideYes, 5000}, {model.SideNo, 3000}, {model.SideYes, 700}, {model.SideNo, 12000},
	}
	var total amount.Amount
	for _, s := range stakes {
		if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
			MarketID: "m1", OwnerID: "alice", Side: s.side, Stake: s.stake,
		}); err != nil {
			t.Fatalf("bet failed: %v", err)
		}
		total += s.stake
	}

	m, _ := ms.GetMarket(context.Background(), "m1")
	if m.YesPool+m.NoPool != 20000+total {
		t.Errorf("conservation violated: pools %d/%d, expected total %d",
			m.YesPool, m.NoPool, 20000+total)
	}
	if !m.YesPool.IsPositive() || !m.NoPool.IsPositive() {
		t.Error("pool invariant violated: a side drained to zero")
	}
}

func TestPlaceBet_StaleQuoteRequoted(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	}); err != nil {
		t.Fatalf("first bet: %v", err)
	}

	// Second bet still carries the pre-trade version 1.
	res, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "bob", Side: model.SideYes, Stake: 5000,
		QuotedVersion: 1,
	})
	if err != nil {
		t.Fatalf("second bet: %v", err)
	}
	if !res.Requoted {
		t.Error("expected the stale quote to be re-priced")
	}
	// Re-priced against Y=15000, N=10000: 5000 + 5000*10000/20000 = 7500.
	if res.Position.Shares != 7500 {
		t.Errorf("expected re-priced shares 7500, got %d", res.Position.Shares)
	}
}

func TestPlaceBet_StrictStaleRejected(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	}); err != nil {
		t.Fatalf("first bet: %v", err)
	}

	_, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "bob", Side: model.SideYes, Stake: 5000,
		QuotedVersion: 1, Strict: true,
	})
	if !errors.Is(err, engine.ErrStaleQuote) {
		t.Errorf("expected ErrStaleQuote, got %v", err)
	}

	// The rejected bet must leave pool state unchanged.
	m, _ := ms.GetMarket(context.Background(), "m1")
	if m.YesPool != 15000 || m.Version != 2 {
		t.Errorf("rejected bet mutated state: pools %d/%d v%d", m.YesPool, m.NoPool, m.Version)
	}
}

func TestPlaceBet_MatchingVersionAccepted(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	res, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
		QuotedVersion: 1, Strict: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Requoted {
		t.Error("matching version should not be marked as requoted")
	}
}

func TestPlaceBet_Idempotency(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	req := engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
		IdempotencyKey: "retry-1",
	}
	first, err := e.PlaceBet(context.Background(), req)
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}
	second, err := e.PlaceBet(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if !second.Duplicate {
		t.Error("retry should be flagged as duplicate")
	}
	if second.Position.ID != first.Position.ID {
		t.Errorf("retry returned a different position: %s vs %s",
			second.Position.ID, first.Position.ID)
	}

	m, _ := ms.GetMarket(context.Background(), "m1")
	if m.YesPool != 15000 {
		t.Errorf("retry must not move the pool again, got %d", m.YesPool)
	}
}

func TestPlaceBet_NotOpen(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "expired", 10000, 10000, 150, model.StatusOpen, past())

	_, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "expired", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	})
	if !errors.Is(err, engine.ErrMarketNotOpen) {
		t.Errorf("expected ErrMarketNotOpen, got %v", err)
	}
}

func TestPlaceBet_ExposureLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	e := engine.New(ms, exposure.NewLimiter(6000, 0))
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	}); err != nil {
		t.Fatalf("first bet within limit: %v", err)
	}

	_, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideNo, Stake: 5000,
	})
	if !errors.Is(err, exposure.ErrMarketLimitExceeded) {
		t.Errorf("expected ErrMarketLimitExceeded, got %v", err)
	}
}

func TestPlaceBet_ConcurrentSameMarket(t *testing.T) {
	// Two concurrent bets on one market must serialize: the second
	// commit prices against the first commit's reserves and no update
	// is lost.
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	var wg sync.WaitGroup
	results := make([]*engine.BetResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.PlaceBet(context.Background(), engine.BetRequest{
				MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}

	m, _ := ms.GetMarket(context.Background(), "m1")
	if m.YesPool != 20000 || m.NoPool != 10000 {
		t.Errorf("lost update: pools %d/%d, expected 20000/10000", m.YesPool, m.NoPool)
	}
	if m.Version != 3 {
		t.Errorf("expected version 3 after two commits, got %d", m.Version)
	}

	// Whichever serialized first got 8333; the other priced against the
	// committed reserves and got 7500.
	shares := []amount.Amount{results[0].Position.Shares, results[1].Position.Shares}
	if !(shares[0] == 8333 && shares[1] == 7500) && !(shares[0] == 7500 && shares[1] == 8333) {
		t.Errorf("expected shares {8333, 7500}, got %v", shares)
	}
}

func TestPlaceBet_ConcurrentDifferentMarkets(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())
	seedMarket(t, ms, "m2", 10000, 10000, 150, model.StatusOpen, future())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"m1", "m2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = e.PlaceBet(context.Background(), engine.BetRequest{
				MarketID: id, OwnerID: "alice", Side: model.SideYes, Stake: 5000,
			})
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("bet %d: %v", i, err)
		}
	}
}

// --- Lifecycle ---

func TestCloseMarket(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	m, err := e.CloseMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != model.StatusClosed {
		t.Errorf("expected closed, got %s", m.Status)
	}

	// Closing again is a no-op.
	if _, err := e.CloseMarket(context.Background(), "m1"); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
}

func TestCloseExpired(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "expired1", 10000, 10000, 150, model.StatusOpen, past())
	seedMarket(t, ms, "expired2", 10000, 10000, 150, model.StatusOpen, past())
	seedMarket(t, ms, "live", 10000, 10000, 150, model.StatusOpen, future())

	closed, err := e.CloseExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed != 2 {
		t.Errorf("expected 2 markets closed, got %d", closed)
	}

	m, _ := ms.GetMarket(context.Background(), "live")
	if m.Status != model.StatusOpen {
		t.Errorf("live market should stay open, got %s", m.Status)
	}
}

func TestResolve_RequiresClosedOrExpired(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "open", 10000, 10000, 150, model.StatusOpen, future())
	seedMarket(t, ms, "expired", 10000, 10000, 150, model.StatusOpen, past())

	if _, err := e.Resolve(context.Background(), "open", engine.OutcomeYes); !errors.Is(err, engine.ErrMarketNotClosed) {
		t.Errorf("expected ErrMarketNotClosed, got %v", err)
	}

	// Past the deadline, the close is implied.
	m, err := e.Resolve(context.Background(), "expired", engine.OutcomeYes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != model.StatusResolvedYes {
		t.Errorf("expected resolved_yes, got %s", m.Status)
	}
	if m.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestResolve_ExactlyOnce(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusClosed, past())

	if _, err := e.Resolve(context.Background(), "m1", engine.OutcomeNo); err != nil {
		t.Fatalf("first resolution: %v", err)
	}
	if _, err := e.Resolve(context.Background(), "m1", engine.OutcomeYes); !errors.Is(err, engine.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestResolve_InvalidOutcome(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusClosed, past())

	if _, err := e.Resolve(context.Background(), "m1", "maybe"); !errors.Is(err, engine.ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
}

// --- Claim ---

// betCloseResolve runs the documented scenario up to resolution.
func betCloseResolve(t *testing.T, e *engine.Engine, outcome engine.Outcome) {
	t.Helper()
	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := e.CloseMarket(context.Background(), "m1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Resolve(context.Background(), "m1", outcome); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestClaim_DocumentedScenario(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())
	betCloseResolve(t, e, engine.OutcomeYes)

	// 8333 - ceil(3333*150/10000) = 8333 - 50 = 8283
	payout, err := e.Claim(context.Background(), "m1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payout != 8283 {
		t.Errorf("expected payout 8283, got %d", payout)
	}
}

func TestClaim_Idempotent(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())
	betCloseResolve(t, e, engine.OutcomeYes)

	if _, err := e.Claim(context.Background(), "m1", "alice"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := e.Claim(context.Background(), "m1", "alice"); !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Errorf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaim_InvalidMarketRefundsStake(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())
	betCloseResolve(t, e, engine.OutcomeInvalid)

	payout, err := e.Claim(context.Background(), "m1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payout != 5000 {
		t.Errorf("invalid market must refund the stake fee-free, got %d", payout)
	}
}

func TestClaim_LosingSideSettlesAtZero(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())
	betCloseResolve(t, e, engine.OutcomeNo)

	payout, err := e.Claim(context.Background(), "m1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payout != 0 {
		t.Errorf("losing side should settle at zero, got %d", payout)
	}

	// Settled, so a retry reports AlreadyClaimed rather than paying.
	if _, err := e.Claim(context.Background(), "m1", "alice"); !errors.Is(err, engine.ErrAlreadyClaimed) {
		t.Errorf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaim_BothSidesHeld(t *testing.T) {
	// Independent positions on both sides of one market: the winning
	// one pays, the losing one settles at zero, in a single claim.
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	}); err != nil {
		t.Fatalf("yes bet: %v", err)
	}
	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideNo, Stake: 2000,
	}); err != nil {
		t.Fatalf("no bet: %v", err)
	}
	if _, err := e.CloseMarket(context.Background(), "m1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Resolve(context.Background(), "m1", engine.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	payout, err := e.Claim(context.Background(), "m1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payout != 8283 {
		t.Errorf("expected winning side only (8283), got %d", payout)
	}
}

func TestClaim_ErrorsBeforeResolution(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.Claim(context.Background(), "m1", "alice"); !errors.Is(err, engine.ErrMarketNotResolved) {
		t.Errorf("expected ErrMarketNotResolved, got %v", err)
	}
}

func TestClaim_NothingToClaim(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusClosed, past())
	if _, err := e.Resolve(context.Background(), "m1", engine.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := e.Claim(context.Background(), "m1", "nobody"); !errors.Is(err, engine.ErrNothingToClaim) {
		t.Errorf("expected ErrNothingToClaim, got %v", err)
	}
}

func TestClaim_TotalNeverExceedsPool(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())

	owners := []string{"alice", "bob", "carol"}
	for _, owner := range owners {
		if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
			MarketID: "m1", OwnerID: owner, Side: model.SideYes, Stake: 5000,
		}); err != nil {
			t.Fatalf("bet %s: %v", owner, err)
		}
	}
	if _, err := e.CloseMarket(context.Background(), "m1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Resolve(context.Background(), "m1", engine.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	m, _ := ms.GetMarket(context.Background(), "m1")
	var paid amount.Amount
	for _, owner := range owners {
		payout, err := e.Claim(context.Background(), "m1", owner)
		if err != nil {
			t.Fatalf("claim %s: %v", owner, err)
		}
		paid += payout
	}

	if paid > m.YesPool+m.NoPool {
		t.Errorf("total paid %d exceeds pool reserves %d", paid, m.YesPool+m.NoPool)
	}
}

// --- Portfolio ---

func TestPortfolio_AggregatesAndClaimable(t *testing.T) {
	e, ms := newTestEngine(t)
	seedMarket(t, ms, "m1", 10000, 10000, 150, model.StatusOpen, future())
	seedMarket(t, ms, "m2", 10000, 10000, 150, model.StatusOpen, future())

	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m1", OwnerID: "alice", Side: model.SideYes, Stake: 5000,
	}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := e.PlaceBet(context.Background(), engine.BetRequest{
		MarketID: "m2", OwnerID: "alice", Side: model.SideNo, Stake: 3000,
	}); err != nil {
		t.Fatalf("bet: %v", err)
	}
	if _, err := e.CloseMarket(context.Background(), "m1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := e.Resolve(context.Background(), "m1", engine.OutcomeYes); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	p, err := e.Portfolio(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(p.Entries))
	}
	if p.TotalStaked != 8000 {
		t.Errorf("expected total staked 8000, got %d", p.TotalStaked)
	}
	if p.TotalClaimable != 8283 {
		t.Errorf("expected total claimable 8283, got %d", p.TotalClaimable)
	}

	// Portfolio is read-only: the claim must still pay afterwards.
	payout, err := e.Claim(context.Background(), "m1", "alice")
	if err != nil {
		t.Fatalf("claim after portfolio: %v", err)
	}
	if payout != 8283 {
		t.Errorf("expected 8283, got %d", payout)
	}
}

func TestPortfolio_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	p, err := e.Portfolio(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(p.Entries))
	}
}
