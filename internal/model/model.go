// Package model defines the core domain types shared across the market engine.
// All monetary values use the fixed-point amount type — never float64 for money.
package model

import (
	"time"

	"github.com/betcaps/market-engine/internal/amount"
)

// Status is the lifecycle state of a market. The literal values are the
// strings surfaced on the wire.
type Status string

const (
	StatusOpen        Status = "open"
	StatusClosed      Status = "closed"
	StatusResolvedYes Status = "resolved_yes"
	StatusResolvedNo  Status = "resolved_no"
	StatusInvalid     Status = "invalid"
)

// Terminal reports whether the market has been resolved and its pools
// are frozen.
func (s Status) Terminal() bool {
	return s == StatusResolvedYes || s == StatusResolvedNo || s == StatusInvalid
}

// Side is a bet direction.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether the side is one of the two allowed values.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Market is one binary prediction market backed by a shared liquidity pool.
// Both pools are seeded non-zero at creation so odds are always defined.
// Version increments on every committed state change and is the basis for
// stale-quote detection.
type Market struct {
	ID         string        `json:"id" db:"id"`
	Statement  string        `json:"statement" db:"statement"`
	Deadline   time.Time     `json:"deadline" db:"deadline"`
	Status     Status        `json:"status" db:"status"`
	YesPool    amount.Amount `json:"pool_yes" db:"pool_yes"`
	NoPool     amount.Amount `json:"pool_no" db:"pool_no"`
	FeeBps     uint16        `json:"fee_bps" db:"fee_bps"`
	Version    uint64        `json:"version" db:"version"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Pool returns the reserve backing the given side.
func (m *Market) Pool(s Side) amount.Amount {
	if s == SideYes {
		return m.YesPool
	}
	return m.NoPool
}

// Position is an immutable ledger entry for one accepted bet. A user may
// hold independent positions on both sides of the same market; positions
// are never netted. Claimed flips once at settlement and is the only
// mutation a position ever sees.
type Position struct {
	ID             string        `json:"id" db:"id"`
	OwnerID        string        `json:"owner_id" db:"owner_id"`
	MarketID       string        `json:"market_id" db:"market_id"`
	Side           Side          `json:"side" db:"side"`
	Staked         amount.Amount `json:"staked" db:"staked"`
	Shares         amount.Amount `json:"shares" db:"shares"` // AMM-implied claim at commit time
	IdempotencyKey string        `json:"idempotency_key,omitempty" db:"idempotency_key"`
	Claimed        bool          `json:"claimed" db:"claimed"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// OddsPair holds implied probabilities for both outcomes as fixed-point
// fractions of amount.One.
type OddsPair struct {
	Yes amount.Amount `json:"yes"`
	No  amount.Amount `json:"no"`
}

// Quote is a pure pricing result. It is never persisted; the engine
// retains nothing after returning it.
type Quote struct {
	MarketID string        `json:"market_id"`
	Side     Side          `json:"side"`
	Stake    amount.Amount `json:"stake"`
	PreOdds  OddsPair      `json:"pre_odds"`
	PostOdds OddsPair      `json:"post_odds"`
	Payout   amount.Amount `json:"potential_payout"`
	FeeBps   uint16        `json:"fee_bps"`
	Version  uint64        `json:"version"` // pool version quoted against
}

// PortfolioEntry aggregates one owner's positions in one market.
type PortfolioEntry struct {
	MarketID  string        `json:"market_id"`
	Statement string        `json:"statement"`
	Status    Status        `json:"status"`
	YesStaked amount.Amount `json:"yes_staked"`
	NoStaked  amount.Amount `json:"no_staked"`
	YesShares amount.Amount `json:"yes_shares"`
	NoShares  amount.Amount `json:"no_shares"`
	Claimable amount.Amount `json:"claimable"`
	Claimed   bool          `json:"claimed"`
}

// Portfolio is the full view of one owner's holdings.
type Portfolio struct {
	OwnerID        string           `json:"owner_id"`
	Entries        []PortfolioEntry `json:"entries"`
	TotalStaked    amount.Amount    `json:"total_staked"`
	TotalClaimable amount.Amount    `json:"total_claimable"`
}
