// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/model"
)

var (
	// ErrMarketNotFound is returned when no market exists for an ID.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrDuplicateMarket is returned when creating a market whose ID
	// already exists.
	ErrDuplicateMarket = errors.New("store: market already exists")

	// ErrPositionNotFound is returned by idempotency-key lookups with
	// no match.
	ErrPositionNotFound = errors.New("store: position not found")

	// ErrVersionConflict is returned when a guarded write observes a
	// market version other than the one it expects. The engine's
	// per-market lock makes this unreachable in a single instance; the
	// guard protects multi-instance deployments.
	ErrVersionConflict = errors.New("store: market version conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Reads return copies, so a
// held snapshot is never mutated by a concurrent commit.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// CommitBet atomically persists the updated pool state together
	// with the new position. The write is guarded: the stored version
	// must be exactly market.Version-1.
	CommitBet(ctx context.Context, market *model.Market, pos *model.Position) error

	// UpdateMarket persists a status transition (close, resolve) under
	// the same version guard as CommitBet.
	UpdateMarket(ctx context.Context, market *model.Market) error

	// --- Immutable ledger ---

	// GetPositionByKey looks up a position by idempotency key within a
	// market. Returns ErrPositionNotFound if absent.
	GetPositionByKey(ctx context.Context, marketID, idempotencyKey string) (*model.Position, error)

	// GetPositions returns one owner's positions in one market.
	GetPositions(ctx context.Context, marketID, ownerID string) ([]model.Position, error)

	// GetPositionsByOwner returns all positions for an owner.
	GetPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error)

	// GetPositionsByMarket returns all positions for a market.
	GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error)

	// MarkClaimed flips the claimed flag on the given positions. This
	// is the only mutation positions ever see.
	MarkClaimed(ctx context.Context, ownerID string, positionIDs []string) error

	// --- Exposure queries ---

	// GetOwnerOpenStakes returns the owner's total unclaimed stake per
	// unresolved market.
	GetOwnerOpenStakes(ctx context.Context, ownerID string) (map[string]amount.Amount, error)
}
