package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) CommitBet(ctx context.Context, m *model.Market, pos *model.Position) error {
	if err := s.primary.CommitBet(ctx, m, pos); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, marketKey(m.ID), positionsKey(pos.OwnerID))
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarket(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(m.ID))
	return nil
}

func (s *CachedStore) MarkClaimed(ctx context.Context, ownerID string, positionIDs []string) error {
	if err := s.primary.MarkClaimed(ctx, ownerID, positionIDs); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(ownerID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetPositionsByOwner(ctx context.Context, ownerID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(ownerID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPositionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(ownerID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetPositionByKey(ctx context.Context, marketID, idempotencyKey string) (*model.Position, error) {
	return s.primary.GetPositionByKey(ctx, marketID, idempotencyKey)
}

func (s *CachedStore) GetPositions(ctx context.Context, marketID, ownerID string) ([]model.Position, error) {
	return s.primary.GetPositions(ctx, marketID, ownerID)
}

func (s *CachedStore) GetPositionsByMarket(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.primary.GetPositionsByMarket(ctx, marketID)
}

func (s *CachedStore) GetOwnerOpenStakes(ctx context.Context, ownerID string) (map[string]amount.Amount, error) {
	return s.primary.GetOwnerOpenStakes(ctx, ownerID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func positionsKey(uid string) string { return fmt.Sprintf("positions:%s", uid) }
