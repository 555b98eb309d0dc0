package store

import (
	"context"
	"sync"

	"github.com/betcaps/market-engine/internal/amount"
	"github.com/betcaps/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	positions []model.Position
	byKey     map[string]int // marketID+"\x00"+idempotencyKey → index
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		byKey:   make(map[string]int),
	}
}

func keyIndex(marketID, idempotencyKey string) string {
	return marketID + "\x00" + idempotencyKey
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return ErrDuplicateMarket
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) CommitBet(_ context.Context, m *model.Market, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.markets[m.ID]
	if !ok {
		return ErrMarketNotFound
	}
	if stored.Version != m.Version-1 {
		return ErrVersionConflict
	}

	cp := *m
	s.markets[m.ID] = &cp
	s.positions = append(s.positions, *pos)
	if pos.IdempotencyKey != "" {
		s.byKey[keyIndex(pos.MarketID, pos.IdempotencyKey)] = len(s.positions) - 1
	}
	return nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.markets[m.ID]
	if !ok {
		return ErrMarketNotFound
	}
	if stored.Version != m.Version-1 {
		return ErrVersionConflict
	}

	cp := *m
	s.markets[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPositionByKey(_ context.Context, marketID, idempotencyKey string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byKey[keyIndex(marketID, idempotencyKey)]
	if !ok {
		return nil, ErrPositionNotFound
	}
	cp := s.positions[idx]
	return &cp, nil
}

func (s *MemoryStore) GetPositions(_ context.Context, marketID, ownerID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID && p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPositionsByOwner(_ context.Context, ownerID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetPositionsByMarket(_ context.Context, marketID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.MarketID == marketID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkClaimed(_ context.Context, _ string, positionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]bool, len(positionIDs))
	for _, id := range positionIDs {
		ids[id] = true
	}
	for i := range s.positions {
		if ids[s.positions[i].ID] {
			s.positions[i].Claimed = true
		}
	}
	return nil
}

// GetOwnerOpenStakes sums unclaimed stake per unresolved market.
func (s *MemoryStore) GetOwnerOpenStakes(_ context.Context, ownerID string) (map[string]amount.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stakes := make(map[string]amount.Amount)
	for _, p := range s.positions {
		if p.OwnerID != ownerID || p.Claimed {
			continue
		}
		m, ok := s.markets[p.MarketID]
		if !ok || m.Status.Terminal() {
			continue
		}
		sum, err := stakes[p.MarketID].Add(p.Staked)
		if err != nil {
			return nil, err
		}
		stakes[p.MarketID] = sum
	}
	return stakes, nil
}
