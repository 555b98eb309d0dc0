// Package exposure enforces per-owner stake limits.
//
// A bet is checked against two caps before it is committed: the owner's
// total stake in the target market, and the owner's aggregate stake
// across all markets with unsettled positions. Both limits bound the
// engine's worst-case payout obligation to any single owner.
package exposure

import (
	"errors"

	"github.com/betcaps/market-engine/internal/amount"
)

var (
	// ErrMarketLimitExceeded is returned when a bet would push the
	// owner's stake in one market beyond the per-market maximum.
	ErrMarketLimitExceeded = errors.New("exposure: per-market stake limit exceeded")

	// ErrTotalLimitExceeded is returned when a bet would push the
	// owner's aggregate unsettled stake beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("exposure: total open stake limit exceeded")
)

// Limiter holds the stake caps. A zero cap disables that check.
type Limiter struct {
	// MaxPerMarket is the maximum stake one owner may hold in a single
	// market across all of their positions.
	MaxPerMarket amount.Amount

	// MaxTotal is the maximum aggregate unsettled stake across markets.
	MaxTotal amount.Amount
}

// NewLimiter creates a limiter with the given per-market and total caps.
func NewLimiter(maxPerMarket, maxTotal amount.Amount) *Limiter {
	return &Limiter{
		MaxPerMarket: maxPerMarket,
		MaxTotal:     maxTotal,
	}
}

// Check validates whether a bet respects the stake limits.
//
// Parameters:
//   - targetMarket: ID of the market being bet on
//   - stake: the incoming bet size
//   - openStakes: map of market ID → the owner's current unsettled stake
//
// Returns nil if the bet is within limits.
func (l *Limiter) Check(
	targetMarket string,
	stake amount.Amount,
	openStakes map[string]amount.Amount,
) error {
	inMarket, err := openStakes[targetMarket].Add(stake)
	if err != nil {
		return err
	}
	if l.MaxPerMarket.IsPositive() && inMarket > l.MaxPerMarket {
		return ErrMarketLimitExceeded
	}

	if !l.MaxTotal.IsPositive() {
		return nil
	}
	total := inMarket
	for marketID, staked := range openStakes {
		if marketID == targetMarket {
			continue // already counted via inMarket above
		}
		total, err = total.Add(staked)
		if err != nil {
			return err
		}
	}
	if total > l.MaxTotal {
		return ErrTotalLimitExceeded
	}
	return nil
}
