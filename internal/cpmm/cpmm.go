// Package cpmm implements the constant-product pricing function for
// binary-outcome markets.
//
// Each side's pool is the total backing for that outcome's payout claims.
// A deposit is added to the chosen side's reserve at full value, and the
// implied probability of an outcome is the *opposite* pool's share of the
// total: backing YES dilutes the price of YES.
//
// The fee model is fee-on-winnings: stakes enter the pool untouched so
// quoted odds stay fee-neutral, and the fee is deducted from the profit
// portion of a winning claim. ClaimValue rounds the fee up so rounding
// never favors the claimant over the pool.
//
// All monetary values use the fixed-point amount type — never float64 for
// money. The package is stateless; reserves are passed as arguments.
package cpmm

import (
	"errors"

	"github.com/betcaps/market-engine/internal/amount"
)

var (
	// ErrPoolNotSeeded is returned when either reserve is zero. Markets
	// are seeded on both sides at creation, so this is a defensive check.
	ErrPoolNotSeeded = errors.New("cpmm: pool reserves not seeded")

	// ErrInvalidStake is returned for a zero stake.
	ErrInvalidStake = errors.New("cpmm: stake must be positive")
)

// feeDenominator converts basis points to a fraction.
const feeDenominator amount.Amount = 10_000

// Odds returns the implied probabilities (as fractions of amount.One)
// for the YES and NO outcomes given the current reserves. Each side's
// odds are the opposite pool's share of the total, floor-rounded, so
// yes+no is within one base unit of amount.One.
func Odds(yesPool, noPool amount.Amount) (yes, no amount.Amount, err error) {
	if !yesPool.IsPositive() || !noPool.IsPositive() {
		return 0, 0, ErrPoolNotSeeded
	}
	total, err := yesPool.Add(noPool)
	if err != nil {
		return 0, 0, err
	}
	yes, err = amount.MulDiv(noPool, amount.One, total)
	if err != nil {
		return 0, 0, err
	}
	no, err = amount.MulDiv(yesPool, amount.One, total)
	if err != nil {
		return 0, 0, err
	}
	return yes, no, nil
}

// Payout computes the potential payout for stake S deposited on the side
// whose pre-trade reserve is own, against opposite reserve opp:
//
//	payout = S + S*opp/(own+S)
//
// The stake is returned in full plus a pro-rata share of the opposing
// pool, with a single floor rounding at the end.
func Payout(own, opp, stake amount.Amount) (amount.Amount, error) {
	if !stake.IsPositive() {
		return 0, ErrInvalidStake
	}
	if !own.IsPositive() || !opp.IsPositive() {
		return 0, ErrPoolNotSeeded
	}
	denom, err := own.Add(stake)
	if err != nil {
		return 0, err
	}
	share, err := amount.MulDiv(stake, opp, denom)
	if err != nil {
		return 0, err
	}
	return stake.Add(share)
}

// ClaimValue computes the settlement value of a winning position:
//
//	payout - ceil((payout - staked) * feeBps/10000)
//
// The fee is charged only on the profit portion, never on refunded
// principal, and rounds up in the pool's favor.
func ClaimValue(payout, staked amount.Amount, feeBps uint16) (amount.Amount, error) {
	profit, err := payout.Sub(staked)
	if err != nil {
		return 0, err
	}
	fee, err := amount.MulDivCeil(profit, amount.Amount(feeBps), feeDenominator)
	if err != nil {
		return 0, err
	}
	return payout.Sub(fee)
}
