package model

import "time"

// MarketState is a point-in-time read of on-chain bonding-curve state,
// appended whenever a snapshot is due, never updated.
type MarketState struct {
	MarketID  string    `db:"market_id"`
	TotalUsdc string    `db:"total_usdc"`
	TotalQ    string    `db:"total_q"`
	Alpha     string    `db:"alpha"`
	BlockTime time.Time `db:"ts"`
}

// PriceImpact is one (market, clip) answer from the price-impact solver: the
// share quantity whose quoted cost first meets the clip, and the probability
// delta that buying it would cause on the top outcome. A full recomputation
// for a market replaces all of its rows in one transaction.
type PriceImpact struct {
	MarketID  string    `db:"market_id"`
	ClipUsdc  string    `db:"clip_usdc"` // micro-USDC target cost
	Shares    string    `db:"shares"`
	DeltaProb float64   `db:"delta_prob"`
	UpdatedAt time.Time `db:"updated_at"`
}
