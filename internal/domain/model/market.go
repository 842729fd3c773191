package model

import "time"

// Market is created once on the first MarketCreated observation and is
// immutable thereafter (INSERT OR IGNORE, first writer wins).
type Market struct {
	MarketID         string    `db:"market_id"` // 32-byte hash, lowercase hex
	Creator          string    `db:"creator"`
	Oracle           string    `db:"oracle"`
	SurplusRecipient string    `db:"surplus_recipient"`
	QuestionID       string    `db:"question_id"`
	OutcomeNames     []string  `db:"outcome_names"` // JSON array in storage
	Metadata         []byte    `db:"metadata"`      // opaque blob
	TxHash           string    `db:"tx_hash"`
	BlockTime        time.Time `db:"block_time"`
	CreatedAt        time.Time `db:"created_at"`
}

// Resolution holds the single MarketResolved row per market. Surplus and
// payouts are chain-native integers carried as decimal strings.
type Resolution struct {
	MarketID         string    `db:"market_id"`
	Surplus          string    `db:"surplus"`
	Payouts          []string  `db:"payouts"` // per-outcome payout fractions, JSON array
	SurplusWithdrawn string    `db:"surplus_withdrawn"`
	TxHash           string    `db:"tx_hash"`
	BlockTime        time.Time `db:"block_time"`
}

// Redemption is an append-only record of a TokensRedeemed observation.
type Redemption struct {
	MarketID  string    `db:"market_id"`
	User      string    `db:"user"`
	Token     string    `db:"token"`
	Shares    string    `db:"shares"`
	Payout    string    `db:"payout"`
	TxHash    string    `db:"tx_hash"`
	LogIndex  int64     `db:"log_index"`
	BlockTime time.Time `db:"block_time"`
}
