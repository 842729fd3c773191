package model

import "time"

// Trade is one fill, uniquely identified by (market_id, tx_hash, log_index).
// Exactly one of UsdcIn/UsdcOut is non-zero: the signed on-chain flow is split
// at decode time. Amounts are 6-decimal fixed-point micro-USDC carried as
// decimal strings (NUMERIC-as-TEXT, never floats).
type Trade struct {
	MarketID    string    `db:"market_id"`
	Trader      string    `db:"trader"`
	UsdcIn      string    `db:"usdc_in"`
	UsdcOut     string    `db:"usdc_out"`
	BlockNumber int64     `db:"block_number"`
	TxHash      string    `db:"tx_hash"`
	LogIndex    int64     `db:"log_index"`
	BlockTime   time.Time `db:"block_time"`
}
