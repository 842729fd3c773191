package model

import "time"

// RewardEpoch is one Merkle root publication, upserted by epoch id. EpochID
// is the decimal string form of an arbitrary-precision integer: epoch ids
// beyond 2^53 must round-trip exactly.
type RewardEpoch struct {
	EpochID   string    `db:"epoch_id"`
	Root      string    `db:"root"`
	TxHash    string    `db:"tx_hash"`
	BlockTime time.Time `db:"block_time"`
}

// RewardClaim is at most one row per (epoch_id, wallet), regardless of
// whether the claim was observed via the distributor event or inferred from
// an ERC-20 transfer plus calldata.
type RewardClaim struct {
	EpochID   string    `db:"epoch_id"`
	Wallet    string    `db:"wallet"`
	Amount    string    `db:"amount"`
	TxHash    string    `db:"tx_hash"`
	BlockTime time.Time `db:"block_time"`
}
