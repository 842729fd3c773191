package model

import "time"

type LockKind string

const (
	LockKindLock      LockKind = "lock"
	LockKindUnlock    LockKind = "unlock"
	LockKindStake     LockKind = "stake"
	LockKindSponsored LockKind = "sponsored"
)

// LockEvent is an append-only record keyed by (tx_hash, log_index). For
// lock/unlock/stake kinds Amount is the sum of the per-outcome amounts; for
// sponsored locks the four cost fields are carried verbatim. Outstanding
// boost for a market is max(0, sum(sponsored actual_cost) - sum(unlock
// amount)), derived at query time.
type LockEvent struct {
	MarketID    string    `db:"market_id"`
	Locker      string    `db:"locker"`
	Kind        LockKind  `db:"kind"`
	Amount      string    `db:"amount"`       // summed per-outcome amounts (lock/unlock/stake)
	Amounts     []string  `db:"amounts"`      // raw per-outcome amounts, JSON array
	SetsAmount  string    `db:"sets_amount"`  // sponsored only
	UserPaid    string    `db:"user_paid"`    // sponsored only
	SubsidyUsed string    `db:"subsidy_used"` // sponsored only
	ActualCost  string    `db:"actual_cost"`  // sponsored only
	BlockNumber int64     `db:"block_number"`
	TxHash      string    `db:"tx_hash"`
	LogIndex    int64     `db:"log_index"`
	BlockTime   time.Time `db:"block_time"`
}
