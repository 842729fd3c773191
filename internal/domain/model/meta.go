package model

// Keys in the meta(key, value) table. These rows are the only cross-run
// shared mutable state; a single process instance is assumed.
const (
	MetaLastBlockSynced   = "last_block_synced"
	MetaLedgerOffset      = "jsonl_offset"
	MetaRewardsLastBlock  = "rewards_last_block"
	MetaRewardsLastSynced = "rewards_last_synced_at"
)

// ProfileTarget is an address queued for external profile enrichment.
// Enrichment itself is a collaborator; failed flushes requeue.
type ProfileTarget struct {
	Address  string `db:"address"`
	Attempts int    `db:"attempts"`
}
