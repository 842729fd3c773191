package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type RewardRepo struct {
	db *DB
}

func NewRewardRepo(db *DB) *RewardRepo {
	return &RewardRepo{db: db}
}

func (r *RewardRepo) UpsertEpoch(ctx context.Context, e *model.RewardEpoch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reward_epochs (epoch_id, root, tx_hash, block_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (epoch_id) DO UPDATE SET
			root = excluded.root,
			tx_hash = excluded.tx_hash,
			block_time = excluded.block_time
	`, e.EpochID, e.Root, e.TxHash, e.BlockTime.Unix())
	if err != nil {
		return fmt.Errorf("upsert reward epoch: %w", err)
	}
	return nil
}

func (r *RewardRepo) InsertClaimIgnore(ctx context.Context, c *model.RewardClaim) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reward_claims (epoch_id, wallet, amount, tx_hash, block_time)
		VALUES (?, ?, ?, ?, ?)
	`, c.EpochID, c.Wallet, c.Amount, c.TxHash, c.BlockTime.Unix())
	if err != nil {
		return false, fmt.Errorf("insert reward claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert reward claim rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *RewardRepo) HasClaimForTx(ctx context.Context, txHash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM reward_claims WHERE tx_hash = ? LIMIT 1
	`, txHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim for tx: %w", err)
	}
	return true, nil
}

func (r *RewardRepo) CountClaims(ctx context.Context, epochID, wallet string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reward_claims WHERE epoch_id = ? AND wallet = ?
	`, epochID, wallet).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return n, nil
}
