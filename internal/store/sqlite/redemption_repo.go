package sqlite

import (
	"context"
	"fmt"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type RedemptionRepo struct {
	db *DB
}

func NewRedemptionRepo(db *DB) *RedemptionRepo {
	return &RedemptionRepo{db: db}
}

func (r *RedemptionRepo) InsertIgnore(ctx context.Context, red *model.Redemption) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO redemptions
			(market_id, user, token, shares, payout, tx_hash, log_index, block_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, red.MarketID, red.User, red.Token, red.Shares, red.Payout,
		red.TxHash, red.LogIndex, red.BlockTime.Unix())
	if err != nil {
		return fmt.Errorf("insert redemption: %w", err)
	}
	return nil
}
