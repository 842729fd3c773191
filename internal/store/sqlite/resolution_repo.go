package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type ResolutionRepo struct {
	db *DB
}

func NewResolutionRepo(db *DB) *ResolutionRepo {
	return &ResolutionRepo{db: db}
}

func (r *ResolutionRepo) InsertIgnore(ctx context.Context, res *model.Resolution) error {
	payouts, err := json.Marshal(res.Payouts)
	if err != nil {
		return fmt.Errorf("marshal payouts: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO resolutions
			(market_id, surplus, payouts, surplus_withdrawn, tx_hash, block_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.MarketID, res.Surplus, string(payouts), res.SurplusWithdrawn,
		res.TxHash, res.BlockTime.Unix())
	if err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

func (r *ResolutionRepo) RecordSurplusWithdrawn(ctx context.Context, marketID, amount string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE resolutions SET surplus_withdrawn = ? WHERE market_id = ?
	`, amount, marketID)
	if err != nil {
		return fmt.Errorf("record surplus withdrawn: %w", err)
	}
	return nil
}

func (r *ResolutionRepo) Get(ctx context.Context, marketID string) (*model.Resolution, error) {
	var (
		res       model.Resolution
		payouts   string
		blockTime int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT market_id, surplus, payouts, surplus_withdrawn, tx_hash, block_time
		FROM resolutions
		WHERE market_id = ?
	`, marketID).Scan(&res.MarketID, &res.Surplus, &payouts, &res.SurplusWithdrawn, &res.TxHash, &blockTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resolution: %w", err)
	}
	if err := json.Unmarshal([]byte(payouts), &res.Payouts); err != nil {
		return nil, fmt.Errorf("unmarshal payouts: %w", err)
	}
	res.BlockTime = time.Unix(blockTime, 0).UTC()
	return &res, nil
}
