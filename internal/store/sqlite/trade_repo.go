package sqlite

import (
	"context"
	"fmt"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type TradeRepo struct {
	db *DB
}

func NewTradeRepo(db *DB) *TradeRepo {
	return &TradeRepo{db: db}
}

func (r *TradeRepo) InsertIgnore(ctx context.Context, t *model.Trade) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
			(market_id, trader, usdc_in, usdc_out, block_number, tx_hash, log_index, block_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.MarketID, t.Trader, t.UsdcIn, t.UsdcOut, t.BlockNumber, t.TxHash, t.LogIndex, t.BlockTime.Unix())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (r *TradeRepo) CountForMarket(ctx context.Context, marketID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades WHERE market_id = ?
	`, marketID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}
