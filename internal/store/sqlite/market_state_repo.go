package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type MarketStateRepo struct {
	db *DB
}

func NewMarketStateRepo(db *DB) *MarketStateRepo {
	return &MarketStateRepo{db: db}
}

func (r *MarketStateRepo) Append(ctx context.Context, s *model.MarketState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO market_state (market_id, total_usdc, total_q, alpha, ts)
		VALUES (?, ?, ?, ?, ?)
	`, s.MarketID, s.TotalUsdc, s.TotalQ, s.Alpha, s.BlockTime.Unix())
	if err != nil {
		return fmt.Errorf("append market state: %w", err)
	}
	return nil
}

func (r *MarketStateRepo) Latest(ctx context.Context, marketID string) (*model.MarketState, error) {
	var (
		s  model.MarketState
		ts int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT market_id, total_usdc, total_q, alpha, ts
		FROM market_state
		WHERE market_id = ?
		ORDER BY ts DESC
		LIMIT 1
	`, marketID).Scan(&s.MarketID, &s.TotalUsdc, &s.TotalQ, &s.Alpha, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest market state: %w", err)
	}
	s.BlockTime = time.Unix(ts, 0).UTC()
	return &s, nil
}
