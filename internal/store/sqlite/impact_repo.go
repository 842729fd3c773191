package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type ImpactRepo struct {
	db *DB
}

func NewImpactRepo(db *DB) *ImpactRepo {
	return &ImpactRepo{db: db}
}

// ReplaceForMarket swaps all of a market's impact rows inside one
// transaction, so a reader sees either the previous full set or the new one.
func (r *ImpactRepo) ReplaceForMarket(ctx context.Context, marketID string, rows []model.PriceImpact) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin impact tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM price_impact WHERE market_id = ?
	`, marketID); err != nil {
		return fmt.Errorf("delete impact rows: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_impact (market_id, clip_usdc, shares, delta_prob, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, row.MarketID, row.ClipUsdc, row.Shares, row.DeltaProb, row.UpdatedAt.Unix()); err != nil {
			return fmt.Errorf("insert impact row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit impact tx: %w", err)
	}
	return nil
}

func (r *ImpactRepo) ListForMarket(ctx context.Context, marketID string) ([]model.PriceImpact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT market_id, clip_usdc, shares, delta_prob, updated_at
		FROM price_impact
		WHERE market_id = ?
		ORDER BY CAST(clip_usdc AS INTEGER)
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("list impact rows: %w", err)
	}
	defer rows.Close()

	var out []model.PriceImpact
	for rows.Next() {
		var (
			p  model.PriceImpact
			ts int64
		)
		if err := rows.Scan(&p.MarketID, &p.ClipUsdc, &p.Shares, &p.DeltaProb, &ts); err != nil {
			return nil, fmt.Errorf("scan impact row: %w", err)
		}
		p.UpdatedAt = time.Unix(ts, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
