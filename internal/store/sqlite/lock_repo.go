package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/veldtlabs/market-indexer/internal/domain/model"
)

type LockRepo struct {
	db *DB
}

func NewLockRepo(db *DB) *LockRepo {
	return &LockRepo{db: db}
}

func (r *LockRepo) InsertIgnore(ctx context.Context, l *model.LockEvent) error {
	amounts, err := json.Marshal(l.Amounts)
	if err != nil {
		return fmt.Errorf("marshal lock amounts: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO locks
			(market_id, locker, kind, amount, amounts, sets_amount, user_paid, subsidy_used, actual_cost, block_number, tx_hash, log_index, block_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.MarketID, l.Locker, string(l.Kind), l.Amount, string(amounts),
		l.SetsAmount, l.UserPaid, l.SubsidyUsed, l.ActualCost,
		l.BlockNumber, l.TxHash, l.LogIndex, l.BlockTime.Unix())
	if err != nil {
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

// OutstandingBoost derives max(0, sum(sponsored actual_cost) - sum(unlock
// amount)) for a market. The sums run in SQL but the subtraction happens in
// big.Int space: amounts are TEXT and can exceed 64 bits.
func (r *LockRepo) OutstandingBoost(ctx context.Context, marketID string) (*big.Int, error) {
	sponsored, err := r.sumKind(ctx, marketID, model.LockKindSponsored, "actual_cost")
	if err != nil {
		return nil, err
	}
	unlocked, err := r.sumKind(ctx, marketID, model.LockKindUnlock, "amount")
	if err != nil {
		return nil, err
	}
	return model.ClampNonNegative(sponsored.Sub(sponsored, unlocked)), nil
}

func (r *LockRepo) sumKind(ctx context.Context, marketID string, kind model.LockKind, column string) (*big.Int, error) {
	// column is one of two fixed names, never user input.
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM locks WHERE market_id = ? AND kind = ?
	`, column), marketID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("sum %s locks: %w", kind, err)
	}
	defer rows.Close()

	total := new(big.Int)
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan lock amount: %w", err)
		}
		v, err := model.ParseAmount(s.String)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, rows.Err()
}
